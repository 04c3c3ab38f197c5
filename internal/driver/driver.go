// Package driver walks the postcode hierarchy and fans extraction tasks
// out to a fixed pool of workers.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/businessdata-uk/endole-crawler/internal/postcode"
	"github.com/businessdata-uk/endole-crawler/internal/progress"
	"github.com/businessdata-uk/endole-crawler/internal/scrape"
)

// Config controls the crawl driver.
type Config struct {
	Workers     int
	Granularity scrape.Granularity
}

// ExtractorFactory builds one Extractor per worker, so every worker owns
// its own browser session.
type ExtractorFactory func() (scrape.Extractor, error)

// Driver computes the pending task set and runs it to completion over a
// worker pool. A task failure is logged and counted; the key stays absent
// from the store and becomes eligible again on the next run.
type Driver struct {
	cfg     Config
	store   scrape.Store
	factory ExtractorFactory
	hub     *progress.Hub
	clock   scrape.Clock
	logger  *zap.Logger
}

// New builds a Driver.
func New(cfg Config, store scrape.Store, factory ExtractorFactory, hub *progress.Hub, clock scrape.Clock, logger *zap.Logger) (*Driver, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0")
	}
	switch cfg.Granularity {
	case scrape.GranularityOutward, scrape.GranularityFull:
	default:
		return nil, fmt.Errorf("unknown granularity %q", cfg.Granularity)
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("extractor factory is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		cfg:     cfg,
		store:   store,
		factory: factory,
		hub:     hub,
		clock:   clock,
		logger:  logger,
	}, nil
}

// PendingTasks returns the tasks for idx at the given granularity whose
// keys are not yet present in done. Keys match on the exact normalized
// upper-case form.
func PendingTasks(idx postcode.Index, done map[string]struct{}, granularity scrape.Granularity) []scrape.Task {
	var keys []string
	if granularity == scrape.GranularityOutward {
		keys = idx.Outwards()
	} else {
		keys = idx.FullKeys()
	}

	tasks := make([]scrape.Task, 0, len(keys))
	for _, key := range keys {
		if _, ok := done[key]; ok {
			continue
		}
		outward, inward := postcode.Split(key)
		tasks = append(tasks, scrape.Task{Outward: outward, Inward: inward})
	}
	return tasks
}

// Run executes all pending tasks for idx and blocks until they finish or
// the context is canceled.
func (d *Driver) Run(ctx context.Context, idx postcode.Index) (scrape.RunCounters, error) {
	runID := uuid.New()
	logger := d.logger.With(zap.String("run_id", runID.String()))
	start := d.clock.Now()

	done, err := d.store.DistinctPostcodes(ctx)
	if err != nil {
		return scrape.RunCounters{}, fmt.Errorf("load completed keys: %w", err)
	}
	tasks := PendingTasks(idx, done, d.cfg.Granularity)

	counters := scrape.RunCounters{}
	d.emitSkips(runID, idx, done, &counters)

	logger.Info("crawl run starting",
		zap.String("granularity", string(d.cfg.Granularity)),
		zap.Int("pending_tasks", len(tasks)),
		zap.Int("skipped_keys", counters.TasksSkipped),
		zap.Int("workers", d.cfg.Workers),
	)
	d.emit(progress.Event{RunID: runID, TS: start, Stage: progress.StageRunStart})

	if len(tasks) == 0 {
		d.emit(progress.Event{
			RunID: runID,
			TS:    d.clock.Now(),
			Stage: progress.StageRunDone,
			Dur:   d.clock.Now().Sub(start),
		})
		logger.Info("nothing pending, run complete")
		return counters, nil
	}

	taskCh := make(chan scrape.Task)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.runWorker(ctx, worker, runID, taskCh, &mu, &counters, logger)
		}(i)
	}

feed:
	for _, task := range tasks {
		select {
		case taskCh <- task:
		case <-ctx.Done():
			break feed
		}
	}
	close(taskCh)
	wg.Wait()

	d.emit(progress.Event{
		RunID: runID,
		TS:    d.clock.Now(),
		Stage: progress.StageRunDone,
		Dur:   d.clock.Now().Sub(start),
	})
	logger.Info("crawl run finished",
		zap.Int("succeeded", counters.TasksSucceeded),
		zap.Int("failed", counters.TasksFailed),
		zap.Int("records", counters.RecordsStored),
	)

	if ctx.Err() != nil {
		return counters, fmt.Errorf("crawl run interrupted: %w", ctx.Err())
	}
	return counters, nil
}

func (d *Driver) runWorker(
	ctx context.Context,
	worker int,
	runID uuid.UUID,
	taskCh <-chan scrape.Task,
	mu *sync.Mutex,
	counters *scrape.RunCounters,
	logger *zap.Logger,
) {
	extractor, err := d.factory()
	if err != nil {
		logger.Error("worker could not build extractor", zap.Int("worker", worker), zap.Error(err))
		// Drain so the feeder does not block on a dead worker.
		for range taskCh {
			mu.Lock()
			counters.TasksFailed++
			mu.Unlock()
		}
		return
	}
	defer d.closeExtractor(extractor, logger)

	for task := range taskCh {
		if ctx.Err() != nil {
			return
		}
		d.processTask(ctx, runID, extractor, task, mu, counters, logger)
	}
}

func (d *Driver) processTask(
	ctx context.Context,
	runID uuid.UUID,
	extractor scrape.Extractor,
	task scrape.Task,
	mu *sync.Mutex,
	counters *scrape.RunCounters,
	logger *zap.Logger,
) {
	key := task.Key()
	start := d.clock.Now()
	d.emit(progress.Event{RunID: runID, TS: start, Stage: progress.StageTaskStart, Key: key})

	records, err := extractor.Extract(ctx, task)
	if err != nil {
		d.failTask(runID, key, start, err, mu, counters, logger)
		return
	}

	stored := 0
	if len(records) > 0 {
		stored, err = d.store.UpsertRecords(ctx, records)
		if err != nil {
			// Records are dropped; the key stays pending for the next run.
			d.failTask(runID, key, start, fmt.Errorf("persist records: %w", err), mu, counters, logger)
			return
		}
	}

	mu.Lock()
	counters.TasksSucceeded++
	counters.RecordsStored += stored
	mu.Unlock()

	d.emit(progress.Event{
		RunID:   runID,
		TS:      d.clock.Now(),
		Stage:   progress.StageTaskDone,
		Key:     key,
		Records: stored,
		Dur:     d.clock.Now().Sub(start),
	})
}

func (d *Driver) failTask(
	runID uuid.UUID,
	key string,
	start time.Time,
	err error,
	mu *sync.Mutex,
	counters *scrape.RunCounters,
	logger *zap.Logger,
) {
	mu.Lock()
	counters.TasksFailed++
	mu.Unlock()

	logger.Warn("task failed", zap.String("key", key), zap.Error(err))
	d.emit(progress.Event{
		RunID: runID,
		TS:    d.clock.Now(),
		Stage: progress.StageTaskError,
		Key:   key,
		Dur:   d.clock.Now().Sub(start),
		Note:  err.Error(),
	})
}

func (d *Driver) emitSkips(runID uuid.UUID, idx postcode.Index, done map[string]struct{}, counters *scrape.RunCounters) {
	var keys []string
	if d.cfg.Granularity == scrape.GranularityOutward {
		keys = idx.Outwards()
	} else {
		keys = idx.FullKeys()
	}
	for _, key := range keys {
		if _, ok := done[key]; !ok {
			continue
		}
		counters.TasksSkipped++
		d.emit(progress.Event{RunID: runID, TS: d.clock.Now(), Stage: progress.StageTaskSkip, Key: key})
	}
}

func (d *Driver) closeExtractor(extractor scrape.Extractor, logger *zap.Logger) {
	closer, ok := extractor.(interface{ Close() error })
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn("extractor close failed", zap.Error(err))
	}
}

func (d *Driver) emit(evt progress.Event) {
	if d.hub == nil {
		return
	}
	d.hub.Emit(evt)
}

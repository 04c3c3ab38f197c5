package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/businessdata-uk/endole-crawler/internal/clock/system"
	"github.com/businessdata-uk/endole-crawler/internal/postcode"
	"github.com/businessdata-uk/endole-crawler/internal/progress"
	"github.com/businessdata-uk/endole-crawler/internal/scrape"
)

// fakeStore is an in-memory Store standing in for the SQLite sink.
type fakeStore struct {
	mu        sync.Mutex
	done      map[string]struct{}
	upserted  []scrape.BusinessRecord
	upsertErr error
}

func (s *fakeStore) Init(context.Context) error { return nil }

func (s *fakeStore) DistinctPostcodes(context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.done))
	for k := range s.done {
		out[k] = struct{}{}
	}
	return out, nil
}

func (s *fakeStore) UpsertRecords(_ context.Context, records []scrape.BusinessRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	s.upserted = append(s.upserted, records...)
	return len(records), nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) stored() []scrape.BusinessRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scrape.BusinessRecord(nil), s.upserted...)
}

// fakeExtractor routes Extract through a test-supplied function and records
// the keys it saw.
type fakeExtractor struct {
	mu      sync.Mutex
	extract func(task scrape.Task) ([]scrape.BusinessRecord, error)
	keys    []string
	closed  bool
}

func (e *fakeExtractor) Extract(_ context.Context, task scrape.Task) ([]scrape.BusinessRecord, error) {
	e.mu.Lock()
	e.keys = append(e.keys, task.Key())
	e.mu.Unlock()
	if e.extract == nil {
		return nil, nil
	}
	return e.extract(task)
}

func (e *fakeExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// captureSink collects every event the hub dispatches.
type captureSink struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureSink) Consume(_ context.Context, evt progress.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captureSink) Close(context.Context) error { return nil }

func (c *captureSink) stages() map[progress.Stage]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[progress.Stage]int{}
	for _, evt := range c.events {
		out[evt.Stage]++
	}
	return out
}

func newTestDriver(t *testing.T, cfg Config, store scrape.Store, factory ExtractorFactory, hub *progress.Hub) *Driver {
	t.Helper()
	d, err := New(cfg, store, factory, hub, system.New(), zap.NewNop())
	require.NoError(t, err)
	return d
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	factory := func() (scrape.Extractor, error) { return &fakeExtractor{}, nil }
	clock := system.New()

	_, err := New(Config{Workers: 0, Granularity: scrape.GranularityFull}, store, factory, nil, clock, nil)
	require.Error(t, err)

	_, err = New(Config{Workers: 1, Granularity: "bogus"}, store, factory, nil, clock, nil)
	require.Error(t, err)

	_, err = New(Config{Workers: 1, Granularity: scrape.GranularityFull}, nil, factory, nil, clock, nil)
	require.Error(t, err)

	_, err = New(Config{Workers: 1, Granularity: scrape.GranularityFull}, store, nil, nil, clock, nil)
	require.Error(t, err)
}

func TestPendingTasks(t *testing.T) {
	t.Parallel()

	idx := postcode.Index{"SE14": {"6AB", "5DX"}, "AB1": {"2CD"}}

	t.Run("outward granularity", func(t *testing.T) {
		tasks := PendingTasks(idx, nil, scrape.GranularityOutward)
		require.Len(t, tasks, 2)
		require.Equal(t, "AB1", tasks[0].Key())
		require.Equal(t, "SE14", tasks[1].Key())
	})

	t.Run("full granularity", func(t *testing.T) {
		tasks := PendingTasks(idx, nil, scrape.GranularityFull)
		require.Len(t, tasks, 3)
		require.Equal(t, "AB1-2CD", tasks[0].Key())
		require.Equal(t, "SE14-5DX", tasks[1].Key())
		require.Equal(t, "SE14-6AB", tasks[2].Key())
	})

	t.Run("done keys filtered on exact match", func(t *testing.T) {
		done := map[string]struct{}{"SE14-6AB": {}, "SE14": {}}
		tasks := PendingTasks(idx, done, scrape.GranularityFull)
		require.Len(t, tasks, 2)
		require.Equal(t, "AB1-2CD", tasks[0].Key())
		require.Equal(t, "SE14-5DX", tasks[1].Key())
	})
}

func TestRunSkipsCompletedKeys(t *testing.T) {
	t.Parallel()

	idx := postcode.Index{"SE14": {"6AB"}, "AB1": {"2CD"}}
	store := &fakeStore{done: map[string]struct{}{"SE14-6AB": {}, "AB1-2CD": {}}}
	factory := func() (scrape.Extractor, error) {
		t.Error("no extractor should be built when every key is done")
		return &fakeExtractor{}, nil
	}
	sink := &captureSink{}
	hub := progress.NewHub(progress.Config{}, sink)

	d := newTestDriver(t, Config{Workers: 2, Granularity: scrape.GranularityFull}, store, factory, hub)

	counters, err := d.Run(context.Background(), idx)
	require.NoError(t, err)
	require.NoError(t, hub.Close(context.Background()))

	require.Equal(t, 2, counters.TasksSkipped)
	require.Zero(t, counters.TasksSucceeded)
	require.Zero(t, counters.TasksFailed)

	stages := sink.stages()
	require.Equal(t, 2, stages[progress.StageTaskSkip])
	require.Equal(t, 1, stages[progress.StageRunStart])
	require.Equal(t, 1, stages[progress.StageRunDone])
}

func TestRunStoresExtractedRecords(t *testing.T) {
	t.Parallel()

	idx := postcode.Index{"SE14": {"6AB", "5DX"}}
	store := &fakeStore{}
	extractor := &fakeExtractor{
		extract: func(task scrape.Task) ([]scrape.BusinessRecord, error) {
			return []scrape.BusinessRecord{
				{Company: "LTD FOR " + task.Key(), Postcode: task.Key(), ScrapedAt: time.Now()},
			}, nil
		},
	}
	factory := func() (scrape.Extractor, error) { return extractor, nil }

	d := newTestDriver(t, Config{Workers: 1, Granularity: scrape.GranularityFull}, store, factory, nil)

	counters, err := d.Run(context.Background(), idx)
	require.NoError(t, err)

	require.Equal(t, 2, counters.TasksSucceeded)
	require.Equal(t, 2, counters.RecordsStored)
	require.Len(t, store.stored(), 2)
	require.ElementsMatch(t, []string{"SE14-5DX", "SE14-6AB"}, extractor.keys)
	require.True(t, extractor.closed, "worker must close its extractor")
}

func TestRunTaskFailureDoesNotBlockSiblings(t *testing.T) {
	t.Parallel()

	idx := postcode.Index{"SE14": {"6AB", "5DX"}, "AB1": {"2CD"}}
	store := &fakeStore{}
	factory := func() (scrape.Extractor, error) {
		return &fakeExtractor{
			extract: func(task scrape.Task) ([]scrape.BusinessRecord, error) {
				if task.Key() == "SE14-6AB" {
					return nil, errors.New("portal served a captcha")
				}
				return []scrape.BusinessRecord{{Company: task.Key() + " LTD"}}, nil
			},
		}, nil
	}

	d := newTestDriver(t, Config{Workers: 3, Granularity: scrape.GranularityFull}, store, factory, nil)

	counters, err := d.Run(context.Background(), idx)
	require.NoError(t, err)

	require.Equal(t, 2, counters.TasksSucceeded)
	require.Equal(t, 1, counters.TasksFailed)
	require.Len(t, store.stored(), 2)
}

func TestRunPersistFailureDropsRecords(t *testing.T) {
	t.Parallel()

	idx := postcode.Index{"SE14": {"6AB"}}
	store := &fakeStore{upsertErr: errors.New("disk full")}
	factory := func() (scrape.Extractor, error) {
		return &fakeExtractor{
			extract: func(scrape.Task) ([]scrape.BusinessRecord, error) {
				return []scrape.BusinessRecord{{Company: "ACME LTD"}}, nil
			},
		}, nil
	}

	d := newTestDriver(t, Config{Workers: 1, Granularity: scrape.GranularityFull}, store, factory, nil)

	counters, err := d.Run(context.Background(), idx)
	require.NoError(t, err)

	require.Zero(t, counters.TasksSucceeded)
	require.Equal(t, 1, counters.TasksFailed)
	require.Zero(t, counters.RecordsStored)
}

func TestRunFactoryFailureCountsAllTasksFailed(t *testing.T) {
	t.Parallel()

	idx := postcode.Index{"SE14": {"6AB", "5DX"}}
	store := &fakeStore{}
	factory := func() (scrape.Extractor, error) {
		return nil, errors.New("chrome missing")
	}

	d := newTestDriver(t, Config{Workers: 1, Granularity: scrape.GranularityFull}, store, factory, nil)

	counters, err := d.Run(context.Background(), idx)
	require.NoError(t, err)
	require.Equal(t, 2, counters.TasksFailed)
	require.Zero(t, counters.TasksSucceeded)
}

func TestRunHonorsContextCancel(t *testing.T) {
	t.Parallel()

	idx := postcode.Index{"SE14": {"6AB", "5DX", "4AA", "3BB"}}
	store := &fakeStore{}

	ctx, cancel := context.WithCancel(context.Background())
	factory := func() (scrape.Extractor, error) {
		return &fakeExtractor{
			extract: func(scrape.Task) ([]scrape.BusinessRecord, error) {
				cancel()
				return nil, nil
			},
		}, nil
	}

	d := newTestDriver(t, Config{Workers: 1, Granularity: scrape.GranularityFull}, store, factory, nil)

	_, err := d.Run(ctx, idx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

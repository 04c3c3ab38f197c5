package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/businessdata-uk/endole-crawler/internal/progress"
)

// Snapshot is a point-in-time view of the current run, served by the
// status API.
type Snapshot struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	FinishedAt     time.Time `json:"finished_at,omitempty"`
	TasksSucceeded int       `json:"tasks_succeeded"`
	TasksFailed    int       `json:"tasks_failed"`
	TasksSkipped   int       `json:"tasks_skipped"`
	RecordsStored  int       `json:"records_stored"`
	LastKey        string    `json:"last_key,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// SnapshotSink folds events into a Snapshot queryable over HTTP.
type SnapshotSink struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewSnapshotSink builds a SnapshotSink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{}
}

// Consume folds one event into the snapshot.
func (s *SnapshotSink) Consume(_ context.Context, evt progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch evt.Stage {
	case progress.StageRunStart:
		s.snap = Snapshot{RunID: evt.RunID.String(), StartedAt: evt.TS}
	case progress.StageRunDone:
		s.snap.FinishedAt = evt.TS
	case progress.StageTaskDone:
		s.snap.TasksSucceeded++
		s.snap.RecordsStored += evt.Records
		s.snap.LastKey = evt.Key
	case progress.StageTaskError:
		s.snap.TasksFailed++
		s.snap.LastKey = evt.Key
		s.snap.LastError = evt.Note
	case progress.StageTaskSkip:
		s.snap.TasksSkipped++
	}
	return nil
}

// Current returns a copy of the snapshot.
func (s *SnapshotSink) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Close implements progress.Sink.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}

// Package progress fans run and task milestones out to logging, metrics,
// and status sinks without blocking the workers that emit them.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StageTaskStart    Stage = "TASK_START"
	StageTaskDone     Stage = "TASK_DONE"
	StageTaskError    Stage = "TASK_ERROR"
	StageTaskSkip     Stage = "TASK_SKIP"
	StageEgressRotate Stage = "EGRESS_ROTATE"
)

// Event captures a single milestone in a crawl run.
type Event struct {
	// RunID identifies the crawl run the event belongs to.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage is the milestone type.
	Stage Stage
	// Key is the postcode key for task-scoped events.
	Key string
	// Records is the number of rows stored for TASK_DONE events.
	Records int
	// Dur is the wall time of the completed task or run.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

var validStages = map[Stage]struct{}{
	StageRunStart:     {},
	StageRunDone:      {},
	StageTaskStart:    {},
	StageTaskDone:     {},
	StageTaskError:    {},
	StageTaskSkip:     {},
	StageEgressRotate: {},
}

// Validate reports whether the event is well formed enough to fan out.
func (e Event) Validate() error {
	if _, ok := validStages[e.Stage]; !ok {
		return fmt.Errorf("unknown progress stage %q", e.Stage)
	}
	if e.TS.IsZero() {
		return errors.New("progress event has no timestamp")
	}
	return nil
}

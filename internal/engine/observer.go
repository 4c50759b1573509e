package engine

import (
	"time"

	"github.com/scrypster/recollect/pkg/types"
)

// StepEventKind classifies a pipeline progress event.
type StepEventKind string

const (
	// KindQueued is emitted when a document is queued or requeued.
	KindQueued StepEventKind = "queued"

	// KindStepStarted is emitted when a step begins.
	KindStepStarted StepEventKind = "step_started"

	// KindStepCompleted is emitted when a step body returns without error.
	KindStepCompleted StepEventKind = "step_completed"

	// KindStepFailed is emitted when a step body fails.
	KindStepFailed StepEventKind = "step_failed"

	// KindFinished is emitted once a run ends in done or failed.
	KindFinished StepEventKind = "finished"
)

// StepEvent is a single pipeline progress notification.
type StepEvent struct {
	Kind       StepEventKind        `json:"kind"`
	At         time.Time            `json:"at"`
	DocumentID string               `json:"document_id"`
	SpaceID    string               `json:"space_id"`
	Step       string               `json:"step,omitempty"`
	Status     types.DocumentStatus `json:"status"`
	Error      string               `json:"error,omitempty"`
}

// Observer receives pipeline progress events. Implementations must not
// block; they run on the worker goroutine.
type Observer interface {
	StepEvent(ev StepEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev StepEvent)

// StepEvent calls f.
func (f ObserverFunc) StepEvent(ev StepEvent) { f(ev) }

type nopObserver struct{}

func (nopObserver) StepEvent(StepEvent) {}

func newStepEvent(kind StepEventKind, doc *types.Document, step string, status types.DocumentStatus) StepEvent {
	return StepEvent{
		Kind:       kind,
		At:         time.Now().UTC(),
		DocumentID: doc.ID,
		SpaceID:    doc.SpaceID,
		Step:       step,
		Status:     status,
	}
}

package pipeline

import "time"

// EventType identifies a point in the life of a run.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventStageStarted  EventType = "stage_started"
	EventStageFinished EventType = "stage_finished"
	EventRunFinished   EventType = "run_finished"
)

// Event is delivered synchronously to observers registered with
// WithObserver. Stage and Result are nil for run-level events; Result is set
// only for EventStageFinished.
type Event struct {
	Type       EventType
	StageIndex int
	Total      int
	Stage      *Stage
	Result     *Result
	Timestamp  time.Time
}

// Observer receives driver events. It runs on the driver goroutine and must
// not block for long.
type Observer func(Event)

package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
	Topic() string
}

// Topic constants
const (
	TopicTask = "task"
	TopicStep = "step"
)

// Event type constants
const (
	EventTypeTaskSubmitted = "task.submitted"
	EventTypeTaskPhase     = "task.phase"
	EventTypeStepStarted   = "step.started"
	EventTypeStepFinished  = "step.finished"
)

// TaskSubmittedEvent is published when a task is accepted.
type TaskSubmittedEvent struct {
	ID        string
	Query     string
	Files     []string
	Timestamp time.Time
}

func (e TaskSubmittedEvent) EventType() string { return EventTypeTaskSubmitted }
func (e TaskSubmittedEvent) TaskID() string    { return e.ID }
func (e TaskSubmittedEvent) Topic() string     { return TopicTask }

// TaskPhaseEvent is published on every lifecycle transition. Err is set
// only for the failed phase.
type TaskPhaseEvent struct {
	ID        string
	Phase     string
	Details   string
	Err       string
	Timestamp time.Time
}

func (e TaskPhaseEvent) EventType() string { return EventTypeTaskPhase }
func (e TaskPhaseEvent) TaskID() string    { return e.ID }
func (e TaskPhaseEvent) Topic() string     { return TopicTask }

// StepStartedEvent is published before a plan step's tool runs.
type StepStartedEvent struct {
	ID        string
	Index     int
	ToolName  string
	Timestamp time.Time
}

func (e StepStartedEvent) EventType() string { return EventTypeStepStarted }
func (e StepStartedEvent) TaskID() string    { return e.ID }
func (e StepStartedEvent) Topic() string     { return TopicStep }

// StepFinishedEvent is published once a step has a recorded result.
type StepFinishedEvent struct {
	ID        string
	Index     int
	ToolName  string
	Status    string
	Err       string
	Elapsed   time.Duration
	Timestamp time.Time
}

func (e StepFinishedEvent) EventType() string { return EventTypeStepFinished }
func (e StepFinishedEvent) TaskID() string    { return e.ID }
func (e StepFinishedEvent) Topic() string     { return TopicStep }

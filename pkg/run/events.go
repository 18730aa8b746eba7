package run

import "time"

// EventType identifies a progress event emitted during a run.
type EventType string

const (
	// EventRunStart is emitted once when a run record has been created and
	// execution begins. It goes to the engine-level sinks only; streaming
	// callers already hold the run id when their channel opens.
	EventRunStart EventType = "run_start"
	// EventStep is emitted once per persisted agent step.
	EventStep EventType = "step"
	// EventNodeStart and EventNodeComplete bracket a workflow node execution.
	EventNodeStart    EventType = "node_start"
	EventNodeComplete EventType = "node_complete"
	// EventApprovalNeeded is emitted when a run suspends on an approval gate.
	EventApprovalNeeded EventType = "approval_needed"
	// EventComplete and EventError terminate a run's stream.
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is the progress record streamed to clients while a run executes.
// External consumers drive their UI state directly from this shape, so it is
// part of the core contract.
type Event struct {
	Type       EventType        `json:"event_type"`
	RunID      string           `json:"run_id"`
	NodeID     string           `json:"node_id,omitempty"`
	Status     Status           `json:"status,omitempty"`
	Step       *AgentRunStep    `json:"step,omitempty"`
	NodeResult *NodeResult      `json:"node_result,omitempty"`
	Approval   *ApprovalRequest `json:"approval_request,omitempty"`
	Output     interface{}      `json:"final_output,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"duration_ms,omitempty"`
	Seq        uint64           `json:"seq,omitempty"`
	Timestamp  int64            `json:"timestamp"`
}

// Terminal reports whether this event ends the run's stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// EventSink receives progress events. Implementations must not block the
// emitting run for long; slow consumers should buffer or drop.
type EventSink interface {
	Emit(event Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(event Event)

func (f SinkFunc) Emit(event Event) { f(event) }

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// ChanSink forwards events into a channel. Emit drops the event when the
// buffer is full rather than blocking the run.
type ChanSink chan Event

func (c ChanSink) Emit(event Event) {
	select {
	case c <- event:
	default:
	}
}

type multiSink []EventSink

func (m multiSink) Emit(event Event) {
	for _, s := range m {
		s.Emit(event)
	}
}

// CombineSinks fans every event out to all given sinks, skipping nils.
func CombineSinks(sinks ...EventSink) EventSink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, runID string) Event {
	return Event{Type: t, RunID: runID, Timestamp: time.Now().UnixMilli()}
}

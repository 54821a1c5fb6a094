package engine

import "github.com/chalkline/agentkit/kernel/model"

// State names one turn-loop phase.
type State string

const (
	StateIdle                State = "idle"
	StateAwaitingModel       State = "awaiting_model"
	StateAccumulating        State = "accumulating"
	StateInspectingToolCalls State = "inspecting_tool_calls"
	StateExecutingTools      State = "executing_tools"
	StateTerminated          State = "terminated"
)

// turnState is mutated only by the engine's run loop. Collaborators see
// read-only snapshots.
type turnState struct {
	state      State
	turns      int
	usage      model.Usage
	pending    map[string]model.ToolCall
	stopReason StopReason
	stopDetail string
}

func newTurnState() *turnState {
	return &turnState{state: StateIdle, pending: make(map[string]model.ToolCall)}
}

func (t *turnState) transition(next State) {
	t.state = next
}

func (t *turnState) beginBatch(calls []model.ToolCall) {
	clear(t.pending)
	for _, call := range calls {
		t.pending[call.ID] = call
	}
}

func (t *turnState) settle(callID string) {
	delete(t.pending, callID)
}

func (t *turnState) terminate(reason StopReason, detail string) {
	t.state = StateTerminated
	t.stopReason = reason
	t.stopDetail = detail
	clear(t.pending)
}

// Snapshot is the read-only view of turn state handed to collaborators.
type Snapshot struct {
	State        State
	Turns        int
	Usage        model.Usage
	PendingCalls []string
	StopReason   StopReason
	StopDetail   string
}

func (t *turnState) snapshot() Snapshot {
	pending := make([]string, 0, len(t.pending))
	for id := range t.pending {
		pending = append(pending, id)
	}
	return Snapshot{
		State:        t.state,
		Turns:        t.turns,
		Usage:        t.usage,
		PendingCalls: pending,
		StopReason:   t.stopReason,
		StopDetail:   t.stopDetail,
	}
}

// Package stream folds provider stream events into canonical messages.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/chalkline/agentkit/kernel/model"
)

// Violation records a provider event that broke the stream contract. The
// accumulator keeps going; violations surface on the result for callers
// that want to flag a misbehaving adapter.
type Violation struct {
	Kind   model.EventKind
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Reason)
}

// Result is a fully accumulated assistant message plus its terminal
// metadata from the message-end event.
type Result struct {
	Message    model.Message
	StopReason model.StopReason
	Usage      model.Usage
	Model      string
	Provider   string
	Violations []Violation
}

type openCall struct {
	name string
	buf  []byte
}

// Accumulator builds one assistant message from a stream of events. It
// holds no cross-message state; use a fresh one per request.
type Accumulator struct {
	segments   []model.Segment
	open       map[string]*openCall
	openOrder  []string
	done       bool
	result     Result
	err        error
	violations []Violation
}

func NewAccumulator() *Accumulator {
	return &Accumulator{open: make(map[string]*openCall)}
}

// Add folds one event into the in-progress message. Events arriving after
// message-end are recorded as violations and otherwise ignored.
func (a *Accumulator) Add(ev *model.StreamEvent) {
	if ev == nil {
		return
	}
	if a.done {
		a.violate(ev.Kind, "event after message_end")
		return
	}
	switch ev.Kind {
	case model.EventTextDelta:
		a.appendDelta(model.SegmentText, ev.Delta)
	case model.EventReasoningDelta:
		a.appendDelta(model.SegmentReasoning, ev.Delta)
	case model.EventToolCallStart:
		if _, exists := a.open[ev.CallID]; exists {
			a.violate(ev.Kind, fmt.Sprintf("duplicate tool_call_start for id %q", ev.CallID))
			return
		}
		a.open[ev.CallID] = &openCall{name: ev.ToolName}
		a.openOrder = append(a.openOrder, ev.CallID)
	case model.EventToolCallDelta:
		call, ok := a.open[ev.CallID]
		if !ok {
			a.violate(ev.Kind, fmt.Sprintf("tool_call_delta for unknown id %q", ev.CallID))
			return
		}
		call.buf = append(call.buf, ev.Delta...)
	case model.EventToolCallEnd:
		call, ok := a.open[ev.CallID]
		if !ok {
			a.violate(ev.Kind, fmt.Sprintf("tool_call_end for unknown id %q", ev.CallID))
			return
		}
		delete(a.open, ev.CallID)
		a.segments = append(a.segments, model.ToolCallSegment(finalizeCall(ev.CallID, call)))
	case model.EventMessageEnd:
		// Close stragglers in the order their start events arrived.
		for _, id := range a.openOrder {
			call, ok := a.open[id]
			if !ok {
				continue
			}
			a.violate(ev.Kind, fmt.Sprintf("tool call %q never closed", id))
			a.segments = append(a.segments, model.ToolCallSegment(finalizeCall(id, call)))
		}
		clear(a.open)
		a.openOrder = a.openOrder[:0]
		a.done = true
		a.result.StopReason = ev.StopReason
		a.result.Usage = ev.Usage
		a.result.Model = ev.Model
		a.result.Provider = ev.Provider
	case model.EventError:
		if ev.Err != nil {
			a.err = ev.Err
		} else {
			a.err = errors.New("provider stream error")
		}
	default:
		a.violate(ev.Kind, "unknown event kind")
	}
}

// Finalize returns the accumulated result. It fails when the stream
// reported an error or ended without a message-end event.
func (a *Accumulator) Finalize() (*Result, error) {
	if a.err != nil {
		return nil, a.err
	}
	if !a.done {
		return nil, errors.New("stream ended without message_end")
	}
	a.result.Message = model.Message{Role: model.RoleAssistant, Segments: a.segments}
	a.result.Violations = a.violations
	return &a.result, nil
}

// Collect drains a provider stream into a fresh accumulator and finalizes.
func Collect(seq iter.Seq2[*model.StreamEvent, error]) (*Result, error) {
	acc := NewAccumulator()
	for ev, err := range seq {
		if err != nil {
			return nil, err
		}
		acc.Add(ev)
	}
	return acc.Finalize()
}

func (a *Accumulator) appendDelta(kind model.SegmentKind, delta string) {
	if n := len(a.segments); n > 0 && a.segments[n-1].Kind == kind {
		a.segments[n-1].Text += delta
		return
	}
	a.segments = append(a.segments, model.Segment{Kind: kind, Text: delta})
}

func (a *Accumulator) violate(kind model.EventKind, reason string) {
	a.violations = append(a.violations, Violation{Kind: kind, Reason: reason})
}

// finalizeCall parses the buffered input fragments. Unparseable input is
// kept raw and flagged, never dropped: the engine reports it back to the
// model as an in-band tool error.
func finalizeCall(id string, call *openCall) model.ToolCall {
	out := model.ToolCall{ID: id, Name: call.name}
	if len(call.buf) == 0 {
		out.Input = map[string]any{}
		return out
	}
	var input map[string]any
	if err := json.Unmarshal(call.buf, &input); err != nil {
		out.RawInput = string(call.buf)
		out.Malformed = true
		return out
	}
	out.Input = input
	return out
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/chalkline/agentkit/kernel/engine"
	"github.com/chalkline/agentkit/kernel/model"
)

const toolSummaryLimit = 160

// renderState tracks the open streaming line so deltas append instead of
// restarting, and switches lines when the channel changes.
type renderState struct {
	out            io.Writer
	showReasoning  bool
	partialOpen    bool
	partialChannel string
	sawDeltaText   bool
}

func newRenderState(out io.Writer, showReasoning bool) *renderState {
	return &renderState{out: out, showReasoning: showReasoning}
}

func (r *renderState) printEvent(ev *engine.Event) {
	if ev == nil {
		return
	}
	switch ev.Kind {
	case engine.EventDelta:
		r.printDelta(ev.Delta)
	case engine.EventMessage:
		r.closePartial()
		r.printMessage(ev.Message)
	case engine.EventTerminal:
		r.closePartial()
		r.printTerminal(ev)
	}
}

func (r *renderState) printDelta(delta *model.StreamEvent) {
	if delta == nil {
		return
	}
	var channel, chunk string
	switch delta.Kind {
	case model.EventTextDelta:
		channel, chunk = "answer", delta.Delta
	case model.EventReasoningDelta:
		if !r.showReasoning {
			return
		}
		channel, chunk = "reasoning", delta.Delta
	default:
		return
	}
	if chunk == "" {
		return
	}
	if r.partialOpen && r.partialChannel != channel {
		fmt.Fprintln(r.out)
		r.partialOpen = false
	}
	if !r.partialOpen {
		if channel == "reasoning" {
			fmt.Fprint(r.out, "~ ")
		} else {
			fmt.Fprint(r.out, "* ")
		}
	}
	fmt.Fprint(r.out, chunk)
	r.partialOpen = true
	r.partialChannel = channel
	if channel == "answer" {
		r.sawDeltaText = true
	}
}

func (r *renderState) printMessage(msg *model.Message) {
	if msg == nil || msg.Role == model.RoleUser {
		return
	}
	for _, seg := range msg.Segments {
		switch seg.Kind {
		case model.SegmentText:
			switch msg.Role {
			case model.RoleAssistant:
				// Already on screen when deltas streamed it.
				if !r.sawDeltaText && seg.Text != "" {
					fmt.Fprintf(r.out, "* %s\n", seg.Text)
				}
			case model.RoleSkill:
				fmt.Fprintf(r.out, "# %s\n", seg.Text)
			}
		case model.SegmentToolCall:
			call := seg.ToolCall
			fmt.Fprintf(r.out, "+ %s %s\n", call.Name, summarizeJSON(call.Input))
		case model.SegmentToolResult:
			res := seg.ToolResult
			marker := "="
			if res.IsError {
				marker = "x"
			}
			fmt.Fprintf(r.out, "%s %s %s\n", marker, res.Name, summarizeJSON(res.Output))
		}
	}
	if msg.Role == model.RoleAssistant {
		r.sawDeltaText = false
	}
}

func (r *renderState) printTerminal(ev *engine.Event) {
	if ev.StopReason == engine.StopNormal {
		return
	}
	if ev.Detail != "" {
		fmt.Fprintf(r.out, "! stopped: %s (%s)\n", ev.StopReason, ev.Detail)
		return
	}
	fmt.Fprintf(r.out, "! stopped: %s\n", ev.StopReason)
}

func (r *renderState) closePartial() {
	if r.partialOpen {
		fmt.Fprintln(r.out)
		r.partialOpen = false
	}
}

func summarizeJSON(value map[string]any) string {
	if len(value) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	text := string(raw)
	if len(text) > toolSummaryLimit {
		text = text[:toolSummaryLimit] + "..."
	}
	return strings.ReplaceAll(text, "\n", " ")
}

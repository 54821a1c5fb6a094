package model

import (
	"context"
	"iter"
	"strings"
)

// Role identifies message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	// RoleSkill marks messages synthesized by the skill dispatcher. They
	// stay in session order like any other message; only the hidden variant
	// is forwarded to the model as input.
	RoleSkill Role = "skill"
)

// SegmentKind tags one content segment variant.
type SegmentKind string

const (
	SegmentText       SegmentKind = "text"
	SegmentReasoning  SegmentKind = "reasoning"
	SegmentToolCall   SegmentKind = "tool_call"
	SegmentToolResult SegmentKind = "tool_result"
)

// ToolCall is a model-emitted tool invocation request.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
	// RawInput keeps the buffered input fragments when they did not parse
	// as structured data. Input is nil in that case and Malformed is set.
	RawInput  string
	Malformed bool
}

// ToolResult is a tool execution outcome paired to a prior ToolCall by ID.
type ToolResult struct {
	ID      string
	Name    string
	Output  map[string]any
	IsError bool
}

// Segment is one element of a message's ordered content sequence. Kind
// selects the active variant; Text carries both text and reasoning content.
type Segment struct {
	Kind       SegmentKind
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

func TextSegment(text string) Segment {
	return Segment{Kind: SegmentText, Text: text}
}

func ReasoningSegment(text string) Segment {
	return Segment{Kind: SegmentReasoning, Text: text}
}

func ToolCallSegment(call ToolCall) Segment {
	return Segment{Kind: SegmentToolCall, ToolCall: &call}
}

func ToolResultSegment(result ToolResult) Segment {
	return Segment{Kind: SegmentToolResult, ToolResult: &result}
}

// Message is a single turn element in model context. Once appended to
// session history it must be treated as immutable.
type Message struct {
	Role     Role
	Segments []Segment
	// Hidden marks skill-injected content that is sent to the model but not
	// surfaced to external observers. A visible RoleSkill message is the
	// inverse: observer-facing, excluded from model input.
	Hidden bool
}

// Text returns the concatenation of all text segments in order.
func (m Message) Text() string {
	var b strings.Builder
	for _, seg := range m.Segments {
		if seg.Kind == SegmentText {
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

// Reasoning returns the concatenation of all reasoning segments in order.
func (m Message) Reasoning() string {
	var b strings.Builder
	for _, seg := range m.Segments {
		if seg.Kind == SegmentReasoning {
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool-call segments in completion order.
func (m Message) ToolCalls() []ToolCall {
	var out []ToolCall
	for _, seg := range m.Segments {
		if seg.Kind == SegmentToolCall && seg.ToolCall != nil {
			out = append(out, *seg.ToolCall)
		}
	}
	return out
}

// ToolResults returns the tool-result segments in order.
func (m Message) ToolResults() []ToolResult {
	var out []ToolResult
	for _, seg := range m.Segments {
		if seg.Kind == SegmentToolResult && seg.ToolResult != nil {
			out = append(out, *seg.ToolResult)
		}
	}
	return out
}

// UserText builds a plain-text user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Segments: []Segment{TextSegment(text)}}
}

// StopReason reports why a provider finished one message.
type StopReason string

const (
	StopEndTurn       StopReason = "end_turn"
	StopToolUse       StopReason = "tool_use"
	StopMaxTokens     StopReason = "max_tokens"
	StopContentFilter StopReason = "content_filter"
	StopError         StopReason = "error"
)

// Terminal reports whether the stop reason ends the turn loop when no tool
// calls are pending.
func (r StopReason) Terminal() bool {
	return r != StopToolUse
}

// Usage reports model token usage (best-effort).
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates another usage snapshot.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// EventKind tags one stream event variant.
type EventKind string

const (
	EventTextDelta      EventKind = "text_delta"
	EventReasoningDelta EventKind = "reasoning_delta"
	EventToolCallStart  EventKind = "tool_call_start"
	EventToolCallDelta  EventKind = "tool_call_delta"
	EventToolCallEnd    EventKind = "tool_call_end"
	EventMessageEnd     EventKind = "message_end"
	EventError          EventKind = "error"
)

// StreamEvent is one provider-normalized unit of an in-flight message.
// Adapters guarantee per-call-id ordering and exactly one EventMessageEnd
// per request.
type StreamEvent struct {
	Kind EventKind

	// Delta carries text, reasoning, or a raw tool-input fragment.
	Delta string

	// CallID and ToolName identify the tool call for the three tool-call
	// event kinds; only CallID is required after the start event.
	CallID   string
	ToolName string

	// Terminal fields, set on EventMessageEnd.
	StopReason StopReason
	Usage      Usage
	Model      string
	Provider   string

	// Err is set on EventError.
	Err error
}

// ToolDefinition describes a callable tool for model planning.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ReasoningConfig controls provider reasoning/thinking behavior.
type ReasoningConfig struct {
	// Enabled toggles reasoning mode when supported by provider.
	Enabled *bool
	// BudgetTokens limits provider thinking tokens when supported.
	BudgetTokens int
	// Effort is provider-specific reasoning effort hint, e.g. low|medium|high.
	Effort string
}

// Request is a provider-agnostic model request.
type Request struct {
	Messages []Message
	Tools    []ToolDefinition
	// Model overrides the adapter's configured default when non-empty.
	Model     string
	Reasoning ReasoningConfig
}

// LLM is the provider adapter abstraction used by the engine.
type LLM interface {
	Name() string
	Stream(context.Context, *Request) iter.Seq2[*StreamEvent, error]
}

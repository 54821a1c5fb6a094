package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chalkline/agentkit/kernel/model"
)

// openAICompatLLM speaks the Chat Completions dialect: OpenAI itself plus
// any provider exposing a compatible endpoint via BaseURL.
type openAICompatLLM struct {
	provider     string
	model        string
	client       *openai.Client
	maxOutputTok int
	maxRetries   int
	// reasoningContent surfaces reasoning_content deltas emitted by
	// DeepSeek-style endpoints.
	reasoningContent bool
}

func newOpenAICompat(cfg Config, token string) *openAICompatLLM {
	clientCfg := openai.DefaultConfig(token)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAICompatLLM{
		provider:     cfg.Provider,
		model:        cfg.Model,
		client:       openai.NewClientWithConfig(clientCfg),
		maxOutputTok: cfg.MaxOutputTok,
		maxRetries:   cfg.MaxRetries,
	}
}

func (l *openAICompatLLM) Name() string {
	return l.model
}

func (l *openAICompatLLM) Stream(ctx context.Context, req *model.Request) iter.Seq2[*model.StreamEvent, error] {
	if req == nil {
		return func(yield func(*model.StreamEvent, error) bool) {
			yield(nil, fmt.Errorf("providers: request is nil"))
		}
	}
	oaiReq := l.buildRequest(req)
	return retryStream(ctx, l.maxRetries, func(ctx context.Context, emit func(*model.StreamEvent) bool) error {
		return l.streamOnce(ctx, oaiReq, emit)
	})
}

func (l *openAICompatLLM) buildRequest(req *model.Request) openai.ChatCompletionRequest {
	name := l.model
	if req.Model != "" {
		name = req.Model
	}
	out := openai.ChatCompletionRequest{
		Model:    name,
		Messages: openAIMessages(req.Messages),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if l.maxOutputTok > 0 {
		out.MaxCompletionTokens = l.maxOutputTok
	}
	if tools := openAITools(req.Tools); len(tools) > 0 {
		out.Tools = tools
	}
	if req.Reasoning.Effort != "" {
		out.ReasoningEffort = req.Reasoning.Effort
	}
	return out
}

// partialToolCall accumulates one streamed tool call by choice index.
type partialToolCall struct {
	id      string
	started bool
}

func (l *openAICompatLLM) streamOnce(ctx context.Context, req openai.ChatCompletionRequest, emit func(*model.StreamEvent) bool) error {
	stream, err := l.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	calls := map[int]*partialToolCall{}
	finish := ""
	var usage model.Usage
	var modelName string

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if resp.Model != "" {
			modelName = resp.Model
		}
		if resp.Usage != nil {
			usage = model.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			finish = string(choice.FinishReason)
		}
		if choice.Delta.Content != "" {
			if !emit(&model.StreamEvent{Kind: model.EventTextDelta, Delta: choice.Delta.Content}) {
				return nil
			}
		}
		if l.reasoningContent && choice.Delta.ReasoningContent != "" {
			if !emit(&model.StreamEvent{Kind: model.EventReasoningDelta, Delta: choice.Delta.ReasoningContent}) {
				return nil
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call := calls[idx]
			if call == nil {
				call = &partialToolCall{}
				calls[idx] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if !call.started && tc.Function.Name != "" {
				call.started = true
				if call.id == "" {
					call.id = fmt.Sprintf("call_%d", idx)
				}
				if !emit(&model.StreamEvent{Kind: model.EventToolCallStart, CallID: call.id, ToolName: tc.Function.Name}) {
					return nil
				}
			}
			if call.started && tc.Function.Arguments != "" {
				if !emit(&model.StreamEvent{Kind: model.EventToolCallDelta, CallID: call.id, Delta: tc.Function.Arguments}) {
					return nil
				}
			}
		}
	}

	// Close open calls in choice index order.
	indices := make([]int, 0, len(calls))
	for idx, call := range calls {
		if call.started {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)
	for _, idx := range indices {
		if !emit(&model.StreamEvent{Kind: model.EventToolCallEnd, CallID: calls[idx].id}) {
			return nil
		}
	}

	stop := openAIStopReason(finish)
	if len(indices) > 0 {
		stop = model.StopToolUse
	}
	emit(&model.StreamEvent{
		Kind:       model.EventMessageEnd,
		StopReason: stop,
		Usage:      usage,
		Model:      modelName,
		Provider:   l.provider,
	})
	return nil
}

func openAIStopReason(finish string) model.StopReason {
	switch finish {
	case "tool_calls", "function_call":
		return model.StopToolUse
	case "length":
		return model.StopMaxTokens
	case "content_filter":
		return model.StopContentFilter
	default:
		return model.StopEndTurn
	}
}

func openAIMessages(messages []model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.Text(),
			})
		case model.RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Text(),
			})
		case model.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Text(),
			}
			for _, call := range m.ToolCalls() {
				args, _ := json.Marshal(call.Input)
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, msg)
		case model.RoleTool:
			// Chat Completions wants one tool message per result.
			for _, res := range m.ToolResults() {
				raw, _ := json.Marshal(res.Output)
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    string(raw),
					ToolCallID: res.ID,
				})
			}
		}
	}
	return out
}

func openAITools(tools []model.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

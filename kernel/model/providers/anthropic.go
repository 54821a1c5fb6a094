package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/chalkline/agentkit/kernel/model"
)

type anthropicLLM struct {
	provider     string
	model        string
	client       anthropic.Client
	maxOutputTok int
	maxRetries   int
}

func newAnthropic(cfg Config, token string) model.LLM {
	opts := []option.RequestOption{option.WithAPIKey(token)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	maxTok := cfg.MaxOutputTok
	if maxTok <= 0 {
		maxTok = 4096
	}
	return &anthropicLLM{
		provider:     cfg.Provider,
		model:        cfg.Model,
		client:       anthropic.NewClient(opts...),
		maxOutputTok: maxTok,
		maxRetries:   cfg.MaxRetries,
	}
}

func (l *anthropicLLM) Name() string {
	return l.model
}

func (l *anthropicLLM) Stream(ctx context.Context, req *model.Request) iter.Seq2[*model.StreamEvent, error] {
	if req == nil {
		return func(yield func(*model.StreamEvent, error) bool) {
			yield(nil, fmt.Errorf("providers: request is nil"))
		}
	}
	params := l.buildParams(req)
	return retryStream(ctx, l.maxRetries, func(ctx context.Context, emit func(*model.StreamEvent) bool) error {
		return l.streamOnce(ctx, params, emit)
	})
}

func (l *anthropicLLM) buildParams(req *model.Request) anthropic.MessageNewParams {
	system, messages := anthropicMessages(req.Messages)
	name := l.model
	if req.Model != "" {
		name = req.Model
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(name),
		MaxTokens: int64(l.maxOutputTok),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if tools := anthropicTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if req.Reasoning.Enabled != nil && *req.Reasoning.Enabled {
		budget := req.Reasoning.BudgetTokens
		if budget <= 0 {
			budget = 1024
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
	}
	return params
}

func (l *anthropicLLM) streamOnce(ctx context.Context, params anthropic.MessageNewParams, emit func(*model.StreamEvent) bool) error {
	stream := l.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	open := map[int64]string{}
	stop := model.StopEndTurn
	var usage model.Usage
	var modelName string

	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage.PromptTokens = int(ev.Message.Usage.InputTokens)
			modelName = string(ev.Message.Model)
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type != "tool_use" {
				continue
			}
			open[ev.Index] = ev.ContentBlock.ID
			if !emit(&model.StreamEvent{Kind: model.EventToolCallStart, CallID: ev.ContentBlock.ID, ToolName: ev.ContentBlock.Name}) {
				return nil
			}
		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if d.Text == "" {
					continue
				}
				if !emit(&model.StreamEvent{Kind: model.EventTextDelta, Delta: d.Text}) {
					return nil
				}
			case anthropic.ThinkingDelta:
				if d.Thinking == "" {
					continue
				}
				if !emit(&model.StreamEvent{Kind: model.EventReasoningDelta, Delta: d.Thinking}) {
					return nil
				}
			case anthropic.InputJSONDelta:
				id, ok := open[ev.Index]
				if !ok || d.PartialJSON == "" {
					continue
				}
				if !emit(&model.StreamEvent{Kind: model.EventToolCallDelta, CallID: id, Delta: d.PartialJSON}) {
					return nil
				}
			}
		case anthropic.ContentBlockStopEvent:
			id, ok := open[ev.Index]
			if !ok {
				continue
			}
			delete(open, ev.Index)
			if !emit(&model.StreamEvent{Kind: model.EventToolCallEnd, CallID: id}) {
				return nil
			}
		case anthropic.MessageDeltaEvent:
			if n := int(ev.Usage.InputTokens); n > 0 {
				usage.PromptTokens = n
			}
			usage.CompletionTokens = int(ev.Usage.OutputTokens)
			if r := string(ev.Delta.StopReason); r != "" {
				stop = anthropicStopReason(r)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	emit(&model.StreamEvent{
		Kind:       model.EventMessageEnd,
		StopReason: stop,
		Usage:      usage,
		Model:      modelName,
		Provider:   l.provider,
	})
	return nil
}

func anthropicStopReason(reason string) model.StopReason {
	switch reason {
	case "tool_use":
		return model.StopToolUse
	case "max_tokens":
		return model.StopMaxTokens
	case "refusal":
		return model.StopContentFilter
	default:
		return model.StopEndTurn
	}
}

func anthropicMessages(messages []model.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			if text := m.Text(); text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
		case model.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text())))
		case model.RoleAssistant:
			var parts []anthropic.ContentBlockParamUnion
			if text := m.Text(); text != "" {
				parts = append(parts, anthropic.NewTextBlock(text))
			}
			for _, call := range m.ToolCalls() {
				parts = append(parts, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    call.ID,
						Name:  call.Name,
						Input: call.Input,
					},
				})
			}
			if len(parts) > 0 {
				out = append(out, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: parts,
				})
			}
		case model.RoleTool:
			var parts []anthropic.ContentBlockParamUnion
			for _, res := range m.ToolResults() {
				raw, _ := json.Marshal(res.Output)
				parts = append(parts, anthropic.NewToolResultBlock(res.ID, string(raw), res.IsError))
			}
			if len(parts) > 0 {
				out = append(out, anthropic.NewUserMessage(parts...))
			}
		}
	}
	return system, out
}

func anthropicTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		properties, _ := t.Parameters["properties"].(map[string]any)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
					Required:   requiredNames(t.Parameters),
				},
			},
		})
	}
	return out
}

// requiredNames extracts the required-property list from a JSON schema,
// tolerating both decoded ([]any) and in-process ([]string) shapes.
func requiredNames(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

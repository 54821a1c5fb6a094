package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/chalkline/agentkit/kernel/model"
)

type geminiLLM struct {
	provider     string
	model        string
	client       *genai.Client
	maxOutputTok int
	maxRetries   int
}

func newGemini(cfg Config, token string) (model.LLM, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  token,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("providers: gemini client: %w", err)
	}
	return &geminiLLM{
		provider:     cfg.Provider,
		model:        cfg.Model,
		client:       client,
		maxOutputTok: cfg.MaxOutputTok,
		maxRetries:   cfg.MaxRetries,
	}, nil
}

func (l *geminiLLM) Name() string {
	return l.model
}

func (l *geminiLLM) Stream(ctx context.Context, req *model.Request) iter.Seq2[*model.StreamEvent, error] {
	if req == nil {
		return func(yield func(*model.StreamEvent, error) bool) {
			yield(nil, fmt.Errorf("providers: request is nil"))
		}
	}
	contents, system := geminiContents(req.Messages)
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if l.maxOutputTok > 0 {
		config.MaxOutputTokens = int32(l.maxOutputTok)
	}
	if tools := geminiTools(req.Tools); len(tools) > 0 {
		config.Tools = tools
	}
	if req.Reasoning.Enabled != nil && *req.Reasoning.Enabled {
		tc := &genai.ThinkingConfig{IncludeThoughts: true}
		if req.Reasoning.BudgetTokens > 0 {
			tc.ThinkingBudget = genai.Ptr(int32(req.Reasoning.BudgetTokens))
		}
		config.ThinkingConfig = tc
	}
	name := l.model
	if req.Model != "" {
		name = req.Model
	}

	return retryStream(ctx, l.maxRetries, func(ctx context.Context, emit func(*model.StreamEvent) bool) error {
		return l.streamOnce(ctx, name, contents, config, emit)
	})
}

// streamOnce normalizes the Gemini stream. Function calls arrive whole,
// not as fragments, so each one becomes a start/delta/end triple.
func (l *geminiLLM) streamOnce(ctx context.Context, name string, contents []*genai.Content, config *genai.GenerateContentConfig, emit func(*model.StreamEvent) bool) error {
	stop := model.StopEndTurn
	sawCall := false
	callSeq := 0
	var usage model.Usage

	for resp, err := range l.client.Models.GenerateContentStream(ctx, name, contents, config) {
		if err != nil {
			return err
		}
		if resp.UsageMetadata != nil {
			usage = model.Usage{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
			}
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		cand := resp.Candidates[0]
		if cand.FinishReason != "" {
			stop = geminiStopReason(cand.FinishReason)
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				kind := model.EventTextDelta
				if part.Thought {
					kind = model.EventReasoningDelta
				}
				if !emit(&model.StreamEvent{Kind: kind, Delta: part.Text}) {
					return nil
				}
			}
			if part.FunctionCall != nil {
				sawCall = true
				callSeq++
				id := part.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("%s_%d", part.FunctionCall.Name, callSeq)
				}
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				if !emitWholeCall(emit, id, part.FunctionCall.Name, args) {
					return nil
				}
			}
		}
	}

	if sawCall {
		stop = model.StopToolUse
	}
	emit(&model.StreamEvent{
		Kind:       model.EventMessageEnd,
		StopReason: stop,
		Usage:      usage,
		Model:      name,
		Provider:   l.provider,
	})
	return nil
}

func emitWholeCall(emit func(*model.StreamEvent) bool, id, name string, args map[string]any) bool {
	raw := "{}"
	if b, err := json.Marshal(args); err == nil {
		raw = string(b)
	}
	if !emit(&model.StreamEvent{Kind: model.EventToolCallStart, CallID: id, ToolName: name}) {
		return false
	}
	if !emit(&model.StreamEvent{Kind: model.EventToolCallDelta, CallID: id, Delta: raw}) {
		return false
	}
	return emit(&model.StreamEvent{Kind: model.EventToolCallEnd, CallID: id})
}

func geminiStopReason(reason genai.FinishReason) model.StopReason {
	switch reason {
	case genai.FinishReasonMaxTokens:
		return model.StopMaxTokens
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonProhibitedContent:
		return model.StopContentFilter
	default:
		return model.StopEndTurn
	}
}

func geminiContents(messages []model.Message) ([]*genai.Content, string) {
	var contents []*genai.Content
	system := ""

	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			if text := m.Text(); text != "" {
				if system != "" {
					system += "\n\n"
				}
				system += text
			}
		case model.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Text(), genai.RoleUser))
		case model.RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if text := m.Text(); text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: text})
			}
			for _, call := range m.ToolCalls() {
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   call.ID,
						Name: call.Name,
						Args: call.Input,
					},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		case model.RoleTool:
			content := &genai.Content{Role: genai.RoleUser}
			for _, res := range m.ToolResults() {
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       res.ID,
						Name:     res.Name,
						Response: res.Output,
					},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		}
	}
	return contents, system
}

func geminiTools(tools []model.ToolDefinition) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  geminiSchema(t.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// geminiSchema converts a JSON-schema map to the typed genai schema.
func geminiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	out := &genai.Schema{Type: geminiType(schema["type"])}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	out.Required = requiredNames(schema)
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if prop, ok := raw.(map[string]any); ok {
				out.Properties[name] = geminiSchema(prop)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = geminiSchema(items)
	} else if out.Type == genai.TypeArray {
		out.Items = &genai.Schema{Type: genai.TypeString}
	}
	switch enum := schema["enum"].(type) {
	case []string:
		out.Enum = enum
	case []any:
		for _, v := range enum {
			if s, ok := v.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	return out
}

func geminiType(raw any) genai.Type {
	t, _ := raw.(string)
	switch t {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object", "":
		return genai.TypeObject
	default:
		return genai.TypeObject
	}
}

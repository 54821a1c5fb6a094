package tool

import (
	"context"
	"strings"
	"testing"
)

type echoArgs struct {
	Text   string `json:"text"`
	Repeat int    `json:"repeat,omitempty"`
}

type echoResult struct {
	Echo string `json:"echo"`
}

func echoTool(t *testing.T) Tool {
	t.Helper()
	tl, err := NewFunc("echo", "echoes text", func(_ context.Context, args echoArgs) (echoResult, error) {
		n := args.Repeat
		if n <= 0 {
			n = 1
		}
		return echoResult{Echo: strings.Repeat(args.Text, n)}, nil
	})
	if err != nil {
		t.Fatalf("NewFunc: %v", err)
	}
	return tl
}

func TestFuncToolRun(t *testing.T) {
	tl := echoTool(t)
	out, err := tl.Run(context.Background(), map[string]any{"text": "ab", "repeat": 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out["echo"] != "abab" {
		t.Errorf("out = %v", out)
	}
}

func TestFuncToolDeclaration(t *testing.T) {
	decl := echoTool(t).Declaration()
	if decl.Name != "echo" {
		t.Errorf("name = %q", decl.Name)
	}
	params := decl.Parameters
	if params["type"] != "object" {
		t.Errorf("params = %v", params)
	}
	props, _ := params["properties"].(map[string]any)
	if _, ok := props["text"]; !ok {
		t.Errorf("properties = %v", props)
	}
	required, _ := params["required"].([]string)
	if len(required) != 1 || required[0] != "text" {
		t.Errorf("required = %v, omitempty field must be optional", required)
	}
}

func TestFuncToolBadInput(t *testing.T) {
	tl := echoTool(t)
	if _, err := tl.Run(context.Background(), map[string]any{"repeat": "three"}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSetRejectsDuplicates(t *testing.T) {
	tl := echoTool(t)
	if _, err := NewSet(tl, tl); err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestSetRestrictAndMerge(t *testing.T) {
	a := MustFunc("a", "", func(_ context.Context, _ struct{}) (string, error) { return "", nil })
	b := MustFunc("b", "", func(_ context.Context, _ struct{}) (string, error) { return "", nil })
	c := MustFunc("c", "", func(_ context.Context, _ struct{}) (string, error) { return "", nil })

	set, err := NewSet(a, b)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	restricted := set.Restrict([]string{"b", "zzz"})
	if names := restricted.Names(); len(names) != 1 || names[0] != "b" {
		t.Errorf("restricted = %v", names)
	}
	// Empty restriction means everything stays visible.
	if set.Restrict(nil).Len() != 2 {
		t.Error("nil restriction changed the set")
	}

	extra, _ := NewSet(b, c)
	merged := set.Merge(extra)
	if names := merged.Names(); len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("merged = %v", names)
	}
}

func TestTruncateMapWithinBudgetUntouched(t *testing.T) {
	in := map[string]any{"small": "value"}
	out, info := TruncateMap(in, TruncationPolicy{MaxTokens: 100})
	if info.Truncated {
		t.Error("unexpected truncation")
	}
	if out["small"] != "value" {
		t.Errorf("out = %v", out)
	}
}

func TestTruncateMapOverBudget(t *testing.T) {
	in := map[string]any{"big": strings.Repeat("x", 4000)}
	out, info := TruncateMap(in, TruncationPolicy{MaxTokens: 100})
	if !info.Truncated {
		t.Fatal("expected truncation")
	}
	text, _ := out["big"].(string)
	if !strings.Contains(text, "truncated") {
		t.Errorf("missing marker in %q", text)
	}
	if _, ok := out["_truncation"]; !ok {
		t.Error("missing truncation meta")
	}
}

func TestTruncateTextKeepsEnds(t *testing.T) {
	s := "HEAD" + strings.Repeat("x", 8000) + "TAIL"
	out, removed := TruncateText(s, TruncationPolicy{MaxTokens: 50})
	if removed == 0 {
		t.Fatal("expected removal")
	}
	if !strings.HasPrefix(out, "HEAD") || !strings.HasSuffix(out, "TAIL") {
		t.Errorf("out = %q... (ends lost)", out[:20])
	}
}

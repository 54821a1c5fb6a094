package tool

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const approxBytesPerToken = 4

// TruncationPolicy bounds tool output size before it re-enters model
// context. MaxTokens wins when both are set.
type TruncationPolicy struct {
	MaxTokens int
	MaxBytes  int
}

// DefaultTruncationPolicy is applied to tool outputs unless overridden.
func DefaultTruncationPolicy() TruncationPolicy {
	return TruncationPolicy{MaxTokens: 10000}
}

// TruncationInfo describes truncation that was applied to an output.
type TruncationInfo struct {
	Truncated       bool
	EstimatedTokens int
	RemovedTokens   int
	OmittedItems    int
}

// TruncateMap applies the policy to a tool output map. Values are walked
// deterministically (sorted keys) so repeated runs truncate identically.
func TruncateMap(output map[string]any, policy TruncationPolicy) (map[string]any, TruncationInfo) {
	var info TruncationInfo
	budget := policy.tokenBudget()
	if budget <= 0 {
		return output, info
	}
	info.EstimatedTokens = estimateTokens(output)
	if info.EstimatedTokens <= budget {
		return output, info
	}

	remaining := budget
	truncated, omitted := truncateValue(output, &remaining)
	out, _ := truncated.(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	info.Truncated = true
	info.OmittedItems = omitted
	info.RemovedTokens = max(info.EstimatedTokens-budget, 0)
	out["_truncation"] = map[string]any{
		"truncated":      true,
		"removed_tokens": info.RemovedTokens,
		"omitted_items":  info.OmittedItems,
	}
	return out, info
}

// TruncateText truncates a string in the middle to fit the policy budget,
// returning the result and the approximate tokens removed.
func TruncateText(s string, policy TruncationPolicy) (string, int) {
	budget := policy.byteBudget()
	if s == "" || budget <= 0 || len(s) <= budget {
		return s, 0
	}
	left := budget / 2
	right := budget - left
	prefixEnd, suffixStart := utf8Bounds(s, left, right)
	removed := len(s) - prefixEnd - (len(s) - suffixStart)
	removedTokens := (removed + approxBytesPerToken - 1) / approxBytesPerToken
	marker := fmt.Sprintf("...%d tokens truncated...", removedTokens)
	out := s[:prefixEnd] + marker + s[suffixStart:]
	if strings.Contains(s, "\n") {
		out = fmt.Sprintf("Total output lines: %d\n\n%s", strings.Count(s, "\n")+1, out)
	}
	return out, removedTokens
}

func truncateValue(value any, remaining *int) (any, int) {
	if *remaining <= 0 {
		return nil, 1
	}
	switch v := value.(type) {
	case string:
		cost := textTokens(v)
		if cost <= *remaining {
			*remaining -= cost
			return v, 0
		}
		out, _ := TruncateText(v, TruncationPolicy{MaxTokens: *remaining})
		*remaining = 0
		return out, 1
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(v))
		omitted := 0
		for _, key := range keys {
			val, n := truncateValue(v[key], remaining)
			omitted += n
			if val != nil {
				out[key] = val
			}
		}
		return out, omitted
	case []any:
		out := make([]any, 0, len(v))
		omitted := 0
		for _, item := range v {
			val, n := truncateValue(item, remaining)
			omitted += n
			if val != nil {
				out = append(out, val)
			}
		}
		if omitted > 0 {
			out = append(out, fmt.Sprintf("[omitted %d items]", omitted))
		}
		return out, omitted
	default:
		cost := textTokens(fmt.Sprint(value))
		if cost <= *remaining {
			*remaining -= cost
			return value, 0
		}
		return nil, 1
	}
}

func utf8Bounds(s string, leftBudget, rightBudget int) (int, int) {
	length := len(s)
	targetSuffix := max(length-rightBudget, 0)
	prefixEnd := 0
	suffixStart := length
	for idx, r := range s {
		end := idx + utf8.RuneLen(r)
		if end <= leftBudget {
			prefixEnd = end
		}
		if idx >= targetSuffix {
			suffixStart = idx
			break
		}
	}
	if suffixStart < prefixEnd {
		suffixStart = prefixEnd
	}
	return prefixEnd, suffixStart
}

func estimateTokens(value any) int {
	switch v := value.(type) {
	case string:
		return textTokens(v)
	case map[string]any:
		sum := 0
		for k, val := range v {
			sum += textTokens(k) + estimateTokens(val)
		}
		return sum
	case []any:
		sum := 0
		for _, item := range v {
			sum += estimateTokens(item)
		}
		return sum
	default:
		return textTokens(fmt.Sprint(value))
	}
}

func textTokens(s string) int {
	return (len(s) + approxBytesPerToken - 1) / approxBytesPerToken
}

func (p TruncationPolicy) tokenBudget() int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	return p.MaxBytes / approxBytesPerToken
}

func (p TruncationPolicy) byteBudget() int {
	if p.MaxBytes > 0 {
		return p.MaxBytes
	}
	return p.MaxTokens * approxBytesPerToken
}

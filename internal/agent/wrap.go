package agent

import (
	"strings"

	"github.com/haasonsaas/nexus/internal/guard"
)

// untrustedOpen and untrustedClose are the taint markers designating a
// string as data, never instructions (spec §4.3 "Tool-result wrapping").
const (
	untrustedOpen  = "[UNTRUSTED_CONTENT] "
	untrustedClose = " [/UNTRUSTED_CONTENT]"

	// wrapMinLength is the minimum string length eligible for wrapping.
	wrapMinLength = 20

	// wrapMaxDepth caps recursion into nested maps/slices.
	wrapMaxDepth = 3
)

// WrapToolResult applies spec §4.3's external-content post-processing to a
// tool result in place on a copy: every string value of length > 20 inside
// Content and Data is wrapped in untrusted-content markers (skipping keys
// starting with "_", capped at depth 3), and any injection pattern found in
// the unwrapped text is attached as an advisory InjectionWarning. The
// payload itself is never dropped or altered beyond wrapping.
//
// Calling WrapToolResult on an already-wrapped result is a no-op beyond
// re-detecting the same injection warnings (spec §8:
// wrap_tool_result(name, wrap_tool_result(name, r)) = wrap_tool_result(name, r)),
// because isWrapped recognizes the markers and skips re-wrapping.
func WrapToolResult(result *ToolResult) *ToolResult {
	if result == nil {
		return nil
	}
	out := *result

	var warnings []string
	if out.Content != "" {
		warnings = append(warnings, guard.DetectInjection(out.Content)...)
		out.Content = wrapString(out.Content)
	}
	if out.Data != nil {
		warnings = append(warnings, scanMap(out.Data)...)
		out.Data = wrapValue(out.Data, 0).(map[string]any)
	}

	if len(warnings) > 0 {
		out.InjectionWarning = dedupe(append(append([]string(nil), out.InjectionWarning...), warnings...))
	}
	return &out
}

func isWrapped(s string) bool {
	return strings.HasPrefix(s, untrustedOpen) && strings.HasSuffix(s, untrustedClose)
}

func wrapString(s string) string {
	if isWrapped(s) || len(s) <= wrapMinLength {
		return s
	}
	return untrustedOpen + s + untrustedClose
}

// wrapValue recursively wraps string leaves inside maps/slices, skipping
// keys that start with "_" and stopping at wrapMaxDepth.
func wrapValue(v any, depth int) any {
	if depth >= wrapMaxDepth {
		return v
	}
	switch val := v.(type) {
	case string:
		return wrapString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if strings.HasPrefix(k, "_") {
				out[k] = inner
				continue
			}
			out[k] = wrapValue(inner, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = wrapValue(inner, depth+1)
		}
		return out
	default:
		return v
	}
}

// scanMap recursively collects injection-pattern names from every string
// leaf in v, honoring the same "_"-prefixed-key skip and depth cap as
// wrapValue so warnings line up with what actually gets wrapped.
func scanMap(v any) []string {
	var all []string
	var walk func(v any, depth int)
	walk = func(v any, depth int) {
		if depth >= wrapMaxDepth {
			return
		}
		switch val := v.(type) {
		case string:
			all = append(all, guard.DetectInjection(val)...)
		case map[string]any:
			for k, inner := range val {
				if strings.HasPrefix(k, "_") {
					continue
				}
				walk(inner, depth+1)
			}
		case []any:
			for _, inner := range val {
				walk(inner, depth+1)
			}
		}
	}
	walk(v, 0)
	return all
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

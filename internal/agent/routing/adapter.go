package routing

import "github.com/haasonsaas/nexus/internal/agent"

// reshapeForRestrictedProvider applies spec §4.2's per-provider message
// reshaping. It is a pure function over the canonical message sequence so
// the Router's own invariants stay independent of any vendor (spec §9
// "Message reshaping vs adapter").
//
// Rules applied:
//   - merge every system message into one, placed at index 0;
//   - assistant messages carrying tool-calls get Content="" (the nil
//     sentinel for this message model — a non-empty Content plus ToolCalls
//     would otherwise confuse providers that reject both in the same turn);
//   - if the result has no user message, insert a placeholder user message
//     at the earliest valid position (after the merged system message);
//   - tool replies are left as-is; duplicate removal happens in
//     Conversation's own invariants, not here.
func reshapeForRestrictedProvider(msgs []agent.CompletionMessage) []agent.CompletionMessage {
	if len(msgs) == 0 {
		return msgs
	}

	var systemParts []string
	rest := make([]agent.CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			if m.Content != "" {
				systemParts = append(systemParts, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}

	out := make([]agent.CompletionMessage, 0, len(rest)+2)
	if len(systemParts) > 0 {
		out = append(out, agent.CompletionMessage{Role: "system", Content: joinNewline(systemParts)})
	}

	hasUser := false
	for _, m := range rest {
		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			m.Content = ""
		}
		if m.Role == "user" {
			hasUser = true
		}
		out = append(out, m)
	}

	if !hasUser {
		insertAt := 0
		if len(systemParts) > 0 {
			insertAt = 1
		}
		placeholder := agent.CompletionMessage{Role: "user", Content: "Please proceed."}
		out = append(out[:insertAt], append([]agent.CompletionMessage{placeholder}, out[insertAt:]...)...)
	}

	return out
}

func joinNewline(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "\n" + p
	}
	return out
}

// restrictedProviders names providers known to publish the message-shape
// constraints above. Providers outside this set (e.g. Anthropic, which
// tolerates the canonical shape natively) skip reshaping.
var restrictedProviders = map[string]struct{}{
	"openai":     {},
	"azure":      {},
	"bedrock":    {},
	"google":     {},
	"openrouter": {},
	"ollama":     {},
	"generic":    {},
}

func needsReshape(providerName string) bool {
	_, ok := restrictedProviders[normalizeID(providerName)]
	return ok
}

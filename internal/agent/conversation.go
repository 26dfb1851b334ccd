package agent

import (
	"github.com/haasonsaas/nexus/pkg/models"
)

// TurnRole distinguishes the four message variants of spec §3 "Conversation
// Turn".
type TurnRole string

const (
	RoleSystem    TurnRole = "system"
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleTool      TurnRole = "tool"
)

// TurnMessage is one message in a Conversation. Content is nullable
// (represented by HasContent=false) when an assistant message carries
// pending tool-calls, matching spec §3's "content is nullable when
// tool-calls present".
type TurnMessage struct {
	Role        TurnRole
	Content     string
	HasContent  bool
	ToolCalls   []models.ToolCall
	ToolCallID  string // set on RoleTool messages, binds to the pending call
	ToolResult  *ToolResult
}

// NewSystemMessage builds a system prompt message.
func NewSystemMessage(content string) TurnMessage {
	return TurnMessage{Role: RoleSystem, Content: content, HasContent: true}
}

// NewUserMessage builds an inbound user message.
func NewUserMessage(content string) TurnMessage {
	return TurnMessage{Role: RoleUser, Content: content, HasContent: true}
}

// NewAssistantTextMessage builds a terminal assistant text turn.
func NewAssistantTextMessage(content string) TurnMessage {
	return TurnMessage{Role: RoleAssistant, Content: content, HasContent: true}
}

// NewAssistantToolCallMessage builds an assistant turn with pending tool
// calls and nullable content, per spec §3.
func NewAssistantToolCallMessage(calls []models.ToolCall) TurnMessage {
	return TurnMessage{Role: RoleAssistant, HasContent: false, ToolCalls: calls}
}

// NewToolMessage builds a tool reply bound to a prior pending tool-call id.
func NewToolMessage(toolCallID string, result *ToolResult) TurnMessage {
	return TurnMessage{Role: RoleTool, ToolCallID: toolCallID, ToolResult: result, HasContent: true}
}

// DefaultMessageCap is the default conversation history cap (spec §3:
// "fixed message cap (default 50)").
const DefaultMessageCap = 50

// Conversation owns one Agent Loop's message history. It is never shared
// across loops (spec §5 "Conversation history is owned by one Agent Loop and
// never shared").
type Conversation struct {
	cap      int
	messages []TurnMessage
}

// NewConversation creates a conversation with the given message cap. A
// non-positive cap uses DefaultMessageCap.
func NewConversation(cap int) *Conversation {
	if cap <= 0 {
		cap = DefaultMessageCap
	}
	return &Conversation{cap: cap}
}

// System returns the system message if present.
func (c *Conversation) System() (TurnMessage, bool) {
	for _, m := range c.messages {
		if m.Role == RoleSystem {
			return m, true
		}
	}
	return TurnMessage{}, false
}

// SetSystem sets or replaces the system prompt, always kept first (spec §3:
// "system appears at most once per request and always first").
func (c *Conversation) SetSystem(content string) {
	filtered := c.messages[:0:0]
	for _, m := range c.messages {
		if m.Role != RoleSystem {
			filtered = append(filtered, m)
		}
	}
	c.messages = append([]TurnMessage{NewSystemMessage(content)}, filtered...)
}

// Append adds a message to the conversation and evicts if over cap.
func (c *Conversation) Append(m TurnMessage) {
	c.messages = append(c.messages, m)
	c.evict()
}

// AppendAll adds several messages in order, then evicts once.
func (c *Conversation) AppendAll(ms []TurnMessage) {
	c.messages = append(c.messages, ms...)
	c.evict()
}

// Messages returns the full ordered message list.
func (c *Conversation) Messages() []TurnMessage {
	return append([]TurnMessage(nil), c.messages...)
}

// Len returns the number of messages currently retained.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Clear resets history, implementing `clear_conversation` (spec §4.1).
func (c *Conversation) Clear() {
	c.messages = nil
}

// PendingToolCallIDs returns the tool-call ids on the most recent assistant
// message that do not yet have a matching tool reply.
func (c *Conversation) PendingToolCallIDs() []string {
	lastAssistant := -1
	for i, m := range c.messages {
		if m.Role == RoleAssistant {
			lastAssistant = i
		}
	}
	if lastAssistant == -1 || len(c.messages[lastAssistant].ToolCalls) == 0 {
		return nil
	}
	replied := make(map[string]struct{})
	for _, m := range c.messages[lastAssistant+1:] {
		if m.Role == RoleTool {
			replied[m.ToolCallID] = struct{}{}
		}
	}
	var pending []string
	for _, tc := range c.messages[lastAssistant].ToolCalls {
		if _, ok := replied[tc.ID]; !ok {
			pending = append(pending, tc.ID)
		}
	}
	return pending
}

// evict drops the oldest non-system messages once over cap. Eviction
// preserves orphaned tool-reply pairs: an assistant tool-call turn is
// evicted together with its tool replies as one unit (spec §3).
func (c *Conversation) evict() {
	for c.countEvictable() > c.cap {
		c.evictOldestUnit()
	}
}

// countEvictable returns the number of non-system messages.
func (c *Conversation) countEvictable() int {
	n := 0
	for _, m := range c.messages {
		if m.Role != RoleSystem {
			n++
		}
	}
	return n
}

// evictOldestUnit removes the oldest non-system message, plus — if it is an
// assistant turn carrying tool-calls — every immediately following tool
// reply bound to those calls, so the history never contains an orphaned
// reply.
func (c *Conversation) evictOldestUnit() {
	idx := -1
	for i, m := range c.messages {
		if m.Role != RoleSystem {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	unitEnd := idx + 1
	if c.messages[idx].Role == RoleAssistant && len(c.messages[idx].ToolCalls) > 0 {
		ids := make(map[string]struct{}, len(c.messages[idx].ToolCalls))
		for _, tc := range c.messages[idx].ToolCalls {
			ids[tc.ID] = struct{}{}
		}
		for unitEnd < len(c.messages) {
			m := c.messages[unitEnd]
			if m.Role != RoleTool {
				break
			}
			if _, ok := ids[m.ToolCallID]; !ok {
				break
			}
			unitEnd++
		}
	}

	c.messages = append(c.messages[:idx], c.messages[unitEnd:]...)
}

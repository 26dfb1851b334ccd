// Package turn implements the single-function data flow of spec §2:
// inbound message -> Gateway resolves (channel, user_id) -> Authority tier
// -> filtered tool list -> Agent Loop -> reply. It is the glue the
// gateway and the recovery channel both sit on top of, and owns the
// per-session Agent Loops (and therefore the per-session conversation
// history, spec §5 "Conversation history is owned by one Agent Loop and
// never shared").
package turn

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/authority"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Dependencies are the process-wide, constructor-time-wired singletons a
// Runner drives every turn through (spec §6 "Cyclic graph avoidance": the
// runner references these only through wiring, never the reverse).
type Dependencies struct {
	TierTable  authority.TierTable
	Registry   *agent.ToolRegistry
	Router     agent.LLMProvider
	Executor   *agent.Executor
	LoopConfig agent.LoopConfig
}

// Runner dispatches inbound messages into per-session Agent Loops.
type Runner struct {
	deps Dependencies

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	loop *agent.Loop
	tier authority.Tier
}

// NewRunner wires a Runner over its dependencies.
func NewRunner(deps Dependencies) *Runner {
	return &Runner{
		deps:     deps,
		sessions: make(map[string]*session),
	}
}

// sessionKey identifies one conversation's Agent Loop. Channel and user_id
// together, matching the composite key authority.Resolve uses.
func sessionKey(channel, userID string) string {
	return channel + ":" + userID
}

// sessionFor returns the session's Loop, creating one on first contact and
// re-resolving its tier on every call (a tier-table edit takes effect on
// the next turn without losing history).
func (r *Runner) sessionFor(channel, userID string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey(channel, userID)
	tier := authority.Resolve(r.deps.TierTable, channel, userID)

	s, ok := r.sessions[key]
	if !ok {
		conv := agent.NewConversation(agent.DefaultMessageCap)
		loop := agent.NewLoop(r.deps.Router, r.deps.Executor, r.deps.Registry, conv, tier, r.deps.LoopConfig)
		s = &session{loop: loop, tier: tier}
		r.sessions[key] = s
		return s
	}

	if s.tier != tier {
		s.tier = tier
		s.loop.SetTier(tier)
	}
	return s
}

// Run implements spec §2's single-turn data flow for one inbound message,
// returning the reply as an outbound models.Message addressed back to the
// same channel/session.
func (r *Runner) Run(ctx context.Context, inbound *models.Message, channel, userID string) (*models.Message, error) {
	if inbound == nil {
		return nil, fmt.Errorf("turn: inbound message is nil")
	}

	s := r.sessionFor(channel, userID)
	result, err := s.loop.Run(ctx, inbound.Content)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}

	return &models.Message{
		SessionID: inbound.SessionID,
		Channel:   inbound.Channel,
		ChannelID: inbound.ChannelID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   result.Content,
	}, nil
}

// ClearSession drops a session's conversation history entirely (spec §4.1
// "clear_conversation"), forcing a fresh Loop on the next message.
func (r *Runner) ClearSession(channel, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionKey(channel, userID))
}

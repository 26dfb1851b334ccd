package turn

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/authority"
	"github.com/haasonsaas/nexus/pkg/models"
)

type scriptedProvider struct {
	responses []string
	call      int
}

func (p *scriptedProvider) Name() string          { return "scripted" }
func (p *scriptedProvider) Models() []agent.Model { return nil }
func (p *scriptedProvider) SupportsTools() bool    { return true }
func (p *scriptedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if p.call >= len(p.responses) {
		return nil, errors.New("scripted provider exhausted")
	}
	text := p.responses[p.call]
	p.call++

	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: text}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func newTestRunner(provider agent.LLMProvider) *Runner {
	registry := agent.NewToolRegistry()
	executor := agent.NewExecutor(registry, agent.ExecutorConfig{})
	return NewRunner(Dependencies{
		Registry:   registry,
		Router:     provider,
		Executor:   executor,
		LoopConfig: agent.LoopConfig{SystemPrompt: "be helpful"},
	})
}

func TestRunner_ReturnsOutboundReply(t *testing.T) {
	r := newTestRunner(&scriptedProvider{responses: []string{"hello back"}})

	inbound := &models.Message{SessionID: "s1", Channel: models.ChannelType("telegram"), Content: "hi"}
	out, err := r.Run(context.Background(), inbound, "telegram", "user-1")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out.Content != "hello back" {
		t.Errorf("Content = %q", out.Content)
	}
	if out.Direction != models.DirectionOutbound {
		t.Errorf("Direction = %v, want outbound", out.Direction)
	}
	if out.SessionID != "s1" {
		t.Errorf("SessionID = %q, want propagated from inbound", out.SessionID)
	}
}

func TestRunner_PersistsConversationAcrossTurns(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"first", "second"}}
	r := newTestRunner(provider)

	inbound := &models.Message{Content: "turn one"}
	if _, err := r.Run(context.Background(), inbound, "telegram", "user-1"); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := r.Run(context.Background(), inbound, "telegram", "user-1"); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	r.mu.Lock()
	s := r.sessions[sessionKey("telegram", "user-1")]
	r.mu.Unlock()
	if s == nil {
		t.Fatal("expected a session to be retained")
	}
}

func TestRunner_LocalChannelAlwaysOwnerTier(t *testing.T) {
	r := newTestRunner(&scriptedProvider{responses: []string{"ok"}})
	s := r.sessionFor("cli", "anyone")
	if s.tier != authority.Owner {
		t.Errorf("tier = %v, want Owner for a local channel", s.tier)
	}
}

func TestRunner_ClearSessionDropsHistory(t *testing.T) {
	r := newTestRunner(&scriptedProvider{responses: []string{"a"}})
	r.sessionFor("telegram", "user-1")
	r.ClearSession("telegram", "user-1")

	r.mu.Lock()
	_, exists := r.sessions[sessionKey("telegram", "user-1")]
	r.mu.Unlock()
	if exists {
		t.Fatal("expected session to be removed after ClearSession")
	}
}

func TestRunner_NilInboundRejected(t *testing.T) {
	r := newTestRunner(&scriptedProvider{})
	if _, err := r.Run(context.Background(), nil, "telegram", "user-1"); err == nil {
		t.Fatal("expected error for nil inbound message")
	}
}

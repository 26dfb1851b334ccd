package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/pkg/models"
)

type fakeProvider struct {
	name      string
	tools     bool
	models    []agent.Model
	failNext  bool
	lastReq   *agent.CompletionRequest
	completed int
}

func (f *fakeProvider) Name() string            { return f.name }
func (f *fakeProvider) Models() []agent.Model    { return f.models }
func (f *fakeProvider) SupportsTools() bool      { return f.tools }
func (f *fakeProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	f.lastReq = req
	f.completed++
	if f.failNext {
		f.failNext = false
		return nil, errors.New("boom")
	}
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: "hi"}
	ch <- &agent.CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 5}
	close(ch)
	return ch, nil
}

func drain(t *testing.T, ch <-chan *agent.CompletionChunk) []*agent.CompletionChunk {
	t.Helper()
	var out []*agent.CompletionChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestRouter_SelectsProviderPriorityOrder(t *testing.T) {
	primary := &fakeProvider{name: "anthropic"}
	secondary := &fakeProvider{name: "openai"}
	r := NewRouter(Config{
		ProviderPriority: []string{"anthropic", "openai"},
	}, map[string]agent.LLMProvider{"anthropic": primary, "openai": secondary})

	stream, err := r.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	drain(t, stream)
	if primary.completed != 1 {
		t.Fatalf("expected primary provider to be called once, got %d", primary.completed)
	}
	if secondary.completed != 0 {
		t.Fatalf("expected secondary provider not to be called, got %d", secondary.completed)
	}
}

func TestRouter_FailsOverOnError(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", failNext: true}
	secondary := &fakeProvider{name: "openai"}
	r := NewRouter(Config{
		ProviderPriority: []string{"anthropic", "openai"},
	}, map[string]agent.LLMProvider{"anthropic": primary, "openai": secondary})

	stream, err := r.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	drain(t, stream)
	if secondary.completed != 1 {
		t.Fatalf("expected failover to secondary provider, got %d calls", secondary.completed)
	}
	if !r.Health().IsLocal("anthropic") && r.Health().Eligible("anthropic") {
		// anthropic isn't local, so a single failure must not make it ineligible.
		t.Fatalf("cloud provider should remain eligible after one failure")
	}
}

func TestRouter_LocalProviderMarkedUnhealthyAfterFailure(t *testing.T) {
	local := &fakeProvider{name: "ollama", failNext: true}
	cloud := &fakeProvider{name: "anthropic"}
	r := NewRouter(Config{
		ProviderPriority: []string{"ollama", "anthropic"},
		LocalProviders:   []string{"ollama"},
	}, map[string]agent.LLMProvider{"ollama": local, "anthropic": cloud})

	stream, err := r.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	drain(t, stream)
	if r.Health().Eligible("ollama") {
		t.Fatalf("local provider should be ineligible after a failure")
	}
}

func TestRouter_BudgetGateBlocksSelection(t *testing.T) {
	p := &fakeProvider{name: "anthropic"}
	r := NewRouter(Config{
		ProviderPriority: []string{"anthropic"},
		Budget:           Budget{DailyLimitUSD: 1},
	}, map[string]agent.LLMProvider{"anthropic": p})
	r.ledger.Record(CostRecord{Provider: "anthropic", CostUSD: 1})

	_, err := r.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if p.completed != 0 {
		t.Fatalf("provider must not be contacted once budget is exceeded")
	}
}

func TestRouter_NoProviderAvailable(t *testing.T) {
	r := NewRouter(Config{}, map[string]agent.LLMProvider{})
	_, err := r.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	if !errors.Is(err, ErrNoProviderAvailable) {
		t.Fatalf("expected ErrNoProviderAvailable, got %v", err)
	}
}

func TestReshapeForRestrictedProvider(t *testing.T) {
	in := []agent.CompletionMessage{
		{Role: "system", Content: "first"},
		{Role: "system", Content: "second"},
		{Role: "assistant", Content: "should be cleared", ToolCalls: []models.ToolCall{{ID: "1", Name: "noop"}}},
	}
	out := reshapeForRestrictedProvider(in)
	if out[0].Role != "system" || out[0].Content != "first\nsecond" {
		t.Fatalf("expected merged system message at index 0, got %+v", out[0])
	}
	foundUser := false
	for _, m := range out {
		if m.Role == "user" {
			foundUser = true
		}
		if m.Role == "assistant" && len(m.ToolCalls) > 0 && m.Content != "" {
			t.Fatalf("assistant message with tool calls must have empty content, got %q", m.Content)
		}
	}
	if !foundUser {
		t.Fatalf("expected placeholder user message to be inserted")
	}
}

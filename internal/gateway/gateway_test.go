package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/channels"
	"github.com/haasonsaas/nexus/internal/turn"
	"github.com/haasonsaas/nexus/pkg/models"
)

type fakeAdapter struct {
	channelType models.ChannelType
	inbound     chan *models.Message
	sent        []*models.Message
}

func newFakeAdapter(ct models.ChannelType) *fakeAdapter {
	return &fakeAdapter{channelType: ct, inbound: make(chan *models.Message, 4)}
}

func (a *fakeAdapter) Type() models.ChannelType       { return a.channelType }
func (a *fakeAdapter) Messages() <-chan *models.Message { return a.inbound }
func (a *fakeAdapter) Send(ctx context.Context, msg *models.Message) error {
	a.sent = append(a.sent, msg)
	return nil
}

type echoProvider struct{}

func (echoProvider) Name() string          { return "echo" }
func (echoProvider) Models() []agent.Model { return nil }
func (echoProvider) SupportsTools() bool   { return true }
func (echoProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: "echo: ok"}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func TestGateway_RoutesReplyBackToOriginatingChannel(t *testing.T) {
	registry := channels.NewRegistry()
	adapter := newFakeAdapter(models.ChannelType("telegram"))
	registry.Register(adapter)

	reg := agent.NewToolRegistry()
	executor := agent.NewExecutor(reg, agent.ExecutorConfig{})
	runner := turn.NewRunner(turn.Dependencies{
		Registry:   reg,
		Router:     echoProvider{},
		Executor:   executor,
		LoopConfig: agent.LoopConfig{SystemPrompt: "be helpful"},
	})

	gw := New(registry, runner, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		gw.Run(ctx)
		close(done)
	}()

	adapter.inbound <- &models.Message{
		SessionID: "s1",
		Channel:   models.ChannelType("telegram"),
		Content:   "hi",
	}

	deadline := time.After(2 * time.Second)
	for len(adapter.sent) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for gateway to send a reply")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if adapter.sent[0].Content != "echo: ok" {
		t.Errorf("Content = %q", adapter.sent[0].Content)
	}

	close(adapter.inbound)
	cancel()
	<-done
}

func TestGateway_MissingOutboundAdapterIsNonFatal(t *testing.T) {
	registry := channels.NewRegistry()

	reg := agent.NewToolRegistry()
	executor := agent.NewExecutor(reg, agent.ExecutorConfig{})
	runner := turn.NewRunner(turn.Dependencies{
		Registry:   reg,
		Router:     echoProvider{},
		Executor:   executor,
		LoopConfig: agent.LoopConfig{SystemPrompt: "be helpful"},
	})
	gw := New(registry, runner, nil, nil)

	gw.handle(context.Background(), &models.Message{Channel: models.ChannelType("telegram"), Content: "hi"})
}

package routing

import (
	"context"

	"github.com/haasonsaas/nexus/internal/agent"
)

// GenericAdapter wraps an agent.LLMProvider that speaks a minimal JSON
// chat-completions dialect with no published message-shape contract (the
// "zai-style" adapter from the original implementation's core/zai_adapter.py
// — folded in here as the fallback for any provider not in
// restrictedProviders' known set). It always applies reshapeForRestrictedProvider
// before forwarding, since such providers cannot be assumed to tolerate the
// canonical shape.
type GenericAdapter struct {
	agent.LLMProvider
}

// NewGenericAdapter wraps a provider with unconditional reshaping.
func NewGenericAdapter(provider agent.LLMProvider) *GenericAdapter {
	return &GenericAdapter{LLMProvider: provider}
}

// Complete reshapes the request before delegating to the wrapped provider.
func (a *GenericAdapter) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	copyReq := *req
	copyReq.Messages = reshapeForRestrictedProvider(req.Messages)
	return a.LLMProvider.Complete(ctx, &copyReq)
}

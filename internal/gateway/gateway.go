// Package gateway wires channel adapters to the turn runner: it drains the
// channel registry's aggregated inbound stream, runs each message through
// the control core, and sends the reply back out over its originating
// channel (spec §2 "Gateway resolves (channel, user_id)").
package gateway

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/nexus/internal/channels"
	"github.com/haasonsaas/nexus/internal/turn"
	"github.com/haasonsaas/nexus/pkg/models"
)

// UserIDFunc extracts the authority-resolution user id from an inbound
// message. Channels vary in where they stash this (session id, a sender
// field in Metadata); callers supply the extraction logic appropriate to
// their deployment's channel mix.
type UserIDFunc func(msg *models.Message) string

// Gateway fans inbound messages from every registered channel adapter into
// a turn.Runner and fans replies back out over the originating channel.
type Gateway struct {
	registry *channels.Registry
	runner   *turn.Runner
	userID   UserIDFunc
	logger   *slog.Logger
}

// New builds a Gateway. userID may be nil, in which case SessionID is used
// as the user id (adequate for single-user deployments and tests).
func New(registry *channels.Registry, runner *turn.Runner, userID UserIDFunc, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if userID == nil {
		userID = func(msg *models.Message) string { return msg.SessionID }
	}
	return &Gateway{registry: registry, runner: runner, userID: userID, logger: logger.With("component", "gateway")}
}

// Run drains the registry's aggregated inbound stream and dispatches each
// message through the turn runner until ctx is cancelled or every channel's
// inbound stream closes.
func (g *Gateway) Run(ctx context.Context) {
	for msg := range g.registry.AggregateMessages(ctx) {
		g.handle(ctx, msg)
	}
}

func (g *Gateway) handle(ctx context.Context, msg *models.Message) {
	channelType := string(msg.Channel)
	userID := g.userID(msg)

	reply, err := g.runner.Run(ctx, msg, channelType, userID)
	if err != nil {
		g.logger.Error("turn failed", "channel", channelType, "error", err)
		return
	}
	if reply == nil || reply.Content == "" {
		return
	}

	outbound, ok := g.registry.GetOutbound(msg.Channel)
	if !ok {
		g.logger.Warn("no outbound adapter for channel", "channel", channelType)
		return
	}
	if err := outbound.Send(ctx, reply); err != nil {
		g.logger.Error("send reply failed", "channel", channelType, "error", err)
	}
}

// Package websocket implements the WebSocket gateway channel named by
// SPEC_FULL.md §4.10's domain stack: a raw bidirectional transport for
// clients that aren't Telegram/Discord/Slack (local CLIs, dashboards, test
// harnesses) to drive the control core directly.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/haasonsaas/nexus/internal/channels"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Config holds configuration for the WebSocket adapter.
type Config struct {
	// Addr is the listen address (e.g. ":8090").
	Addr string

	// Path is the HTTP path clients connect to (default: "/ws").
	Path string

	// RateLimit configures outbound send rate limiting (messages/sec).
	RateLimit float64

	// RateBurst configures the burst capacity for rate limiting.
	RateBurst int

	// WriteTimeout bounds how long a single outbound write may take.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// Validate applies defaults and checks required fields.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return channels.ErrConfig("addr is required", nil)
	}
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.RateLimit == 0 {
		c.RateLimit = 20
	}
	if c.RateBurst == 0 {
		c.RateBurst = 40
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// wireMessage is the JSON envelope exchanged with connected clients.
type wireMessage struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

// conn tracks one connected client, keyed by session id so outbound Send
// can address the right socket.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(timeout time.Duration, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

// Adapter implements channels.FullAdapter over a gorilla/websocket server:
// each HTTP upgrade becomes one session, addressed by its SessionID for
// outbound replies, matching the turn.Runner/gateway contract that resolves
// (channel, session) independent of any particular transport's identity
// model.
type Adapter struct {
	config   Config
	server   *http.Server
	upgrader websocket.Upgrader
	status   channels.Status

	messages chan *models.Message

	mu    sync.RWMutex
	conns map[string]*conn

	rateLimiter *channels.RateLimiter
	metrics     *channels.Metrics
	logger      *slog.Logger

	wg sync.WaitGroup
}

// NewAdapter creates a WebSocket adapter bound to the given configuration.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	a := &Adapter{
		config:      config,
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		status:      channels.Status{Connected: false},
		messages:    make(chan *models.Message, 100),
		conns:       make(map[string]*conn),
		rateLimiter: channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		metrics:     channels.NewMetrics(models.ChannelWebSocket),
		logger:      config.Logger.With("adapter", "websocket"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(config.Path, a.handleUpgrade)
	a.server = &http.Server{Addr: config.Addr, Handler: mux}

	return a, nil
}

// Start begins listening for WebSocket upgrade requests.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.status.Connected {
		a.mu.Unlock()
		return channels.ErrInternal("adapter already started", nil)
	}
	a.status.Connected = true
	a.status.LastPing = time.Now().Unix()
	a.mu.Unlock()

	a.logger.Info("starting websocket adapter", "addr", a.config.Addr, "path", a.config.Path)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("websocket listener failed", "error", err)
			a.mu.Lock()
			a.status.Error = err.Error()
			a.mu.Unlock()
		}
	}()

	a.metrics.RecordConnectionOpened()
	return nil
}

// Stop shuts down the HTTP server and closes all client connections.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.status.Connected {
		a.mu.Unlock()
		return nil
	}
	a.status.Connected = false
	conns := make([]*conn, 0, len(a.conns))
	for _, c := range a.conns {
		conns = append(conns, c)
	}
	a.conns = make(map[string]*conn)
	a.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}

	if err := a.server.Shutdown(ctx); err != nil {
		a.metrics.RecordError(channels.ErrCodeConnection)
		return channels.ErrConnection("failed to shut down websocket server", err)
	}

	a.wg.Wait()
	close(a.messages)
	a.metrics.RecordConnectionClosed()
	a.logger.Info("websocket adapter stopped")
	return nil
}

func (a *Adapter) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		a.metrics.RecordError(channels.ErrCodeConnection)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	c := &conn{ws: ws}
	a.mu.Lock()
	a.conns[sessionID] = c
	a.mu.Unlock()

	a.logger.Debug("client connected", "session_id", sessionID)
	a.readLoop(sessionID, c)
}

func (a *Adapter) readLoop(sessionID string, c *conn) {
	defer func() {
		a.mu.Lock()
		delete(a.conns, sessionID)
		a.mu.Unlock()
		_ = c.ws.Close()
		a.logger.Debug("client disconnected", "session_id", sessionID)
	}()

	for {
		var wm wireMessage
		if err := c.ws.ReadJSON(&wm); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.metrics.RecordError(channels.ErrCodeConnection)
			}
			return
		}
		if wm.SessionID == "" {
			wm.SessionID = sessionID
		}

		msg := &models.Message{
			Channel:   models.ChannelWebSocket,
			ChannelID: wm.SessionID,
			SessionID: wm.SessionID,
			Direction: models.DirectionInbound,
			Role:      models.RoleUser,
			Content:   wm.Content,
			Metadata:  map[string]any{"websocket_session_id": wm.SessionID},
			CreatedAt: time.Now(),
		}

		a.metrics.RecordMessageReceived()
		select {
		case a.messages <- msg:
		default:
			a.logger.Warn("messages channel full, dropping message", "session_id", wm.SessionID)
			a.metrics.RecordMessageFailed()
		}
	}
}

// Send delivers a reply to the client identified by msg.SessionID.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) error {
	if err := a.rateLimiter.Wait(ctx); err != nil {
		a.metrics.RecordError(channels.ErrCodeTimeout)
		return channels.ErrTimeout("rate limit wait cancelled", err)
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		if v, ok := msg.Metadata["websocket_session_id"].(string); ok {
			sessionID = v
		}
	}
	if sessionID == "" {
		a.metrics.RecordError(channels.ErrCodeInvalidInput)
		return channels.ErrInvalidInput("missing session id for websocket reply", nil)
	}

	a.mu.RLock()
	c, ok := a.conns[sessionID]
	a.mu.RUnlock()
	if !ok {
		a.metrics.RecordMessageFailed()
		a.metrics.RecordError(channels.ErrCodeUnavailable)
		return channels.ErrUnavailable("no connection for session", nil)
	}

	start := time.Now()
	if err := c.writeJSON(a.config.WriteTimeout, wireMessage{SessionID: sessionID, Content: msg.Content}); err != nil {
		a.metrics.RecordMessageFailed()
		a.metrics.RecordError(channels.ErrCodeInternal)
		return channels.ErrInternal("failed to write websocket message", err)
	}

	a.metrics.RecordMessageSent()
	a.metrics.RecordSendLatency(time.Since(start))
	return nil
}

// Messages returns the channel of inbound messages.
func (a *Adapter) Messages() <-chan *models.Message {
	return a.messages
}

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType {
	return models.ChannelWebSocket
}

// Status returns the current connection status.
func (a *Adapter) Status() channels.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// HealthCheck reports healthy whenever the listener is up, degraded when no
// clients are currently connected.
func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	start := time.Now()
	a.mu.RLock()
	connected := a.status.Connected
	active := len(a.conns)
	a.mu.RUnlock()

	health := channels.HealthStatus{LastCheck: start, Healthy: connected, Latency: time.Since(start)}
	if !connected {
		health.Message = "listener not running"
		return health
	}
	if active == 0 {
		health.Degraded = true
		health.Message = "no clients connected"
		return health
	}
	health.Message = "healthy"
	return health
}

// Metrics returns the current metrics snapshot.
func (a *Adapter) Metrics() channels.MetricsSnapshot {
	return a.metrics.Snapshot()
}

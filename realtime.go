package loqui

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// RealtimeState is the connection state of the push transport.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// RealtimeConfig configures the push transport.
type RealtimeConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int // 0 = unlimited
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// reconnector computes exponential backoff with jitter. The attempt counter
// resets once a connection has held for a minute.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(cfg *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   cfg.ReconnectBaseDelay,
		maxDelay:    cfg.ReconnectMaxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// Realtime is the websocket adapter between the push endpoint and the
// dispatcher. Events are decoded and handed to the handler synchronously
// from a single read goroutine, so they reach the dispatcher in exactly the
// order the server sent them. No fan-out, no reordering.
//
// The adapter does not repair delivery gaps. After a reconnect it fires
// OnReconnected; the session reacts by reloading snapshots for everything
// it is actively viewing.
type Realtime struct {
	url     string
	cfg     RealtimeConfig
	handler func(Event)
	logger  *zap.Logger
	recon   *reconnector

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	cancelFn         context.CancelFunc

	// Meta-event callbacks; set before Connect.
	OnConnected    func()
	OnDisconnected func(reason string)
	OnReconnecting func(attempt int, delay time.Duration)
	OnReconnected  func()
}

// NewRealtime creates a push transport that delivers every decoded event to
// handler in arrival order. url is the websocket endpoint.
func NewRealtime(url string, cfg RealtimeConfig, handler func(Event), logger *zap.Logger) *Realtime {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Realtime{
		url:     url,
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		recon:   newReconnector(&cfg),
		state:   StateDisconnected,
	}
}

// wsURL converts an http(s) base URL into the ws(s) push endpoint.
func wsURL(baseURL string) string {
	u := strings.Replace(baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/v1/events"
}

// State returns the current connection state.
func (r *Realtime) State() RealtimeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Connect dials the push endpoint and starts the read loop.
func (r *Realtime) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateConnected || r.state == StateConnecting {
		r.mu.Unlock()
		return nil
	}
	r.state = StateConnecting
	r.intentionalClose = false
	r.mu.Unlock()

	u := r.url
	if r.cfg.Token != "" {
		u += "?token=" + r.cfg.Token
	}
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		r.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.conn = conn
	r.state = StateConnected
	r.cancelFn = cancel
	r.mu.Unlock()
	r.recon.markConnected()

	if r.OnConnected != nil {
		r.OnConnected()
	}

	go r.readLoop(connCtx, conn)
	go r.heartbeatLoop(connCtx, conn)

	return nil
}

// Disconnect closes the connection without triggering reconnection.
func (r *Realtime) Disconnect() error {
	r.mu.Lock()
	r.intentionalClose = true
	if r.cancelFn != nil {
		r.cancelFn()
		r.cancelFn = nil
	}
	conn := r.conn
	r.conn = nil
	r.state = StateDisconnected
	r.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

func (r *Realtime) setState(s RealtimeState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Realtime) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			r.mu.Lock()
			intentional := r.intentionalClose
			r.state = StateDisconnected
			r.conn = nil
			r.mu.Unlock()
			if intentional {
				return
			}

			r.logger.Info("push connection lost", zap.Error(err))
			if r.OnDisconnected != nil {
				r.OnDisconnected(err.Error())
			}
			if r.cfg.AutoReconnect && r.recon.shouldReconnect() {
				r.scheduleReconnect()
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			r.logger.Warn("malformed push frame dropped", zap.Error(err))
			continue
		}
		// Synchronous: the next frame is not read until this event has been
		// fully applied. This is what keeps event application in arrival
		// order.
		r.handler(ev)
	}
}

func (r *Realtime) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// Force the read loop to notice the dead connection.
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (r *Realtime) scheduleReconnect() {
	delay := r.recon.nextDelay()
	r.setState(StateReconnecting)

	if r.OnReconnecting != nil {
		r.OnReconnecting(r.recon.attempt, delay)
	}
	r.logger.Info("reconnecting to push endpoint",
		zap.Int("attempt", r.recon.attempt),
		zap.Duration("delay", delay))

	time.Sleep(delay)

	r.mu.Lock()
	if r.intentionalClose {
		r.mu.Unlock()
		return
	}
	r.state = StateDisconnected
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := r.Connect(ctx)
	cancel()
	if err != nil {
		if r.cfg.AutoReconnect && r.recon.shouldReconnect() {
			r.scheduleReconnect()
		} else {
			r.setState(StateDisconnected)
		}
		return
	}

	// Any events between the drop and now are lost; the session reloads
	// snapshots to repair the gap.
	if r.OnReconnected != nil {
		r.OnReconnected()
	}
}

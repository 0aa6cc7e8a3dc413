// Package loqui implements the client-side state-synchronization engine for
// the Loqui chat API: a local, always-consistent view of chats, messages,
// presence, permissions, pins, reactions, and block relations fed by two
// independent sources, on-demand snapshots and an ordered stream of push
// events, with optimistic local mutations reconciled against server
// confirmations.
//
// Example:
//
//	sess, _ := loqui.NewSession(token, loqui.WithBaseURL("https://api.example.com"))
//	defer sess.Close()
//
//	_ = sess.Loader().LoadChats(ctx)
//	_ = sess.ConnectRealtime(ctx, loqui.RealtimeConfig{AutoReconnect: true})
//
//	msg, err := sess.Coordinator().SendMessage(ctx, loqui.PostMessageRequest{
//		ChatID: "chat-1", Content: "hello",
//	})
package loqui

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Session is the process-wide engine context: the entity stores plus the
// components allowed to write to them. It is created explicitly at login
// and torn down explicitly on logout; nothing survives Close.
type Session struct {
	logger  *zap.Logger
	baseURL string

	api         ChatAPI
	store       *Store
	loader      *Loader
	dispatcher  *Dispatcher
	coordinator *Coordinator

	realtime *Realtime
	token    string
}

type SessionOption func(*sessionConfig)

type sessionConfig struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
	api        ChatAPI
	userID     string
}

// WithAPI substitutes the request/response transport. Intended for tests
// and embedders with their own HTTP stack.
func WithAPI(api ChatAPI) SessionOption {
	return func(c *sessionConfig) { c.api = api }
}

// WithUserID overrides the user id normally read from the access token.
func WithUserID(id string) SessionOption {
	return func(c *sessionConfig) { c.userID = id }
}

// WithLogger attaches a logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(c *sessionConfig) { c.logger = logger }
}

// WithSessionBaseURL points the session at a non-default API host.
func WithSessionBaseURL(u string) SessionOption {
	return func(c *sessionConfig) { c.baseURL = u }
}

// WithSessionHTTPClient substitutes the HTTP client used by the built-in
// API transport.
func WithSessionHTTPClient(client *http.Client) SessionOption {
	return func(c *sessionConfig) { c.httpClient = client }
}

// WithSessionTimeout sets the per-request timeout of the built-in transport.
func WithSessionTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.timeout = d }
}

// NewSession creates the engine for one logged-in user. The user id is read
// from the token's subject claim unless WithUserID overrides it; the
// signature is not verified here; that is the server's job on every call.
func NewSession(token string, opts ...SessionOption) (*Session, error) {
	cfg := sessionConfig{baseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	userID := cfg.userID
	if userID == "" {
		id, err := userIDFromToken(token)
		if err != nil {
			return nil, validationf("cannot determine user from token: %v", err)
		}
		userID = id
	}

	api := cfg.api
	if api == nil {
		clientOpts := []ClientOption{WithBaseURL(cfg.baseURL)}
		if cfg.httpClient != nil {
			clientOpts = append(clientOpts, WithHTTPClient(cfg.httpClient))
		}
		if cfg.timeout != 0 {
			clientOpts = append(clientOpts, WithTimeout(cfg.timeout))
		}
		api = NewClient(token, clientOpts...)
	}

	store := newStore(userID)
	s := &Session{
		logger:      cfg.logger,
		baseURL:     cfg.baseURL,
		token:       token,
		api:         api,
		store:       store,
		loader:      newLoader(api, store, cfg.logger),
		dispatcher:  newDispatcher(store, cfg.logger),
		coordinator: newCoordinator(api, store, cfg.logger),
	}
	return s, nil
}

// userIDFromToken reads the subject claim of a JWT without verifying it.
func userIDFromToken(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject claim")
	}
	return claims.Subject, nil
}

// Store exposes the read accessors and projections.
func (s *Session) Store() *Store { return s.store }

// Loader exposes the snapshot loads.
func (s *Session) Loader() *Loader { return s.loader }

// Coordinator exposes the optimistic mutation entry points.
func (s *Session) Coordinator() *Coordinator { return s.coordinator }

// HandleEvent feeds one push event into the dispatcher. Wire this to the
// transport when not using ConnectRealtime.
func (s *Session) HandleEvent(ev Event) { s.dispatcher.HandleEvent(ev) }

// ConnectRealtime dials the push endpoint and wires it to the dispatcher.
// After every reconnect the session resynchronizes, since events between
// the drop and the reconnect are lost for good.
func (s *Session) ConnectRealtime(ctx context.Context, cfg RealtimeConfig) error {
	if cfg.Token == "" {
		cfg.Token = s.token
	}
	// A second connect tears down the previous transport first; otherwise
	// its read loop would keep delivering events alongside the new one.
	if s.realtime != nil {
		if err := s.realtime.Disconnect(); err != nil {
			s.logger.Warn("closing previous push connection failed", zap.Error(err))
		}
		s.realtime = nil
	}
	rt := NewRealtime(wsURL(s.baseURL), cfg, s.dispatcher.HandleEvent, s.logger)
	rt.OnReconnected = func() {
		// Snapshot loads run off the read goroutine so event delivery is
		// not stalled behind them.
		go func() {
			rctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
			defer cancel()
			if err := s.Resync(rctx); err != nil {
				s.logger.Warn("post-reconnect resync failed", zap.Error(err))
			}
		}()
	}
	if err := rt.Connect(ctx); err != nil {
		return err
	}
	s.realtime = rt
	return nil
}

// Realtime returns the push transport, or nil before ConnectRealtime.
func (s *Session) Realtime() *Realtime { return s.realtime }

// Resync repairs a push-delivery gap with authoritative snapshot reloads:
// the chat list, the block lists, and, for the actively viewed chat, its
// messages, profile, and member presence.
func (s *Session) Resync(ctx context.Context) error {
	if err := s.loader.LoadChats(ctx); err != nil {
		return err
	}
	if err := s.loader.LoadBlockedUsers(ctx); err != nil {
		return err
	}

	active := s.store.ActiveChat()
	if active == "" {
		return nil
	}
	if err := s.loader.LoadMessages(ctx, active, ""); err != nil {
		return err
	}
	if err := s.loader.LoadChatProfile(ctx, active); err != nil {
		return err
	}
	chat, ok := s.store.Chat(active)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(chat.Members))
	for _, m := range chat.Members {
		ids = append(ids, m.UserID)
	}
	return s.loader.LoadPresenceBulk(ctx, ids)
}

// Close tears the session down: the push connection is closed and all
// entity state is dropped.
func (s *Session) Close() error {
	var err error
	if s.realtime != nil {
		err = s.realtime.Disconnect()
		s.realtime = nil
	}
	s.store.reset()
	return err
}

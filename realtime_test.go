package loqui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// newEventServer serves one websocket connection and writes the given frames
// in order.
func newEventServer(t *testing.T, frames [][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		ctx := r.Context()
		for _, f := range frames {
			if err := conn.Write(ctx, websocket.MessageText, f); err != nil {
				return
			}
		}
		// Keep the connection open until the client goes away.
		conn.Read(ctx)
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mustFrame(t *testing.T, ev Event) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return b
}

func TestRealtimeDeliversEventsInOrder(t *testing.T) {
	frames := [][]byte{
		mustFrame(t, Event{Kind: EventMessageDeleted, ChatID: "c1", MessageID: "m1"}),
		mustFrame(t, Event{Kind: EventMessageDeleted, ChatID: "c1", MessageID: "m2"}),
		mustFrame(t, Event{Kind: EventMessageDeleted, ChatID: "c1", MessageID: "m3"}),
	}
	srv := newEventServer(t, frames)

	received := make(chan Event, len(frames))
	rt := NewRealtime(wsURL(srv.URL), RealtimeConfig{}, func(ev Event) {
		received <- ev
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer rt.Disconnect()

	want := []string{"m1", "m2", "m3"}
	for i, id := range want {
		select {
		case ev := <-received:
			if ev.MessageID != id {
				t.Errorf("event %d: got %s, want %s", i, ev.MessageID, id)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestRealtimeSkipsMalformedFrames(t *testing.T) {
	frames := [][]byte{
		[]byte(`{not json`),
		mustFrame(t, Event{Kind: EventMessageDeleted, ChatID: "c1", MessageID: "m1"}),
	}
	srv := newEventServer(t, frames)

	received := make(chan Event, 2)
	rt := NewRealtime(wsURL(srv.URL), RealtimeConfig{}, func(ev Event) {
		received <- ev
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer rt.Disconnect()

	select {
	case ev := <-received:
		if ev.MessageID != "m1" {
			t.Errorf("got %s, want m1", ev.MessageID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("valid frame after malformed one never delivered")
	}
}

func TestRealtimeConnectAndDisconnectStates(t *testing.T) {
	srv := newEventServer(t, nil)

	connected := make(chan struct{})
	rt := NewRealtime(wsURL(srv.URL), RealtimeConfig{}, func(Event) {}, zap.NewNop())
	rt.OnConnected = func() { close(connected) }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("OnConnected never fired")
	}
	if got := rt.State(); got != StateConnected {
		t.Errorf("state = %q, want connected", got)
	}

	if err := rt.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if got := rt.State(); got != StateDisconnected {
		t.Errorf("state after disconnect = %q, want disconnected", got)
	}
}

func TestRealtimeDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	rt := NewRealtime(wsURL(srv.URL), RealtimeConfig{}, func(Event) {}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rt.Connect(ctx); err == nil {
		t.Fatal("Connect against closed server should fail")
	}
	if got := rt.State(); got != StateDisconnected {
		t.Errorf("state = %q, want disconnected", got)
	}
}

func TestWsURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://api.loqui.im", "wss://api.loqui.im/v1/events"},
		{"http://127.0.0.1:8080", "ws://127.0.0.1:8080/v1/events"},
	}
	for _, tt := range tests {
		if got := wsURL(tt.in); got != tt.want {
			t.Errorf("wsURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReconnectorBackoffGrowsAndCaps(t *testing.T) {
	cfg := RealtimeConfig{ReconnectBaseDelay: time.Second, ReconnectMaxDelay: 8 * time.Second}
	r := newReconnector(&cfg)

	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := r.nextDelay()
		if d < prev && d != cfg.ReconnectMaxDelay {
			t.Errorf("delay %d shrank before hitting the cap: %v after %v", i, d, prev)
		}
		if d > cfg.ReconnectMaxDelay {
			t.Errorf("delay %d exceeds cap: %v", i, d)
		}
		prev = d
	}
	if prev != cfg.ReconnectMaxDelay {
		t.Errorf("final delay = %v, want capped at %v", prev, cfg.ReconnectMaxDelay)
	}
}

func TestReconnectorAttemptResetAfterStableConnection(t *testing.T) {
	cfg := RealtimeConfig{ReconnectBaseDelay: time.Second, ReconnectMaxDelay: 30 * time.Second}
	r := newReconnector(&cfg)

	for i := 0; i < 5; i++ {
		r.nextDelay()
	}
	r.connectedAt = time.Now().Add(-2 * time.Minute)

	if d := r.nextDelay(); d >= 2*time.Second {
		t.Errorf("delay after stable connection = %v, want backoff reset", d)
	}
}

func TestReconnectorMaxAttempts(t *testing.T) {
	cfg := RealtimeConfig{
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    time.Millisecond,
		MaxReconnectAttempts: 2,
	}
	r := newReconnector(&cfg)

	if !r.shouldReconnect() {
		t.Fatal("should reconnect before any attempt")
	}
	r.nextDelay()
	if !r.shouldReconnect() {
		t.Fatal("should reconnect after first attempt")
	}
	r.nextDelay()
	if r.shouldReconnect() {
		t.Error("attempt limit not enforced")
	}
}

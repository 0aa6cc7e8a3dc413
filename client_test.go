package loqui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// recordedRequest captures what the client put on the wire.
type recordedRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   []byte
}

func newTestClient(t *testing.T, status int, responseBody string) (*Client, *recordedRequest) {
	t.Helper()
	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.auth = r.Header.Get("Authorization")
		rec.body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, responseBody)
	}))
	t.Cleanup(srv.Close)
	return NewClient("tok-123", WithBaseURL(srv.URL)), rec
}

func TestClientGetChats(t *testing.T) {
	client, rec := newTestClient(t, http.StatusOK,
		`{"data":[{"id":"c1","kind":"group","title":"general"}]}`)

	chats, err := client.GetChats(context.Background())
	if err != nil {
		t.Fatalf("GetChats: %v", err)
	}
	if rec.method != http.MethodGet || rec.path != "/v1/chats" {
		t.Errorf("request = %s %s", rec.method, rec.path)
	}
	if rec.auth != "Bearer tok-123" {
		t.Errorf("auth header = %q", rec.auth)
	}
	if len(chats) != 1 || chats[0].ID != "c1" || chats[0].Kind != ChatGroup {
		t.Errorf("chats = %+v", chats)
	}
}

func TestClientGetMessagesQuery(t *testing.T) {
	client, rec := newTestClient(t, http.StatusOK, `{"data":[]}`)

	if _, err := client.GetMessages(context.Background(), "c1", "m50", 25); err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if rec.path != "/v1/chats/c1/messages" {
		t.Errorf("path = %q", rec.path)
	}
	if rec.query != "before=m50&limit=25" {
		t.Errorf("query = %q", rec.query)
	}
}

func TestClientPostMessageBody(t *testing.T) {
	client, rec := newTestClient(t, http.StatusOK,
		`{"data":{"id":"m1","chatId":"c1","senderId":"me","content":"hi","sentAt":"2026-03-01T12:00:00Z"}}`)

	sent, err := client.PostMessage(context.Background(), PostMessageRequest{
		ChatID: "c1", Content: "hi", ReplyToID: "m0",
	})
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if rec.method != http.MethodPost || rec.path != "/v1/chats/c1/messages" {
		t.Errorf("request = %s %s", rec.method, rec.path)
	}
	var body PostMessageRequest
	if err := json.Unmarshal(rec.body, &body); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if body.Content != "hi" || body.ReplyToID != "m0" {
		t.Errorf("body = %+v", body)
	}
	if sent.ID != "m1" || !sent.SentAt.Equal(baseTime) {
		t.Errorf("sent = %+v", sent)
	}
}

func TestClientPinUnpinVerbs(t *testing.T) {
	client, rec := newTestClient(t, http.StatusOK, `{}`)

	if err := client.PinMessage(context.Background(), "m1"); err != nil {
		t.Fatalf("PinMessage: %v", err)
	}
	if rec.method != http.MethodPost || rec.path != "/v1/messages/m1/pin" {
		t.Errorf("pin request = %s %s", rec.method, rec.path)
	}

	if err := client.UnpinMessage(context.Background(), "m1"); err != nil {
		t.Fatalf("UnpinMessage: %v", err)
	}
	if rec.method != http.MethodDelete || rec.path != "/v1/messages/m1/pin" {
		t.Errorf("unpin request = %s %s", rec.method, rec.path)
	}
}

func TestClientErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   FailureKind
	}{
		{"forbidden", http.StatusForbidden, `{"error":{"code":"FORBIDDEN","message":"no"}}`, FailureAuthorizationDenied},
		{"blocked code", http.StatusForbidden, `{"error":{"code":"BLOCKED","message":"user blocked you"}}`, FailureAuthorizationDenied},
		{"not found", http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"gone"}}`, FailureNotFound},
		{"conflict", http.StatusConflict, `{"error":{"code":"STALE_VERSION","message":"raced"}}`, FailureConflict},
		{"bad request", http.StatusBadRequest, `{"error":{"code":"INVALID","message":"empty content"}}`, FailureValidation},
		{"server error", http.StatusInternalServerError, ``, FailureNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, tt.status, tt.body)
			err := client.DeleteMessage(context.Background(), "m1")
			f, ok := AsFailure(err)
			if !ok {
				t.Fatalf("err = %v, want *Failure", err)
			}
			if f.Kind != tt.want {
				t.Errorf("kind = %q, want %q", f.Kind, tt.want)
			}
		})
	}
}

func TestClientConnectionErrorIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	client := NewClient("tok", WithBaseURL(srv.URL))

	err := client.DeleteMessage(context.Background(), "m1")
	f, ok := AsFailure(err)
	if !ok || f.Kind != FailureNetwork {
		t.Fatalf("err = %v, want network failure", err)
	}
}

func TestClientPresenceBulkBody(t *testing.T) {
	client, rec := newTestClient(t, http.StatusOK,
		`{"data":[{"userId":"alice","online":true,"version":3}]}`)

	recs, err := client.GetPresenceBulk(context.Background(), []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("GetPresenceBulk: %v", err)
	}
	if rec.method != http.MethodPost || rec.path != "/v1/presence/bulk" {
		t.Errorf("request = %s %s", rec.method, rec.path)
	}
	var body map[string][]string
	if err := json.Unmarshal(rec.body, &body); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if len(body["userIds"]) != 2 {
		t.Errorf("userIds = %v", body["userIds"])
	}
	if len(recs) != 1 || recs[0].Version != 3 {
		t.Errorf("records = %+v", recs)
	}
}

func TestClientMembershipPaths(t *testing.T) {
	client, rec := newTestClient(t, http.StatusOK, `{}`)

	if err := client.JoinChat(context.Background(), "c1"); err != nil {
		t.Fatalf("JoinChat: %v", err)
	}
	if rec.method != http.MethodPost || rec.path != "/v1/chats/c1/members/me" {
		t.Errorf("join request = %s %s", rec.method, rec.path)
	}

	if err := client.BanUser(context.Background(), "c1", "alice"); err != nil {
		t.Fatalf("BanUser: %v", err)
	}
	if rec.method != http.MethodPost || rec.path != "/v1/chats/c1/bans/alice" {
		t.Errorf("ban request = %s %s", rec.method, rec.path)
	}
}

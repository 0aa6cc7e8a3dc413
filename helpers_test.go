package loqui

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
)

const testSelfID = "me"

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeAPI implements ChatAPI with overridable function fields. Unset fields
// succeed with zero values.
type fakeAPI struct {
	GetChatsFn         func(ctx context.Context) ([]Chat, error)
	GetMessagesFn      func(ctx context.Context, chatID, before string, limit int) ([]Message, error)
	GetChatProfileFn   func(ctx context.Context, chatID string) (*ChatProfile, error)
	PostMessageFn      func(ctx context.Context, req PostMessageRequest) (*Message, error)
	PatchMessageFn     func(ctx context.Context, messageID, content string) (*Message, error)
	DeleteMessageFn    func(ctx context.Context, messageID string) error
	ToggleReactionFn   func(ctx context.Context, messageID, kind string) error
	PinMessageFn       func(ctx context.Context, messageID string) error
	UnpinMessageFn     func(ctx context.Context, messageID string) error
	GetPermissionsFn   func(ctx context.Context, chatID, userID string) ([]string, error)
	GrantPermissionFn  func(ctx context.Context, chatID, userID, name string) error
	RevokePermissionFn func(ctx context.Context, chatID, userID, name string) error
	GetPresenceBulkFn  func(ctx context.Context, userIDs []string) ([]PresenceRecord, error)
	BlockUserFn        func(ctx context.Context, userID string) error
	UnblockUserFn      func(ctx context.Context, userID string) error
	GetBlockedUsersFn  func(ctx context.Context) (*BlockList, error)
	BanUserFn          func(ctx context.Context, chatID, userID string) error
	UnbanUserFn        func(ctx context.Context, chatID, userID string) error
	JoinChatFn         func(ctx context.Context, chatID string) error
	LeaveChatFn        func(ctx context.Context, chatID string) error
}

var _ ChatAPI = (*fakeAPI)(nil)

func (f *fakeAPI) GetChats(ctx context.Context) ([]Chat, error) {
	if f.GetChatsFn != nil {
		return f.GetChatsFn(ctx)
	}
	return nil, nil
}

func (f *fakeAPI) GetMessages(ctx context.Context, chatID, before string, limit int) ([]Message, error) {
	if f.GetMessagesFn != nil {
		return f.GetMessagesFn(ctx, chatID, before, limit)
	}
	return nil, nil
}

func (f *fakeAPI) GetChatProfile(ctx context.Context, chatID string) (*ChatProfile, error) {
	if f.GetChatProfileFn != nil {
		return f.GetChatProfileFn(ctx, chatID)
	}
	return &ChatProfile{ID: chatID}, nil
}

func (f *fakeAPI) PostMessage(ctx context.Context, req PostMessageRequest) (*Message, error) {
	if f.PostMessageFn != nil {
		return f.PostMessageFn(ctx, req)
	}
	return &Message{ID: "srv-1", ChatID: req.ChatID, SenderID: testSelfID, Content: req.Content, SentAt: baseTime}, nil
}

func (f *fakeAPI) PatchMessage(ctx context.Context, messageID, content string) (*Message, error) {
	if f.PatchMessageFn != nil {
		return f.PatchMessageFn(ctx, messageID, content)
	}
	return &Message{ID: messageID, Content: content}, nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, messageID string) error {
	if f.DeleteMessageFn != nil {
		return f.DeleteMessageFn(ctx, messageID)
	}
	return nil
}

func (f *fakeAPI) ToggleReaction(ctx context.Context, messageID, kind string) error {
	if f.ToggleReactionFn != nil {
		return f.ToggleReactionFn(ctx, messageID, kind)
	}
	return nil
}

func (f *fakeAPI) PinMessage(ctx context.Context, messageID string) error {
	if f.PinMessageFn != nil {
		return f.PinMessageFn(ctx, messageID)
	}
	return nil
}

func (f *fakeAPI) UnpinMessage(ctx context.Context, messageID string) error {
	if f.UnpinMessageFn != nil {
		return f.UnpinMessageFn(ctx, messageID)
	}
	return nil
}

func (f *fakeAPI) GetPermissions(ctx context.Context, chatID, userID string) ([]string, error) {
	if f.GetPermissionsFn != nil {
		return f.GetPermissionsFn(ctx, chatID, userID)
	}
	return nil, nil
}

func (f *fakeAPI) GrantPermission(ctx context.Context, chatID, userID, name string) error {
	if f.GrantPermissionFn != nil {
		return f.GrantPermissionFn(ctx, chatID, userID, name)
	}
	return nil
}

func (f *fakeAPI) RevokePermission(ctx context.Context, chatID, userID, name string) error {
	if f.RevokePermissionFn != nil {
		return f.RevokePermissionFn(ctx, chatID, userID, name)
	}
	return nil
}

func (f *fakeAPI) GetPresenceBulk(ctx context.Context, userIDs []string) ([]PresenceRecord, error) {
	if f.GetPresenceBulkFn != nil {
		return f.GetPresenceBulkFn(ctx, userIDs)
	}
	return nil, nil
}

func (f *fakeAPI) BlockUser(ctx context.Context, userID string) error {
	if f.BlockUserFn != nil {
		return f.BlockUserFn(ctx, userID)
	}
	return nil
}

func (f *fakeAPI) UnblockUser(ctx context.Context, userID string) error {
	if f.UnblockUserFn != nil {
		return f.UnblockUserFn(ctx, userID)
	}
	return nil
}

func (f *fakeAPI) GetBlockedUsers(ctx context.Context) (*BlockList, error) {
	if f.GetBlockedUsersFn != nil {
		return f.GetBlockedUsersFn(ctx)
	}
	return &BlockList{}, nil
}

func (f *fakeAPI) BanUser(ctx context.Context, chatID, userID string) error {
	if f.BanUserFn != nil {
		return f.BanUserFn(ctx, chatID, userID)
	}
	return nil
}

func (f *fakeAPI) UnbanUser(ctx context.Context, chatID, userID string) error {
	if f.UnbanUserFn != nil {
		return f.UnbanUserFn(ctx, chatID, userID)
	}
	return nil
}

func (f *fakeAPI) JoinChat(ctx context.Context, chatID string) error {
	if f.JoinChatFn != nil {
		return f.JoinChatFn(ctx, chatID)
	}
	return nil
}

func (f *fakeAPI) LeaveChat(ctx context.Context, chatID string) error {
	if f.LeaveChatFn != nil {
		return f.LeaveChatFn(ctx, chatID)
	}
	return nil
}

// newTestSession builds a session wired to the fake API.
func newTestSession(t *testing.T, api ChatAPI) *Session {
	t.Helper()
	sess, err := NewSession("", WithAPI(api), WithUserID(testSelfID), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess
}

// msg builds a confirmed message n seconds after baseTime.
func msg(id, chatID, senderID string, offsetSec int) Message {
	return Message{
		ID:       id,
		ChatID:   chatID,
		SenderID: senderID,
		Content:  "m-" + id,
		SentAt:   baseTime.Add(time.Duration(offsetSec) * time.Second),
	}
}

// event builds a push event with a JSON payload.
func event(t *testing.T, kind EventKind, chatID, messageID, userID string, payload any) Event {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		raw = b
	}
	return Event{Kind: kind, ChatID: chatID, MessageID: messageID, UserID: userID, Payload: raw}
}

func authDenied(reason string) *Failure {
	return &Failure{Kind: FailureAuthorizationDenied, Reason: reason}
}

func netFailure(reason string) *Failure {
	return &Failure{Kind: FailureNetwork, Reason: reason}
}

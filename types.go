package loqui

import "time"

// ============================================================================
// Entity Types
// ============================================================================

// ChatKind distinguishes the three conversation shapes the server exposes.
type ChatKind string

const (
	ChatDirect  ChatKind = "direct"
	ChatGroup   ChatKind = "group"
	ChatChannel ChatKind = "channel"
)

// Role is a member's role within a chat. Creator status is tracked on the
// Chat itself (CreatorID), not as a role.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// Member is one entry of a chat's member list.
type Member struct {
	UserID   string    `json:"userId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Chat is a conversation the current user participates in.
type Chat struct {
	ID            string   `json:"id"`
	Kind          ChatKind `json:"kind"`
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description,omitempty"`
	Members       []Member `json:"members,omitempty"`
	Private       bool     `json:"private,omitempty"`
	CreatorID     string   `json:"creatorId,omitempty"`
	LastMessageID string   `json:"lastMessageId,omitempty"`
	UnreadCount   int      `json:"unreadCount,omitempty"`
}

// memberIndex returns the position of userID in the member list, or -1.
func (c *Chat) memberIndex(userID string) int {
	for i := range c.Members {
		if c.Members[i].UserID == userID {
			return i
		}
	}
	return -1
}

// counterpart returns the other participant of a direct chat relative to
// selfID. Empty for non-direct chats or unloaded member lists.
func (c *Chat) counterpart(selfID string) string {
	if c.Kind != ChatDirect {
		return ""
	}
	for i := range c.Members {
		if c.Members[i].UserID != selfID {
			return c.Members[i].UserID
		}
	}
	return ""
}

func (c *Chat) clone() Chat {
	out := *c
	out.Members = append([]Member(nil), c.Members...)
	return out
}

// MessageStatus is the local delivery state of a message. Wire messages
// carry no status; the zero value normalizes to StatusConfirmed on insert.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusFailed    MessageStatus = "failed"
	StatusConfirmed MessageStatus = "confirmed"
)

// Attachment references an uploaded file. Upload mechanics live outside the
// engine; the engine only carries the reference.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ReactionTally holds the contributor set for one reaction kind. The count
// is always len(Users); it is never stored separately.
type ReactionTally struct {
	Users []string `json:"users"`
}

// Count returns how many users contributed this reaction. Safe on a nil
// tally, which is how an absent reaction kind reads out of the map.
func (t *ReactionTally) Count() int {
	if t == nil {
		return 0
	}
	return len(t.Users)
}

// Has reports whether userID contributed this reaction. Safe on a nil tally.
func (t *ReactionTally) Has(userID string) bool {
	if t == nil {
		return false
	}
	for _, u := range t.Users {
		if u == userID {
			return true
		}
	}
	return false
}

func (t *ReactionTally) add(userID string) {
	if !t.Has(userID) {
		t.Users = append(t.Users, userID)
	}
}

func (t *ReactionTally) remove(userID string) {
	for i, u := range t.Users {
		if u == userID {
			t.Users = append(t.Users[:i], t.Users[i+1:]...)
			return
		}
	}
}

// Message is a single chat message. Messages within a chat are ordered by
// (SentAt, ID) ascending; ChatID never changes after creation.
type Message struct {
	ID         string                    `json:"id"`
	ChatID     string                    `json:"chatId"`
	SenderID   string                    `json:"senderId"`
	Content    string                    `json:"content,omitempty"`
	Attachment *Attachment               `json:"attachment,omitempty"`
	SentAt     time.Time                 `json:"sentAt"`
	EditedAt   *time.Time                `json:"editedAt,omitempty"`
	ReplyToID  string                    `json:"replyToId,omitempty"`
	Pinned     bool                      `json:"pinned,omitempty"`
	Reactions  map[string]*ReactionTally `json:"reactions,omitempty"`

	// Local-only fields, never sent on the wire.
	Status   MessageStatus `json:"-"`
	ClientID string        `json:"-"`
	Seen     bool          `json:"-"`
}

// messageLess is the canonical ordering of messages within a chat.
func messageLess(a, b *Message) bool {
	if !a.SentAt.Equal(b.SentAt) {
		return a.SentAt.Before(b.SentAt)
	}
	return a.ID < b.ID
}

// clone returns a deep copy so callers never hold a reference into the store.
func (m *Message) clone() Message {
	out := *m
	if m.Attachment != nil {
		att := *m.Attachment
		out.Attachment = &att
	}
	if m.EditedAt != nil {
		at := *m.EditedAt
		out.EditedAt = &at
	}
	if m.Reactions != nil {
		out.Reactions = make(map[string]*ReactionTally, len(m.Reactions))
		for k, t := range m.Reactions {
			out.Reactions[k] = &ReactionTally{Users: append([]string(nil), t.Users...)}
		}
	}
	return out
}

// PresenceRecord is a user's online/offline status. Version is a monotonic
// counter assigned by the server; stale writes are rejected on upsert.
type PresenceRecord struct {
	UserID     string     `json:"userId"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
	Version    int64      `json:"version"`
}

// PermissionView is the result of the effective-permission projection.
// Unrestricted is true for the chat creator and admins, whose permission
// checks bypass the cached set entirely.
type PermissionView struct {
	Unrestricted bool
	Names        []string
}

// Allows reports whether the view grants the named permission.
func (v PermissionView) Allows(name string) bool {
	if v.Unrestricted {
		return true
	}
	for _, n := range v.Names {
		if n == name {
			return true
		}
	}
	return false
}

// ============================================================================
// Wire Types
// ============================================================================

// APIError is the error body returned by the REST API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// ChatProfile is the response of GetChatProfile: the full member list plus
// the metadata the chat-list snapshot omits.
type ChatProfile struct {
	ID          string   `json:"id"`
	Kind        ChatKind `json:"kind"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Private     bool     `json:"private"`
	CreatorID   string   `json:"creatorId"`
	Members     []Member `json:"members"`
}

// BlockList is the response of GetBlockedUsers. The two directions are
// independent: BlockedByMe are users I blocked, BlockingMe are users who
// blocked me.
type BlockList struct {
	BlockedByMe []string `json:"blockedByMe"`
	BlockingMe  []string `json:"blockingMe"`
}

// PostMessageRequest is the payload of PostMessage. Content or Attachment
// must be present.
type PostMessageRequest struct {
	ChatID     string      `json:"chatId"`
	Content    string      `json:"content,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	ReplyToID  string      `json:"replyToId,omitempty"`
}

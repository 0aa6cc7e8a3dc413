package loqui

import (
	"encoding/json"
	"time"
)

// EventKind identifies a push event. The set is closed; the dispatcher
// matches it exhaustively and drops anything else.
type EventKind string

const (
	EventMessageCreated EventKind = "message.created"
	EventMessageEdited  EventKind = "message.edited"
	EventMessageDeleted EventKind = "message.deleted"

	EventReactionAdded   EventKind = "reaction.added"
	EventReactionRemoved EventKind = "reaction.removed"

	EventMessagePinned   EventKind = "message.pinned"
	EventMessageUnpinned EventKind = "message.unpinned"

	EventPresenceChanged EventKind = "presence.changed"

	EventPermissionGranted EventKind = "permission.granted"
	EventPermissionRevoked EventKind = "permission.revoked"

	EventMemberBanned   EventKind = "chat.memberBanned"
	EventMemberUnbanned EventKind = "chat.memberUnbanned"
	EventMemberJoined   EventKind = "chat.memberJoined"
	EventMemberLeft     EventKind = "chat.memberLeft"
)

// Event is the wire envelope for every push notification. The id fields are
// populated per kind; Payload carries the kind-specific body, decoded by
// the dispatcher into the typed payload structs below.
type Event struct {
	Kind      EventKind       `json:"kind"`
	ChatID    string          `json:"chatId,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// MessageEditedPayload carries the new content of an edited message.
type MessageEditedPayload struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"editedAt"`
}

// ReactionPayload names the reaction kind being toggled. The acting user
// and target message come from the envelope.
type ReactionPayload struct {
	Kind string `json:"kind"`
}

// PresencePayload is the body of presence.changed.
type PresencePayload struct {
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
	Version    int64      `json:"version"`
}

// PermissionPayload names the permission being granted or revoked. The
// subject user and chat come from the envelope.
type PermissionPayload struct {
	Name string `json:"name"`
}

// MemberJoinedPayload describes the new member of chat.memberJoined.
type MemberJoinedPayload struct {
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

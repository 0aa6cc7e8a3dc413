package loqui

import (
	"encoding/json"

	"go.uber.org/zap"
)

// Dispatcher is the single entry point for inbound push events. Events are
// applied strictly in arrival order: the transport guarantees ordered
// delivery per connection, and the dispatcher neither reorders nor batches.
// It provides no gap detection: after a reconnect the caller repairs any
// gap with snapshot reloads (see Session.Resync).
type Dispatcher struct {
	store  *Store
	logger *zap.Logger
}

func newDispatcher(store *Store, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{store: store, logger: logger}
}

// HandleEvent classifies one push event and applies exactly the
// corresponding store mutation. Malformed or unknown events are logged and
// dropped; one bad event must not break the stream for the rest.
func (d *Dispatcher) HandleEvent(ev Event) {
	switch ev.Kind {
	case EventMessageCreated:
		var m Message
		if !d.decode(ev, &m) {
			return
		}
		if m.ChatID == "" {
			m.ChatID = ev.ChatID
		}
		d.store.UpsertMessage(m)

	case EventMessageEdited:
		var p MessageEditedPayload
		if !d.decode(ev, &p) {
			return
		}
		edited := p.EditedAt
		ok := d.store.patchMessage(ev.MessageID, func(m *Message) {
			m.Content = p.Content
			m.EditedAt = &edited
		})
		if !ok {
			d.logger.Debug("edit for unknown message dropped",
				zap.String("message_id", ev.MessageID))
		}

	case EventMessageDeleted:
		d.store.RemoveMessage(ev.MessageID)

	case EventReactionAdded, EventReactionRemoved:
		var p ReactionPayload
		if !d.decode(ev, &p) {
			return
		}
		add := ev.Kind == EventReactionAdded
		d.store.patchMessage(ev.MessageID, func(m *Message) {
			if m.Reactions == nil {
				m.Reactions = make(map[string]*ReactionTally)
			}
			t := m.Reactions[p.Kind]
			if t == nil {
				t = &ReactionTally{}
				m.Reactions[p.Kind] = t
			}
			if add {
				t.add(ev.UserID)
			} else {
				t.remove(ev.UserID)
				if t.Count() == 0 {
					delete(m.Reactions, p.Kind)
				}
			}
		})

	case EventMessagePinned, EventMessageUnpinned:
		pinned := ev.Kind == EventMessagePinned
		d.store.patchMessage(ev.MessageID, func(m *Message) { m.Pinned = pinned })

	case EventPresenceChanged:
		var p PresencePayload
		if !d.decode(ev, &p) {
			return
		}
		applied := d.store.UpsertPresence(PresenceRecord{
			UserID:     ev.UserID,
			Online:     p.Online,
			LastSeenAt: p.LastSeenAt,
			Version:    p.Version,
		})
		if !applied {
			d.logger.Debug("stale presence event discarded",
				zap.String("user_id", ev.UserID),
				zap.Int64("version", p.Version))
		}

	case EventPermissionGranted, EventPermissionRevoked:
		var p PermissionPayload
		if !d.decode(ev, &p) {
			return
		}
		var applied bool
		if ev.Kind == EventPermissionGranted {
			applied = d.store.grantPermission(ev.ChatID, ev.UserID, p.Name)
		} else {
			applied = d.store.revokePermission(ev.ChatID, ev.UserID, p.Name)
		}
		if !applied {
			// Set not loaded for this (chat, user); it stays empty until a
			// snapshot loads it.
			d.logger.Debug("permission event for unloaded set ignored",
				zap.String("chat_id", ev.ChatID),
				zap.String("user_id", ev.UserID),
				zap.String("name", p.Name))
		}

	case EventMemberJoined:
		var p MemberJoinedPayload
		if !d.decode(ev, &p) {
			return
		}
		role := p.Role
		if role == "" {
			role = RoleMember
		}
		d.store.upsertMember(ev.ChatID, Member{UserID: ev.UserID, Role: role, JoinedAt: p.JoinedAt})

	case EventMemberLeft, EventMemberBanned:
		d.store.removeMember(ev.ChatID, ev.UserID)

	case EventMemberUnbanned:
		// Nothing to mutate locally: an unban does not re-add membership,
		// it only lifts the server-side restriction.

	default:
		d.logger.Warn("unknown event kind dropped", zap.String("kind", string(ev.Kind)))
	}
}

func (d *Dispatcher) decode(ev Event, into any) bool {
	if err := json.Unmarshal(ev.Payload, into); err != nil {
		d.logger.Warn("malformed event payload dropped",
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
		return false
	}
	return true
}

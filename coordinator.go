package loqui

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Coordinator wraps every user-initiated write in the apply/confirm/rollback
// protocol: the store mutates immediately so the UI reflects the action, the
// API call confirms or rejects it, and a rejection restores the exact prior
// state. A failed write never leaves a store half-applied.
//
// Failure handling by kind: Network and AuthorizationDenied roll back (the
// former retryable, the latter not); Validation is rejected before any
// mutation; NotFound removes the entity locally instead of rolling back;
// Conflict keeps the optimistic value and lets the authoritative push event
// overwrite it.
type Coordinator struct {
	api    ChatAPI
	store  *Store
	logger *zap.Logger
}

func newCoordinator(api ChatAPI, store *Store, logger *zap.Logger) *Coordinator {
	return &Coordinator{api: api, store: store, logger: logger}
}

func (c *Coordinator) fail(op string, err error) *Failure {
	f := asEngineFailure(err)
	c.logger.Warn("mutation failed",
		zap.String("op", op),
		zap.String("kind", string(f.Kind)),
		zap.String("reason", f.Reason))
	return f
}

// ============================================================================
// Send / edit / delete
// ============================================================================

// SendMessage inserts a provisional message immediately and reconciles it
// with the server response: on success the provisional entity is re-keyed
// to the server-assigned id, on failure it is marked failed and kept so the
// caller can offer a retry. It never silently disappears.
func (c *Coordinator) SendMessage(ctx context.Context, req PostMessageRequest) (Message, error) {
	if req.ChatID == "" {
		return Message{}, validationf("chat id is required")
	}
	if req.Content == "" && req.Attachment == nil {
		return Message{}, validationf("message needs content or an attachment")
	}

	provisional := Message{
		ID:         "local-" + uuid.NewString(),
		ChatID:     req.ChatID,
		SenderID:   c.store.SelfID(),
		Content:    req.Content,
		Attachment: req.Attachment,
		ReplyToID:  req.ReplyToID,
		SentAt:     time.Now().UTC(),
		Status:     StatusPending,
	}
	provisional.ClientID = provisional.ID
	c.store.UpsertMessage(provisional)

	return c.confirmSend(ctx, provisional.ID, req)
}

// RetrySend re-issues a previously failed provisional message.
func (c *Coordinator) RetrySend(ctx context.Context, messageID string) (Message, error) {
	m, ok := c.store.Message(messageID)
	if !ok {
		return Message{}, newFailure(FailureNotFound, "no such message", nil)
	}
	if m.Status != StatusFailed {
		return Message{}, validationf("message %s is not in a failed state", messageID)
	}
	c.store.setMessageStatus(messageID, StatusPending)
	return c.confirmSend(ctx, messageID, PostMessageRequest{
		ChatID:     m.ChatID,
		Content:    m.Content,
		Attachment: m.Attachment,
		ReplyToID:  m.ReplyToID,
	})
}

func (c *Coordinator) confirmSend(ctx context.Context, provisionalID string, req PostMessageRequest) (Message, error) {
	sent, err := c.api.PostMessage(ctx, req)
	if err != nil {
		f := c.fail("send", err)
		if f.Kind == FailureNotFound {
			// The chat vanished server-side; the provisional has nowhere
			// to live.
			c.store.RemoveMessage(provisionalID)
		} else {
			c.store.setMessageStatus(provisionalID, StatusFailed)
		}
		return Message{}, f
	}
	c.store.rekeyMessage(provisionalID, *sent)
	final, _ := c.store.Message(sent.ID)
	return final, nil
}

// EditMessage applies the new content immediately and rolls back on
// rejection. The confirming push event re-applies the same edit, which is
// an idempotent no-op.
func (c *Coordinator) EditMessage(ctx context.Context, messageID, content string) error {
	if content == "" {
		return validationf("edited content must not be empty")
	}
	prior, ok := c.store.Message(messageID)
	if !ok {
		return newFailure(FailureNotFound, "no such message", nil)
	}

	now := time.Now().UTC()
	c.store.patchMessage(messageID, func(m *Message) {
		m.Content = content
		m.EditedAt = &now
	})

	if _, err := c.api.PatchMessage(ctx, messageID, content); err != nil {
		f := c.fail("edit", err)
		if f.Kind == FailureNotFound {
			c.store.RemoveMessage(messageID)
			return f
		}
		c.store.patchMessage(messageID, func(m *Message) {
			m.Content = prior.Content
			m.EditedAt = prior.EditedAt
		})
		return f
	}
	return nil
}

// DeleteMessage removes the message immediately and restores it (at its
// original position) if the server rejects the deletion.
func (c *Coordinator) DeleteMessage(ctx context.Context, messageID string) error {
	prior, ok := c.store.Message(messageID)
	if !ok {
		return newFailure(FailureNotFound, "no such message", nil)
	}
	c.store.RemoveMessage(messageID)

	if err := c.api.DeleteMessage(ctx, messageID); err != nil {
		f := c.fail("delete", err)
		if f.Kind == FailureNotFound {
			// Already gone server-side; local removal stands.
			return f
		}
		c.store.restoreMessage(prior)
		return f
	}
	return nil
}

// ============================================================================
// Reaction / pin toggles
// ============================================================================

// ToggleReaction flips the current user's reaction locally and confirms it.
// The authoritative push event, addressed to all participants including the
// actor, always wins over the optimistic flip; on a version conflict the
// optimistic value is left in place for the event to overwrite.
func (c *Coordinator) ToggleReaction(ctx context.Context, messageID, kind string) error {
	if kind == "" {
		return validationf("reaction kind is required")
	}
	m, ok := c.store.Message(messageID)
	if !ok {
		return newFailure(FailureNotFound, "no such message", nil)
	}

	self := c.store.SelfID()
	had := m.Reactions[kind].Has(self)
	c.setReaction(messageID, kind, self, !had)

	if err := c.api.ToggleReaction(ctx, messageID, kind); err != nil {
		f := c.fail("reaction", err)
		switch f.Kind {
		case FailureNotFound:
			c.store.RemoveMessage(messageID)
		case FailureConflict:
			// Not an error path: the authoritative event resolves it.
			c.logger.Debug("reaction toggle conflicted, awaiting event",
				zap.String("message_id", messageID))
			return nil
		default:
			c.setReaction(messageID, kind, self, had)
		}
		return f
	}
	return nil
}

func (c *Coordinator) setReaction(messageID, kind, userID string, on bool) {
	c.store.patchMessage(messageID, func(m *Message) {
		if m.Reactions == nil {
			m.Reactions = make(map[string]*ReactionTally)
		}
		t := m.Reactions[kind]
		if t == nil {
			t = &ReactionTally{}
			m.Reactions[kind] = t
		}
		if on {
			t.add(userID)
		} else {
			t.remove(userID)
			if t.Count() == 0 {
				delete(m.Reactions, kind)
			}
		}
	})
}

// TogglePin flips the pinned flag locally and confirms it, rolling back on
// rejection.
func (c *Coordinator) TogglePin(ctx context.Context, messageID string) error {
	m, ok := c.store.Message(messageID)
	if !ok {
		return newFailure(FailureNotFound, "no such message", nil)
	}

	want := !m.Pinned
	c.store.patchMessage(messageID, func(msg *Message) { msg.Pinned = want })

	var err error
	if want {
		err = c.api.PinMessage(ctx, messageID)
	} else {
		err = c.api.UnpinMessage(ctx, messageID)
	}
	if err != nil {
		f := c.fail("pin", err)
		switch f.Kind {
		case FailureNotFound:
			c.store.RemoveMessage(messageID)
		case FailureConflict:
			c.logger.Debug("pin toggle conflicted, awaiting event",
				zap.String("message_id", messageID))
			return nil
		default:
			c.store.patchMessage(messageID, func(msg *Message) { msg.Pinned = m.Pinned })
		}
		return f
	}
	return nil
}

// ============================================================================
// Blocks
// ============================================================================

// BlockUser records the block immediately. The messaging affordance of an
// open direct chat with this user is derived from the block relation on
// every render query (IsMessagingBlocked), never cached, so it flips in the
// same instant with nothing extra to invalidate.
func (c *Coordinator) BlockUser(ctx context.Context, userID string) error {
	return c.setBlock(ctx, userID, true)
}

// UnblockUser lifts a block immediately, rolling back on rejection.
func (c *Coordinator) UnblockUser(ctx context.Context, userID string) error {
	return c.setBlock(ctx, userID, false)
}

func (c *Coordinator) setBlock(ctx context.Context, userID string, blocked bool) error {
	if userID == "" {
		return validationf("user id is required")
	}
	prior := c.store.IsBlockedByMe(userID)
	if prior == blocked {
		return nil
	}
	c.store.setBlockedByMe(userID, blocked)

	var err error
	if blocked {
		err = c.api.BlockUser(ctx, userID)
	} else {
		err = c.api.UnblockUser(ctx, userID)
	}
	if err != nil {
		f := c.fail("block", err)
		c.store.setBlockedByMe(userID, prior)
		return f
	}
	return nil
}

// ============================================================================
// Permissions
// ============================================================================

// GrantPermission grants a permission. Only self-service changes (the
// acting user is the subject) get the optimistic path; changes to other
// users rely exclusively on the confirming push event.
func (c *Coordinator) GrantPermission(ctx context.Context, chatID, userID, name string) error {
	return c.setPermission(ctx, chatID, userID, name, true)
}

// RevokePermission revokes a permission, with the same self-service rule.
func (c *Coordinator) RevokePermission(ctx context.Context, chatID, userID, name string) error {
	return c.setPermission(ctx, chatID, userID, name, false)
}

func (c *Coordinator) setPermission(ctx context.Context, chatID, userID, name string, grant bool) error {
	if name == "" {
		return validationf("permission name is required")
	}

	optimistic := userID == c.store.SelfID()
	var hadBefore, loaded bool
	if optimistic {
		var names []string
		names, loaded = c.store.Permissions(chatID, userID)
		if loaded {
			for _, n := range names {
				if n == name {
					hadBefore = true
					break
				}
			}
			if grant {
				c.store.grantPermission(chatID, userID, name)
			} else {
				c.store.revokePermission(chatID, userID, name)
			}
		}
	}

	var err error
	if grant {
		err = c.api.GrantPermission(ctx, chatID, userID, name)
	} else {
		err = c.api.RevokePermission(ctx, chatID, userID, name)
	}
	if err != nil {
		f := c.fail("permission", err)
		if optimistic && loaded {
			if hadBefore {
				c.store.grantPermission(chatID, userID, name)
			} else {
				c.store.revokePermission(chatID, userID, name)
			}
		}
		return f
	}
	return nil
}

// ============================================================================
// Membership & bans (event-confirmed, no optimistic path)
// ============================================================================

// BanUser bans userID from a chat. The member list mutates when the
// chat.memberBanned event confirms it.
func (c *Coordinator) BanUser(ctx context.Context, chatID, userID string) error {
	if err := c.api.BanUser(ctx, chatID, userID); err != nil {
		return c.fail("ban", err)
	}
	return nil
}

// UnbanUser lifts a ban; confirmed by chat.memberUnbanned.
func (c *Coordinator) UnbanUser(ctx context.Context, chatID, userID string) error {
	if err := c.api.UnbanUser(ctx, chatID, userID); err != nil {
		return c.fail("unban", err)
	}
	return nil
}

// JoinChat joins a chat; the member list updates on chat.memberJoined.
func (c *Coordinator) JoinChat(ctx context.Context, chatID string) error {
	if err := c.api.JoinChat(ctx, chatID); err != nil {
		return c.fail("join", err)
	}
	return nil
}

// LeaveChat leaves a chat; the member list updates on chat.memberLeft.
func (c *Coordinator) LeaveChat(ctx context.Context, chatID string) error {
	if err := c.api.LeaveChat(ctx, chatID); err != nil {
		return c.fail("leave", err)
	}
	return nil
}

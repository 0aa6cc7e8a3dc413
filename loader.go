package loqui

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Loader fetches full-fidelity snapshots from the request/response API and
// merges them into the store without clobbering newer locally-known state:
// presence merges by version, message pages by id union. A snapshot result
// is a delayed write, so every completion re-checks that it still applies
// before touching the store.
type Loader struct {
	api    ChatAPI
	store  *Store
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]bool // chat ids with a message load in flight
}

func newLoader(api ChatAPI, store *Store, logger *zap.Logger) *Loader {
	return &Loader{
		api:      api,
		store:    store,
		logger:   logger,
		inflight: make(map[string]bool),
	}
}

// LoadChats fetches the chat list and merges every entry.
func (l *Loader) LoadChats(ctx context.Context) error {
	chats, err := l.api.GetChats(ctx)
	if err != nil {
		return asEngineFailure(err)
	}
	for _, c := range chats {
		l.store.UpsertChat(c)
	}
	return nil
}

// LoadMessages fetches one page of a chat's messages. A load for a chat id
// that is already in flight is skipped, not re-issued. The result is
// discarded if the user switched chats while the request was suspended: the
// generation captured before the call must still be current.
func (l *Loader) LoadMessages(ctx context.Context, chatID, before string) error {
	l.mu.Lock()
	if l.inflight[chatID] {
		l.mu.Unlock()
		l.logger.Debug("message load already in flight, skipping",
			zap.String("chat_id", chatID))
		return nil
	}
	l.inflight[chatID] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.inflight, chatID)
		l.mu.Unlock()
	}()

	gen := l.store.Generation()

	msgs, err := l.api.GetMessages(ctx, chatID, before, 0)
	if err != nil {
		return asEngineFailure(err)
	}

	if l.store.Generation() != gen {
		l.logger.Debug("stale message page discarded",
			zap.String("chat_id", chatID),
			zap.Uint64("generation", gen))
		return nil
	}

	l.store.mergeMessages(chatID, msgs)
	return nil
}

// LoadChatProfile fetches the member list, privacy flag, and description.
func (l *Loader) LoadChatProfile(ctx context.Context, chatID string) error {
	profile, err := l.api.GetChatProfile(ctx, chatID)
	if err != nil {
		return asEngineFailure(err)
	}
	l.store.applyProfile(*profile)
	return nil
}

// LoadPermissions fetches and caches the permission set for (chatID, userID).
func (l *Loader) LoadPermissions(ctx context.Context, chatID, userID string) error {
	names, err := l.api.GetPermissions(ctx, chatID, userID)
	if err != nil {
		return asEngineFailure(err)
	}
	l.store.SetPermissions(chatID, userID, names)
	return nil
}

// LoadPresenceBulk fetches presence for a set of users. Entries go through
// the same version-guarded upsert as live events, so a snapshot resolving
// after a newer live event cannot regress it.
func (l *Loader) LoadPresenceBulk(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	recs, err := l.api.GetPresenceBulk(ctx, userIDs)
	if err != nil {
		return asEngineFailure(err)
	}
	applied := l.store.applyPresenceSnapshot(recs)
	if applied < len(recs) {
		l.logger.Debug("presence snapshot partially stale",
			zap.Int("applied", applied),
			zap.Int("total", len(recs)))
	}
	return nil
}

// LoadBlockedUsers fetches both block directions and replaces the local sets.
func (l *Loader) LoadBlockedUsers(ctx context.Context) error {
	list, err := l.api.GetBlockedUsers(ctx)
	if err != nil {
		return asEngineFailure(err)
	}
	l.store.SetBlockLists(list.BlockedByMe, list.BlockingMe)
	return nil
}

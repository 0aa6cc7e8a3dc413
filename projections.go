package loqui

import "sort"

// View projections: pure, read-only derived queries over the stores. They
// never mutate state and are safe to call at arbitrary frequency, so the
// UI can re-evaluate them on every store notification.

// UnreadTotal sums the unread counts of all chats.
func (s *Store) UnreadTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, c := range s.chats {
		total += c.UnreadCount
	}
	return total
}

// OnlineMembers returns the ids of a chat's members that are currently
// online, sorted for stable rendering.
func (s *Store) OnlineMembers(chatID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	var online []string
	for i := range c.Members {
		if rec, ok := s.presence[c.Members[i].UserID]; ok && rec.Online {
			online = append(online, c.Members[i].UserID)
		}
	}
	sort.Strings(online)
	return online
}

// PinnedFor returns the chat's pinned messages in chat order. The pinned
// list is always derived from the Pinned flags, never stored on its own.
func (s *Store) PinnedFor(chatID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pinned []Message
	for _, m := range s.messages[chatID] {
		if m.Pinned {
			pinned = append(pinned, m.clone())
		}
	}
	return pinned
}

// EffectivePermissions resolves the permission view for a user in a chat:
// the chat creator and admin-role members are unrestricted and bypass the
// cached set entirely; everyone else (moderators included) gets the loaded
// PermissionSet, or an empty view if none was loaded.
func (s *Store) EffectivePermissions(chatID, userID string) PermissionView {
	s.mu.RLock()
	c, ok := s.chats[chatID]
	if ok {
		if c.CreatorID == userID {
			s.mu.RUnlock()
			return PermissionView{Unrestricted: true}
		}
		if i := c.memberIndex(userID); i >= 0 && c.Members[i].Role == RoleAdmin {
			s.mu.RUnlock()
			return PermissionView{Unrestricted: true}
		}
	}
	set := s.permissions[permKey{chatID, userID}]
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return PermissionView{Names: names}
}

// IsMessagingBlocked reports whether messaging is disabled for a direct
// chat because either block direction is set with its counterpart. The
// answer is re-derived from the block relation on every call, never cached,
// so it can never diverge from the relation itself.
func (s *Store) IsMessagingBlocked(chatID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok || c.Kind != ChatDirect {
		return false
	}
	other := c.counterpart(s.selfID)
	if other == "" {
		return false
	}
	return s.blockedByMe[other] || s.blockingMe[other]
}

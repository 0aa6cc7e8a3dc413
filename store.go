package loqui

import (
	"sort"
	"sync"
	"time"
)

type permKey struct {
	chatID string
	userID string
}

// Store holds the canonical, id-indexed entity collections for one session:
// chats, messages per chat, presence, permission sets, and block relations.
// Every mutation goes through a typed mutator that preserves the ordering
// and consistency invariants; readers always receive copies, so no caller
// can alias into store internals.
//
// A single mutex serializes all access. The realtime read goroutine and any
// caller goroutine therefore never interleave mid-mutation, which is the
// only ordering discipline the engine needs.
type Store struct {
	mu     sync.RWMutex
	selfID string

	chats       map[string]*Chat
	messages    map[string][]*Message // per chat, ascending (SentAt, ID)
	msgIndex    map[string]*Message   // message id -> entry in messages
	presence    map[string]*PresenceRecord
	permissions map[permKey]map[string]bool // present key == explicitly loaded
	blockedByMe map[string]bool
	blockingMe  map[string]bool

	activeChat string
	generation uint64

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

func newStore(selfID string) *Store {
	return &Store{
		selfID:      selfID,
		chats:       make(map[string]*Chat),
		messages:    make(map[string][]*Message),
		msgIndex:    make(map[string]*Message),
		presence:    make(map[string]*PresenceRecord),
		permissions: make(map[permKey]map[string]bool),
		blockedByMe: make(map[string]bool),
		blockingMe:  make(map[string]bool),
		subs:        make(map[int]func()),
	}
}

// SelfID returns the user id this session acts as.
func (s *Store) SelfID() string { return s.selfID }

// ============================================================================
// Subscriptions
// ============================================================================

// Subscribe registers a listener invoked after every committed mutation.
// The returned function unsubscribes. Listeners run synchronously on the
// mutating goroutine and must not block; panics are swallowed.
func (s *Store) Subscribe(fn func()) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	listeners := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.subMu.Unlock()
	for _, fn := range listeners {
		func() {
			defer func() { _ = recover() }()
			fn()
		}()
	}
}

// ============================================================================
// Active chat & generation
// ============================================================================

// SetActiveChat records which chat the user is viewing and bumps the
// generation counter. In-flight loads capture the generation before their
// suspension point and discard their result if it moved. Viewing a chat
// marks it read.
func (s *Store) SetActiveChat(chatID string) uint64 {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.activeChat = chatID
	if c, ok := s.chats[chatID]; ok {
		c.UnreadCount = 0
	}
	for _, m := range s.messages[chatID] {
		m.Seen = true
	}
	s.mu.Unlock()
	s.notify()
	return gen
}

// ActiveChat returns the chat currently being viewed, or "".
func (s *Store) ActiveChat() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeChat
}

// Generation returns the current chat-switch generation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// ============================================================================
// Chats
// ============================================================================

// Chat returns a copy of the chat with the given id.
func (s *Store) Chat(id string) (Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return Chat{}, false
	}
	return c.clone(), true
}

// Chats returns all known chats, most recently active first.
func (s *Store) Chats() []Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := s.lastSentAtLocked(out[i].ID), s.lastSentAtLocked(out[j].ID)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) lastSentAtLocked(chatID string) time.Time {
	list := s.messages[chatID]
	if len(list) == 0 {
		return time.Time{}
	}
	return list[len(list)-1].SentAt
}

// UpsertChat merges a chat from a snapshot or push event. Locally-known
// state that may be ahead of the snapshot is preserved: the unread count
// never decreases here (SetActiveChat is the only thing that clears it) and
// a loaded member list is not replaced by an empty one.
func (s *Store) UpsertChat(c Chat) {
	s.mu.Lock()
	existing, ok := s.chats[c.ID]
	if !ok {
		nc := c.clone()
		s.chats[c.ID] = &nc
	} else {
		if c.UnreadCount < existing.UnreadCount {
			c.UnreadCount = existing.UnreadCount
		}
		if len(c.Members) == 0 {
			c.Members = existing.Members
		}
		if c.LastMessageID == "" {
			c.LastMessageID = existing.LastMessageID
		}
		*existing = c.clone()
	}
	s.mu.Unlock()
	s.notify()
}

// ensureChatLocked creates a stub chat for a push event that references an
// unseen chat id. The profile load fills in the rest.
func (s *Store) ensureChatLocked(chatID string) *Chat {
	c, ok := s.chats[chatID]
	if !ok {
		c = &Chat{ID: chatID}
		s.chats[chatID] = c
	}
	return c
}

// applyProfile merges a GetChatProfile result into the chat.
func (s *Store) applyProfile(p ChatProfile) {
	s.mu.Lock()
	c := s.ensureChatLocked(p.ID)
	c.Kind = p.Kind
	c.Title = p.Title
	c.Description = p.Description
	c.Private = p.Private
	c.CreatorID = p.CreatorID
	c.Members = append([]Member(nil), p.Members...)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) upsertMember(chatID string, m Member) {
	s.mu.Lock()
	c := s.ensureChatLocked(chatID)
	if i := c.memberIndex(m.UserID); i >= 0 {
		c.Members[i] = m
	} else {
		c.Members = append(c.Members, m)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) removeMember(chatID, userID string) {
	s.mu.Lock()
	if c, ok := s.chats[chatID]; ok {
		if i := c.memberIndex(userID); i >= 0 {
			c.Members = append(c.Members[:i], c.Members[i+1:]...)
		}
	}
	s.mu.Unlock()
	s.notify()
}

// ============================================================================
// Messages
// ============================================================================

// Message returns a copy of the message with the given id.
func (s *Store) Message(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.msgIndex[id]
	if !ok {
		return Message{}, false
	}
	return m.clone(), true
}

// Messages returns copies of a chat's messages in ascending (SentAt, ID)
// order.
func (s *Store) Messages(chatID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[chatID]
	out := make([]Message, len(list))
	for i, m := range list {
		out[i] = m.clone()
	}
	return out
}

// UpsertMessage inserts or replaces a message delivered by the push stream
// or created by the coordinator. Inserting into a chat the user is not
// viewing increments that chat's unread count (own and still-pending
// messages excluded).
func (s *Store) UpsertMessage(m Message) {
	s.mu.Lock()
	s.putMessageLocked(m, true)
	s.mu.Unlock()
	s.notify()
}

// restoreMessage reinserts a rolled-back message without unread accounting.
func (s *Store) restoreMessage(m Message) {
	s.mu.Lock()
	s.putMessageLocked(m, false)
	s.mu.Unlock()
	s.notify()
}

// mergeMessages applies a snapshot page by id union: unseen messages are
// inserted, already-known ids are kept untouched (the push stream is never
// behind a page fetch that was issued earlier), and nothing is deleted.
// Snapshot pages never change unread counts.
func (s *Store) mergeMessages(chatID string, msgs []Message) {
	s.mu.Lock()
	for _, m := range msgs {
		if m.ChatID == "" {
			m.ChatID = chatID
		}
		if _, known := s.msgIndex[m.ID]; known {
			continue
		}
		s.putMessageLocked(m, false)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) putMessageLocked(m Message, countUnread bool) {
	if m.Status == "" {
		m.Status = StatusConfirmed
	}
	if m.ChatID == s.activeChat {
		m.Seen = true
	}

	if existing, ok := s.msgIndex[m.ID]; ok && existing.ChatID == m.ChatID {
		resort := !existing.SentAt.Equal(m.SentAt)
		mc := m.clone()
		// Local-only fields survive replacement by a wire copy: a duplicate
		// push delivery carries neither the correlation id nor seen state.
		if mc.ClientID == "" {
			mc.ClientID = existing.ClientID
		}
		mc.Seen = mc.Seen || existing.Seen
		*existing = mc
		if resort {
			s.sortChatLocked(m.ChatID)
		}
		s.refreshLastMessageLocked(m.ChatID)
		return
	}

	mc := m.clone()
	mp := &mc
	list := s.messages[m.ChatID]

	// Append fast path: most messages arrive in order.
	if len(list) == 0 || messageLess(list[len(list)-1], mp) {
		list = append(list, mp)
	} else {
		i := sort.Search(len(list), func(i int) bool { return !messageLess(list[i], mp) })
		list = append(list, nil)
		copy(list[i+1:], list[i:])
		list[i] = mp
	}
	s.messages[m.ChatID] = list
	s.msgIndex[m.ID] = mp

	if countUnread && m.ChatID != s.activeChat && m.SenderID != s.selfID && m.Status == StatusConfirmed {
		s.ensureChatLocked(m.ChatID).UnreadCount++
	}
	s.refreshLastMessageLocked(m.ChatID)
}

func (s *Store) sortChatLocked(chatID string) {
	list := s.messages[chatID]
	sort.SliceStable(list, func(i, j int) bool { return messageLess(list[i], list[j]) })
}

func (s *Store) refreshLastMessageLocked(chatID string) {
	list := s.messages[chatID]
	if len(list) == 0 {
		return
	}
	s.ensureChatLocked(chatID).LastMessageID = list[len(list)-1].ID
}

// RemoveMessage deletes a message. No-op for unknown ids.
func (s *Store) RemoveMessage(id string) {
	s.mu.Lock()
	s.removeMessageLocked(id)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) removeMessageLocked(id string) (Message, bool) {
	m, ok := s.msgIndex[id]
	if !ok {
		return Message{}, false
	}
	delete(s.msgIndex, id)
	list := s.messages[m.ChatID]
	for i, e := range list {
		if e.ID == id {
			s.messages[m.ChatID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if c, ok := s.chats[m.ChatID]; ok && c.LastMessageID == id {
		c.LastMessageID = ""
		s.refreshLastMessageLocked(m.ChatID)
	}
	return m.clone(), true
}

// rekeyMessage replaces a provisional message with the server-assigned one,
// preserving the client correlation id. If the authoritative id is already
// in the store (its push event beat the HTTP response), the provisional
// duplicate is simply dropped.
func (s *Store) rekeyMessage(provisionalID string, authoritative Message) {
	s.mu.Lock()
	old, hadProvisional := s.removeMessageLocked(provisionalID)
	if hadProvisional {
		authoritative.ClientID = old.ClientID
	}
	authoritative.Status = StatusConfirmed
	if _, exists := s.msgIndex[authoritative.ID]; !exists {
		s.putMessageLocked(authoritative, false)
	}
	s.mu.Unlock()
	s.notify()
}

// patchMessage applies fn to the stored message under the lock. fn must not
// change ID, ChatID, or SentAt.
func (s *Store) patchMessage(id string, fn func(*Message)) bool {
	s.mu.Lock()
	m, ok := s.msgIndex[id]
	if ok {
		fn(m)
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

func (s *Store) setMessageStatus(id string, status MessageStatus) bool {
	return s.patchMessage(id, func(m *Message) { m.Status = status })
}

// ============================================================================
// Permissions
// ============================================================================

// SetPermissions records the explicitly loaded permission set for
// (chatID, userID). An empty list still marks the set as loaded.
func (s *Store) SetPermissions(chatID, userID string, names []string) {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	s.mu.Lock()
	s.permissions[permKey{chatID, userID}] = set
	s.mu.Unlock()
	s.notify()
}

// Permissions returns the cached permission names for (chatID, userID) and
// whether the set has been explicitly loaded. Unloaded sets are empty by
// invariant.
func (s *Store) Permissions(chatID, userID string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, loaded := s.permissions[permKey{chatID, userID}]
	if !loaded {
		return nil, false
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, true
}

// grantPermission adds a permission to an already-loaded set. Events for
// unloaded sets are ignored: an unloaded set stays empty until a snapshot
// loads it.
func (s *Store) grantPermission(chatID, userID, name string) bool {
	s.mu.Lock()
	set, loaded := s.permissions[permKey{chatID, userID}]
	if loaded {
		set[name] = true
	}
	s.mu.Unlock()
	if loaded {
		s.notify()
	}
	return loaded
}

func (s *Store) revokePermission(chatID, userID, name string) bool {
	s.mu.Lock()
	set, loaded := s.permissions[permKey{chatID, userID}]
	if loaded {
		delete(set, name)
	}
	s.mu.Unlock()
	if loaded {
		s.notify()
	}
	return loaded
}

// ============================================================================
// Block relations
// ============================================================================

// SetBlockLists replaces both block directions from a snapshot.
func (s *Store) SetBlockLists(blockedByMe, blockingMe []string) {
	s.mu.Lock()
	s.blockedByMe = make(map[string]bool, len(blockedByMe))
	for _, id := range blockedByMe {
		s.blockedByMe[id] = true
	}
	s.blockingMe = make(map[string]bool, len(blockingMe))
	for _, id := range blockingMe {
		s.blockingMe[id] = true
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) setBlockedByMe(userID string, blocked bool) {
	s.mu.Lock()
	if blocked {
		s.blockedByMe[userID] = true
	} else {
		delete(s.blockedByMe, userID)
	}
	s.mu.Unlock()
	s.notify()
}

// IsBlockedByMe reports whether the current user blocked userID.
func (s *Store) IsBlockedByMe(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockedByMe[userID]
}

// IsBlockingMe reports whether userID blocked the current user.
func (s *Store) IsBlockingMe(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockingMe[userID]
}

// ============================================================================
// Lifecycle
// ============================================================================

// reset drops all entity state. Called on session teardown.
func (s *Store) reset() {
	s.mu.Lock()
	s.chats = make(map[string]*Chat)
	s.messages = make(map[string][]*Message)
	s.msgIndex = make(map[string]*Message)
	s.presence = make(map[string]*PresenceRecord)
	s.permissions = make(map[permKey]map[string]bool)
	s.blockedByMe = make(map[string]bool)
	s.blockingMe = make(map[string]bool)
	s.activeChat = ""
	s.mu.Unlock()

	s.subMu.Lock()
	s.subs = make(map[int]func())
	s.subMu.Unlock()
}

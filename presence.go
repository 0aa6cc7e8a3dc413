package loqui

// Presence merge policy: bulk snapshots and live events funnel through the
// same version-guarded upsert, so only the version comparison, never call
// order, decides which value sticks. Bulk snapshots are requested
// asynchronously and routinely resolve after a live event for the same
// user; the guard makes that race harmless.

// UpsertPresence applies a presence record if it is newer than the stored
// one. A write with an older or equal version is discarded. Returns whether
// the record was applied.
func (s *Store) UpsertPresence(rec PresenceRecord) bool {
	s.mu.Lock()
	existing, ok := s.presence[rec.UserID]
	if ok && rec.Version <= existing.Version {
		s.mu.Unlock()
		return false
	}
	r := rec
	if r.LastSeenAt != nil {
		at := *rec.LastSeenAt
		r.LastSeenAt = &at
	}
	s.presence[rec.UserID] = &r
	s.mu.Unlock()
	s.notify()
	return true
}

// applyPresenceSnapshot upserts a bulk presence result, returning how many
// records were fresh enough to apply.
func (s *Store) applyPresenceSnapshot(recs []PresenceRecord) int {
	applied := 0
	for _, rec := range recs {
		if s.UpsertPresence(rec) {
			applied++
		}
	}
	return applied
}

// Presence returns the presence record for userID. A user absent from both
// the snapshot and the live stream is offline with an unknown last-seen
// time; that is a valid state, not an error.
func (s *Store) Presence(userID string) PresenceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.presence[userID]; ok {
		r := *rec
		if rec.LastSeenAt != nil {
			at := *rec.LastSeenAt
			r.LastSeenAt = &at
		}
		return r
	}
	return PresenceRecord{UserID: userID}
}

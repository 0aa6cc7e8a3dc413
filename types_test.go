package loqui

import (
	"context"
	"testing"
)

func TestReactionTallyNilSafe(t *testing.T) {
	var tally *ReactionTally
	if tally.Has("alice") {
		t.Error("nil tally reports a contributor")
	}
	if tally.Count() != 0 {
		t.Errorf("nil tally count = %d, want 0", tally.Count())
	}

	// An absent kind reads out of the map as a nil pointer; both accessors
	// must treat it as an empty tally.
	m := Message{ID: "m1"}
	if m.Reactions["thumbsup"].Has("alice") {
		t.Error("absent kind reports a contributor")
	}
	if m.Reactions["thumbsup"].Count() != 0 {
		t.Error("absent kind has a non-zero count")
	}
}

func TestFirstReactionOnFreshMessage(t *testing.T) {
	sess := newTestSession(t, &fakeAPI{})
	sess.Store().UpsertMessage(msg("m1", "c1", "alice", 10))

	// The very first toggle hits a message whose Reactions map is nil.
	if err := sess.Coordinator().ToggleReaction(context.Background(), "m1", "thumbsup"); err != nil {
		t.Fatalf("ToggleReaction on fresh message: %v", err)
	}
	m, _ := sess.Store().Message("m1")
	if !m.Reactions["thumbsup"].Has(testSelfID) {
		t.Error("first reaction not recorded")
	}
}

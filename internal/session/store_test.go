package session

import (
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

// fakeClock is an adjustable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(ttl time.Duration) (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(WithTTL(ttl), WithClock(clock.Now)), clock
}

func TestStore_AppendCreatesOnFirstUse(t *testing.T) {
	store, _ := newTestStore(time.Hour)

	if _, ok := store.Get("s1"); ok {
		t.Fatal("Get on unknown id should report absent")
	}

	store.Append("s1", domain.TextMessage(domain.RoleUser, "hello"))

	sess, ok := store.Get("s1")
	if !ok {
		t.Fatal("expected session after append")
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Text() != "hello" {
		t.Errorf("unexpected history: %+v", sess.Messages)
	}
}

func TestStore_AppendPreservesOrder(t *testing.T) {
	store, _ := newTestStore(time.Hour)

	store.Append("s1", domain.TextMessage(domain.RoleUser, "first"))
	store.Append("s1",
		domain.TextMessage(domain.RoleAssistant, "reply"),
		domain.TextMessage(domain.RoleUser, "second"),
	)

	sess, _ := store.Get("s1")
	want := []string{"first", "reply", "second"}
	if len(sess.Messages) != len(want) {
		t.Fatalf("message count = %d, want %d", len(sess.Messages), len(want))
	}
	for i, text := range want {
		if got := sess.Messages[i].Text(); got != text {
			t.Errorf("message %d = %q, want %q", i, got, text)
		}
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	store, clock := newTestStore(time.Hour)

	store.Append("s1", domain.TextMessage(domain.RoleUser, "hi"))
	clock.Advance(2 * time.Hour)

	if _, ok := store.Get("s1"); ok {
		t.Error("expired session should be absent from Get")
	}
	if store.Delete("s1") {
		t.Error("expired session should report not found on Delete")
	}
}

func TestStore_AccessRefreshesTTL(t *testing.T) {
	store, clock := newTestStore(time.Hour)

	store.Append("s1", domain.TextMessage(domain.RoleUser, "a"))
	clock.Advance(45 * time.Minute)
	store.Append("s1", domain.TextMessage(domain.RoleUser, "b"))
	clock.Advance(45 * time.Minute)

	if _, ok := store.Get("s1"); !ok {
		t.Error("session refreshed within TTL should still be live")
	}
}

func TestStore_DeleteIdempotent(t *testing.T) {
	store, _ := newTestStore(time.Hour)

	if store.Delete("missing") {
		t.Error("first delete of absent session should return false")
	}
	if store.Delete("missing") {
		t.Error("second delete of absent session should return false")
	}

	store.Append("s1", domain.TextMessage(domain.RoleUser, "x"))
	if !store.Delete("s1") {
		t.Error("delete of live session should return true")
	}
	if store.Delete("s1") {
		t.Error("re-delete should return false")
	}
}

func TestStore_SweepExpired(t *testing.T) {
	store, clock := newTestStore(time.Hour)

	store.Append("old", domain.TextMessage(domain.RoleUser, "x"))
	clock.Advance(90 * time.Minute)
	store.Append("fresh", domain.TextMessage(domain.RoleUser, "y"))

	if removed := store.SweepExpired(); removed != 1 {
		t.Errorf("SweepExpired() = %d, want 1", removed)
	}
	if _, ok := store.Get("fresh"); !ok {
		t.Error("fresh session should survive the sweep")
	}
}

func TestStore_Stats(t *testing.T) {
	store, _ := newTestStore(30 * time.Minute)

	store.Append("a", domain.TextMessage(domain.RoleUser, "1"))
	store.Append("b",
		domain.TextMessage(domain.RoleUser, "2"),
		domain.TextMessage(domain.RoleAssistant, "3"),
	)

	st := store.Stats()
	if st.ActiveSessions != 2 {
		t.Errorf("ActiveSessions = %d, want 2", st.ActiveSessions)
	}
	if st.TotalMessages != 3 {
		t.Errorf("TotalMessages = %d, want 3", st.TotalMessages)
	}
	if st.TTL != 30*time.Minute {
		t.Errorf("TTL = %s, want 30m", st.TTL)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	store, _ := newTestStore(time.Hour)
	store.Append("s1", domain.TextMessage(domain.RoleUser, "original"))

	sess, _ := store.Get("s1")
	sess.Messages = append(sess.Messages, domain.TextMessage(domain.RoleUser, "extra"))
	again, _ := store.Get("s1")
	if len(again.Messages) != 1 {
		t.Errorf("store history length = %d, want 1 (caller append must not leak)", len(again.Messages))
	}
}

func TestStore_AcquireSerializesSameID(t *testing.T) {
	store, _ := newTestStore(time.Hour)

	store.Acquire("s1")

	acquired := make(chan struct{})
	go func() {
		store.Acquire("s1")
		close(acquired)
		store.Release("s1")
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire should block while first holds the turn lock")
	case <-time.After(50 * time.Millisecond):
	}

	store.Release("s1")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire should proceed after Release")
	}
}

func TestStore_AcquireRefreshesTTL(t *testing.T) {
	store, clock := newTestStore(time.Hour)

	store.Append("s1", domain.TextMessage(domain.RoleUser, "a"))
	clock.Advance(45 * time.Minute)

	store.Acquire("s1")
	store.Release("s1")
	clock.Advance(45 * time.Minute)

	if _, ok := store.Get("s1"); !ok {
		t.Error("session touched by Acquire within TTL should still be live")
	}
}

func TestStore_SweepKeepsHeldTurnLock(t *testing.T) {
	store, clock := newTestStore(time.Hour)

	store.Append("s1", domain.TextMessage(domain.RoleUser, "x"))
	store.Acquire("s1")
	clock.Advance(2 * time.Hour)

	// The session expires mid-turn; its lock must survive the sweep so a
	// concurrent request for the same id keeps serializing.
	if removed := store.SweepExpired(); removed != 1 {
		t.Fatalf("SweepExpired() = %d, want 1", removed)
	}

	acquired := make(chan struct{})
	go func() {
		store.Acquire("s1")
		close(acquired)
		store.Release("s1")
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire should block while first holds the turn lock")
	case <-time.After(50 * time.Millisecond):
	}

	store.Release("s1")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire should proceed after Release")
	}
}

func TestStore_AcquireDistinctIDsParallel(t *testing.T) {
	store, _ := newTestStore(time.Hour)

	store.Acquire("a")
	done := make(chan struct{})
	go func() {
		store.Acquire("b")
		store.Release("b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("distinct session ids must not serialize")
	}
	store.Release("a")
}

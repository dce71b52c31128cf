package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newStoreForTest() *MemoryStore {
	return NewMemoryStore(WithClock(func() time.Time { return testNow }))
}

func TestMemoryStoreCreateAndLoad(t *testing.T) {
	t.Parallel()

	store := newStoreForTest()
	sess := NewSession("s1", testNow)
	sess.Append(RoleUser, "hello", nil, testNow)

	saved, err := store.Save(context.Background(), sess, 0)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.Version != 1 {
		t.Fatalf("expected version 1, got %d", saved.Version)
	}

	loaded, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Conversation) != 1 || loaded.Conversation[0].Content != "hello" {
		t.Fatalf("unexpected conversation: %+v", loaded.Conversation)
	}

	// The returned snapshot must be detached from store memory.
	loaded.Append(RoleUser, "mutated", nil, testNow)
	reloaded, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(reloaded.Conversation) != 1 {
		t.Fatalf("store leaked caller mutation: %d messages", len(reloaded.Conversation))
	}
}

func TestMemoryStoreVersionConflict(t *testing.T) {
	t.Parallel()

	store := newStoreForTest()
	sess := NewSession("s1", testNow)
	if _, err := store.Save(context.Background(), sess, 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Create over an existing session conflicts.
	if _, err := store.Save(context.Background(), sess, 0); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	// Stale expected version conflicts.
	if _, err := store.Save(context.Background(), sess, 5); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	// Matching expected version advances.
	saved, err := store.Save(context.Background(), sess, 1)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.Version != 2 {
		t.Fatalf("expected version 2, got %d", saved.Version)
	}
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	t.Parallel()

	store := newStoreForTest()
	sess := NewSession("ghost", testNow)
	if _, err := store.Save(context.Background(), sess, 3); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := store.Load(context.Background(), "ghost"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemoryStoreConcurrentSaveOneWins(t *testing.T) {
	t.Parallel()

	store := newStoreForTest()
	sess := NewSession("s1", testNow)
	if _, err := store.Save(context.Background(), sess, 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loaded, err := store.Load(context.Background(), "s1")
			if err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = store.Save(context.Background(), loaded, 1)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrVersionConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one writer to win, got %d", wins)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	t.Parallel()

	store := newStoreForTest()
	if _, err := store.Save(context.Background(), NewSession("s1", testNow), 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete(context.Background(), "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(context.Background(), "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreNormalizesFieldBagNumbers(t *testing.T) {
	t.Parallel()

	store := newStoreForTest()
	sess := NewSession("s1", testNow)
	if err := sess.SetSection(SectionSkipperProfile, FieldBag{"miles": 1200, "rating": 4.5}, testNow); err != nil {
		t.Fatalf("SetSection() error = %v", err)
	}

	// Saving passes field bags through JSON, so integers come back float64.
	// Load returns the same normalized values the save returned.
	saved, err := store.Save(context.Background(), sess, 0)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.SkipperProfile["miles"] != float64(1200) {
		t.Fatalf("expected float64 miles, got %T %v", saved.SkipperProfile["miles"], saved.SkipperProfile["miles"])
	}

	loaded, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.SkipperProfile["miles"] != float64(1200) || loaded.SkipperProfile["rating"] != 4.5 {
		t.Fatalf("unexpected section after reload: %v", loaded.SkipperProfile)
	}
}

func TestCloneSessionDeepCopies(t *testing.T) {
	t.Parallel()

	sess := NewSession("s1", testNow)
	sess.SkipperProfile = FieldBag{"miles": 1200}
	sess.Drafts[DataJourneySummary] = NewDraft("d1", DataJourneySummary, FieldBag{"route": "Kiel"}, testNow)

	clone, err := CloneSession(sess)
	if err != nil {
		t.Fatalf("CloneSession() error = %v", err)
	}
	clone.SkipperProfile["miles"] = 0
	clone.Drafts[DataJourneySummary].Fields["route"] = "Oslo"

	if sess.SkipperProfile["miles"] != 1200 {
		t.Fatal("section shared between clone and original")
	}
	if sess.Drafts[DataJourneySummary].Fields["route"] != "Kiel" {
		t.Fatal("draft fields shared between clone and original")
	}

	if _, err := CloneSession(nil); !errors.Is(err, ErrNilSession) {
		t.Fatalf("expected ErrNilSession, got %v", err)
	}
}

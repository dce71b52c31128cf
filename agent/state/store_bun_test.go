package state

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOpenPostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	if _, err := OpenPostgres(BunStoreConfig{DSN: "   "}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestNewBunStoreRequiresDB(t *testing.T) {
	t.Parallel()

	if _, err := NewBunStore(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestBunStoreValidatesBeforeQuerying(t *testing.T) {
	t.Parallel()

	// No database behind it: every call below must fail on validation
	// before any query is issued.
	store := &BunStore{now: time.Now}

	if _, err := store.Save(context.Background(), nil, 0); !errors.Is(err, ErrNilSession) {
		t.Fatalf("expected ErrNilSession, got %v", err)
	}
	if _, err := store.Save(context.Background(), &Session{}, 0); !errors.Is(err, ErrInvalidSessionID) {
		t.Fatalf("expected ErrInvalidSessionID, got %v", err)
	}
	if _, err := store.Load(context.Background(), "  "); !errors.Is(err, ErrInvalidSessionID) {
		t.Fatalf("expected ErrInvalidSessionID, got %v", err)
	}
	if err := store.Delete(context.Background(), ""); !errors.Is(err, ErrInvalidSessionID) {
		t.Fatalf("expected ErrInvalidSessionID, got %v", err)
	}

	broken := NewSession("s1", time.Now())
	broken.Append(RoleUser, "hello", nil, time.Now())
	broken.Conversation[0].Seq = 9
	if _, err := store.Save(context.Background(), broken, 0); err == nil {
		t.Fatal("expected validation error for broken sequence")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	if isUniqueViolation(nil) {
		t.Fatal("nil error must not be a unique violation")
	}
	if isUniqueViolation(errors.New("connection refused")) {
		t.Fatal("plain error must not be a unique violation")
	}
}

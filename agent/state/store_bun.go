package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// BunStoreConfig configures the Postgres-backed session store.
type BunStoreConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// BunStore persists sessions in Postgres through bun. The whole session is
// stored as one JSON payload row, so a save commits the conversation append
// and all labelled sections in a single statement; the version column carries
// the optimistic-concurrency check.
type BunStore struct {
	db  *bun.DB
	now func() time.Time
}

type sessionRow struct {
	bun.BaseModel `bun:"table:assistant_sessions,alias:s"`

	ID        string    `bun:"id,pk"`
	OwnerID   string    `bun:"owner_id"`
	Status    string    `bun:"status"`
	Payload   []byte    `bun:"payload"`
	Version   int64     `bun:"version"`
	CreatedAt time.Time `bun:"created_at"`
	UpdatedAt time.Time `bun:"updated_at"`
}

// OpenPostgres opens a bun DB over pgdriver for the given DSN.
func OpenPostgres(cfg BunStoreConfig) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func NewBunStore(db *bun.DB) (*BunStore, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	return &BunStore{db: db, now: time.Now}, nil
}

// Migrate creates the sessions table if it does not exist.
func (b *BunStore) Migrate(ctx context.Context) error {
	_, err := b.db.NewCreateTable().
		Model((*sessionRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	return nil
}

func (b *BunStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSessionID
	}

	row := new(sessionRow)
	err := b.db.NewSelect().
		Model(row).
		Where("s.id = ?", sessionID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id=%s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(row.Payload, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session payload: %w", err)
	}
	s.Version = row.Version
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session loaded from store: %w", err)
	}
	return &s, nil
}

func (b *BunStore) Save(ctx context.Context, s *Session, expectedVersion int64) (*Session, error) {
	if s == nil {
		return nil, ErrNilSession
	}
	if strings.TrimSpace(s.ID) == "" {
		return nil, ErrInvalidSessionID
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	next, err := CloneSession(s)
	if err != nil {
		return nil, err
	}
	next.Version = expectedVersion + 1
	next.Touch(b.now())

	payload, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	row := &sessionRow{
		ID:        next.ID,
		OwnerID:   next.OwnerID,
		Status:    string(next.Status),
		Payload:   payload,
		Version:   next.Version,
		CreatedAt: next.CreatedAt,
		UpdatedAt: next.UpdatedAt,
	}

	if expectedVersion == 0 {
		_, err := b.db.NewInsert().Model(row).Exec(ctx)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: id=%s expected=0", ErrVersionConflict, s.ID)
			}
			return nil, fmt.Errorf("insert session: %w", err)
		}
		return next, nil
	}

	res, err := b.db.NewUpdate().
		Model(row).
		Column("owner_id", "status", "payload", "version", "updated_at").
		Where("id = ?", row.ID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update session rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := b.db.NewSelect().
			Model((*sessionRow)(nil)).
			Where("id = ?", row.ID).
			Exists(ctx)
		if err != nil {
			return nil, fmt.Errorf("check session existence: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: id=%s", ErrSessionNotFound, s.ID)
		}
		return nil, fmt.Errorf("%w: id=%s expected=%d", ErrVersionConflict, s.ID, expectedVersion)
	}
	return next, nil
}

func (b *BunStore) Delete(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSessionID
	}
	_, err := b.db.NewDelete().
		Model((*sessionRow)(nil)).
		Where("id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}

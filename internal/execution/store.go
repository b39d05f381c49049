package execution

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/dev-tnsq/verbex/internal/model"
)

// Store persists deferred-signing envelopes so a NEEDS_SIGNATURE outcome can
// be completed later by submit-signed, possibly from another process.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create pending store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create pending lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open pending sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS pending_envelopes (
			id TEXT PRIMARY KEY,
			protocol TEXT NOT NULL,
			action TEXT NOT NULL,
			account TEXT NOT NULL,
			unsigned_xdr TEXT NOT NULL,
			network TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_pending_account_created ON pending_envelopes(account, created_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init pending schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewPendingID mints an identifier for a deferred-signing record.
func NewPendingID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "pending-unknown"
	}
	return "pend_" + hex.EncodeToString(b)
}

func (s *Store) Save(env model.PendingEnvelope) error {
	if env.ID == "" {
		return fmt.Errorf("save pending envelope: missing id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock pending store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock pending store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	createdUnix := time.Now().UTC().Unix()
	if env.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, env.CreatedAt); err == nil {
			createdUnix = t.Unix()
		}
	} else {
		env.CreatedAt = time.Unix(createdUnix, 0).UTC().Format(time.RFC3339)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO pending_envelopes (id, protocol, action, account, unsigned_xdr, network, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		env.ID, env.Protocol, env.Action, env.Account, env.UnsignedXDR, env.Network, createdUnix,
	)
	if err != nil {
		return fmt.Errorf("save pending envelope: %w", err)
	}
	return nil
}

var ErrPendingNotFound = errors.New("pending envelope not found")

func (s *Store) Get(id string) (model.PendingEnvelope, error) {
	var env model.PendingEnvelope
	var createdUnix int64
	err := s.db.QueryRow(
		"SELECT id, protocol, action, account, unsigned_xdr, network, created_at FROM pending_envelopes WHERE id = ?", id,
	).Scan(&env.ID, &env.Protocol, &env.Action, &env.Account, &env.UnsignedXDR, &env.Network, &createdUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PendingEnvelope{}, ErrPendingNotFound
		}
		return model.PendingEnvelope{}, fmt.Errorf("read pending envelope: %w", err)
	}
	env.CreatedAt = time.Unix(createdUnix, 0).UTC().Format(time.RFC3339)
	return env, nil
}

// Delete removes a consumed or abandoned record.
func (s *Store) Delete(id string) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock pending store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock pending store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	_, err = s.db.Exec("DELETE FROM pending_envelopes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete pending envelope: %w", err)
	}
	return nil
}

// List returns pending envelopes, newest first, optionally filtered by
// account.
func (s *Store) List(account string, limit int) ([]model.PendingEnvelope, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT id, protocol, action, account, unsigned_xdr, network, created_at FROM pending_envelopes"
	args := []any{}
	if account != "" {
		query += " WHERE account = ?"
		args = append(args, account)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending envelopes: %w", err)
	}
	defer rows.Close()

	var out []model.PendingEnvelope
	for rows.Next() {
		var env model.PendingEnvelope
		var createdUnix int64
		if err := rows.Scan(&env.ID, &env.Protocol, &env.Action, &env.Account, &env.UnsignedXDR, &env.Network, &createdUnix); err != nil {
			return nil, fmt.Errorf("scan pending envelope: %w", err)
		}
		env.CreatedAt = time.Unix(createdUnix, 0).UTC().Format(time.RFC3339)
		out = append(out, env)
	}
	return out, rows.Err()
}

// SweepOlderThan deletes records past the given age; abandoned ceremonies
// must not accumulate forever.
func (s *Store) SweepOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age).Unix()
	res, err := s.db.Exec("DELETE FROM pending_envelopes WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep pending envelopes: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

package shared

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/blake2b"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IdempotencyStore persists processed keys together with a fingerprint of the request.
type IdempotencyStore struct {
	db Querier
}

// NewIdempotencyStore constructs the store. Pass a pgx.Tx to claim keys atomically with
// the command's own writes.
func NewIdempotencyStore(db Querier) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// ErrIdempotencyConflict indicates the key was already used with a different payload.
var ErrIdempotencyConflict = fmt.Errorf("%w: idempotency key reused with a different payload", ErrInvalidArgument)

// Fingerprint hashes the JSON form of payload.
func Fingerprint(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(raw)
	return sum[:], nil
}

// Claim records key for module. When the key was already claimed with the same fingerprint
// it returns the stored resource reference (empty while the first request is in flight).
func (s *IdempotencyStore) Claim(ctx context.Context, key, module string, fingerprint []byte) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errors.New("idempotency store not initialised")
	}
	if key == "" || module == "" {
		return "", false, errors.New("idempotency key and module required")
	}
	tag, err := s.db.Exec(ctx, `INSERT INTO idempotency_keys (key, module, fingerprint, created_at) VALUES ($1, $2, $3, NOW()) ON CONFLICT (key, module) DO NOTHING`, key, module, fingerprint)
	if err != nil {
		return "", false, err
	}
	if tag.RowsAffected() == 1 {
		return "", false, nil
	}
	var stored []byte
	var ref *string
	if err := s.db.QueryRow(ctx, `SELECT fingerprint, resource_ref FROM idempotency_keys WHERE key=$1 AND module=$2`, key, module).Scan(&stored, &ref); err != nil {
		return "", false, err
	}
	if !bytes.Equal(stored, fingerprint) {
		return "", false, ErrIdempotencyConflict
	}
	if ref == nil {
		return "", true, fmt.Errorf("%w: idempotent request still in flight", ErrBusy)
	}
	return *ref, true, nil
}

// Complete attaches the created resource reference to a claimed key.
func (s *IdempotencyStore) Complete(ctx context.Context, key, module, ref string) error {
	if s == nil || s.db == nil {
		return errors.New("idempotency store not initialised")
	}
	_, err := s.db.Exec(ctx, `UPDATE idempotency_keys SET resource_ref=$3 WHERE key=$1 AND module=$2`, key, module, ref)
	return err
}

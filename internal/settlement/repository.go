package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/agriledger/internal/ledger"
	"github.com/odyssey-erp/agriledger/internal/platform/db"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

const idempotencyModule = "settlement.create"

var (
	// ErrSettlementNotFound indicates a missing settlement.
	ErrSettlementNotFound = fmt.Errorf("%w: settlement", shared.ErrNotFound)
	// ErrShareRuleNotFound indicates a missing share rule or version.
	ErrShareRuleNotFound = fmt.Errorf("%w: share rule", shared.ErrNotFound)
)

// TxRepository exposes settlement and ledger operations within one transaction.
type TxRepository interface {
	ledger.TxRepository

	InsertShareRule(ctx context.Context, rule ShareRule) (ShareRule, error)
	GetShareRule(ctx context.Context, id uuid.UUID, version int) (ShareRule, error)
	LatestShareRule(ctx context.Context, id uuid.UUID) (ShareRule, error)

	InsertSettlement(ctx context.Context, s Settlement) (Settlement, error)
	GetSettlement(ctx context.Context, id uuid.UUID) (Settlement, error)
	GetSettlementForUpdate(ctx context.Context, id uuid.UUID) (Settlement, error)
	UpdateSettlement(ctx context.Context, s Settlement, expectedVersion int) error

	ClaimIdempotency(ctx context.Context, key string, fingerprint []byte) (ref string, replay bool, err error)
	CompleteIdempotency(ctx context.Context, key, ref string) error
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Repository persists settlements and share rules in PostgreSQL next to the ledger tables.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository. lockTimeout bounds row lock waits inside a
// transaction; exceeding it surfaces as ErrBusy.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

type txRepository struct {
	ledger.TxRepository
	tx          pgx.Tx
	idempotency *shared.IdempotencyStore
}

// WithTx executes fn within a repeatable-read transaction shared with the ledger store.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("settlement repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, db.TxMode{LockTimeout: r.lockTimeout}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			TxRepository: ledger.NewTxRepository(tx),
			tx:           tx,
			idempotency:  shared.NewIdempotencyStore(tx),
		})
	})
	return ledger.MapError(err)
}

func (r *txRepository) InsertShareRule(ctx context.Context, rule ShareRule) (ShareRule, error) {
	shares, err := json.Marshal(rule.Shares)
	if err != nil {
		return ShareRule{}, err
	}
	err = r.tx.QueryRow(ctx, `INSERT INTO share_rules (id, version, name, primary_party_id, shares)
VALUES ($1,$2,$3,$4,$5) RETURNING created_at`, rule.ID, rule.Version, rule.Name, rule.PrimaryPartyID, shares).Scan(&rule.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ShareRule{}, fmt.Errorf("%w: share rule %s version %d already exists", shared.ErrBusy, rule.ID, rule.Version)
		}
		return ShareRule{}, err
	}
	return rule, nil
}

const shareRuleColumns = `id, version, name, primary_party_id, shares, created_at`

func (r *txRepository) GetShareRule(ctx context.Context, id uuid.UUID, version int) (ShareRule, error) {
	return scanShareRule(r.tx.QueryRow(ctx, `SELECT `+shareRuleColumns+` FROM share_rules WHERE id=$1 AND version=$2`, id, version))
}

func (r *txRepository) LatestShareRule(ctx context.Context, id uuid.UUID) (ShareRule, error) {
	return scanShareRule(r.tx.QueryRow(ctx, `SELECT `+shareRuleColumns+` FROM share_rules WHERE id=$1 ORDER BY version DESC LIMIT 1`, id))
}

func scanShareRule(row pgx.Row) (ShareRule, error) {
	var rule ShareRule
	var shares []byte
	if err := row.Scan(&rule.ID, &rule.Version, &rule.Name, &rule.PrimaryPartyID, &shares, &rule.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ShareRule{}, ErrShareRuleNotFound
		}
		return ShareRule{}, err
	}
	if err := json.Unmarshal(shares, &rule.Shares); err != nil {
		return ShareRule{}, fmt.Errorf("%w: share rule %s: %v", shared.ErrInvalidShareRule, rule.ID, err)
	}
	return rule, nil
}

func (r *txRepository) InsertSettlement(ctx context.Context, s Settlement) (Settlement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO settlements (id, status, currency, basis, share_rule_id, share_rule_version, proceeds_account, project_id, posting_date, memo, version)
VALUES ($1,'DRAFT',$2,$3,$4,$5,$6,$7,$8,$9,1) RETURNING number, created_at, updated_at`,
		s.ID, s.Currency, s.Basis, s.ShareRuleID, s.ShareRuleVersion, s.ProceedsAccount, s.ProjectID, s.PostingDate, s.Memo).
		Scan(&s.Number, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Settlement{}, err
	}
	s.Status = StatusDraft
	s.Version = 1
	return s, nil
}

const settlementColumns = `id, number, status, currency, basis, share_rule_id, share_rule_version, proceeds_account, project_id, posting_date, memo,
	rule_snapshot, allocations, version, created_at, updated_at, posted_at, reversed_at`

func (r *txRepository) GetSettlement(ctx context.Context, id uuid.UUID) (Settlement, error) {
	return scanSettlement(r.tx.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id=$1`, id))
}

func (r *txRepository) GetSettlementForUpdate(ctx context.Context, id uuid.UUID) (Settlement, error) {
	return scanSettlement(r.tx.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id=$1 FOR UPDATE`, id))
}

func scanSettlement(row pgx.Row) (Settlement, error) {
	var (
		s           Settlement
		snapshot    []byte
		allocations []byte
	)
	err := row.Scan(&s.ID, &s.Number, &s.Status, &s.Currency, &s.Basis, &s.ShareRuleID, &s.ShareRuleVersion, &s.ProceedsAccount, &s.ProjectID, &s.PostingDate, &s.Memo,
		&snapshot, &allocations, &s.Version, &s.CreatedAt, &s.UpdatedAt, &s.PostedAt, &s.ReversedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settlement{}, ErrSettlementNotFound
		}
		return Settlement{}, err
	}
	if len(snapshot) > 0 {
		var rule ShareRule
		if err := json.Unmarshal(snapshot, &rule); err != nil {
			return Settlement{}, err
		}
		s.RuleSnapshot = &rule
	}
	if len(allocations) > 0 {
		if err := json.Unmarshal(allocations, &s.Allocations); err != nil {
			return Settlement{}, err
		}
	}
	return s, nil
}

func (r *txRepository) UpdateSettlement(ctx context.Context, s Settlement, expectedVersion int) error {
	var snapshot, allocations []byte
	var err error
	if s.RuleSnapshot != nil {
		if snapshot, err = json.Marshal(s.RuleSnapshot); err != nil {
			return err
		}
	}
	if s.Allocations != nil {
		if allocations, err = json.Marshal(s.Allocations); err != nil {
			return err
		}
	}
	cmd, err := r.tx.Exec(ctx, `UPDATE settlements SET status=$2, posting_date=$3, rule_snapshot=$4, allocations=$5,
	posted_at=$6, reversed_at=$7, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$8`, s.ID, s.Status, s.PostingDate, snapshot, allocations, s.PostedAt, s.ReversedAt, expectedVersion)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: settlement %s changed concurrently", shared.ErrBusy, s.ID)
	}
	return nil
}

func (r *txRepository) ClaimIdempotency(ctx context.Context, key string, fingerprint []byte) (string, bool, error) {
	return r.idempotency.Claim(ctx, key, idempotencyModule, fingerprint)
}

func (r *txRepository) CompleteIdempotency(ctx context.Context, key, ref string) error {
	return r.idempotency.Complete(ctx, key, idempotencyModule, ref)
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/agriledger/internal/money"
	"github.com/odyssey-erp/agriledger/internal/platform/db"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

// Reader exposes read-only ledger queries. Implementations run inside a snapshot.
type Reader interface {
	ListAccounts(ctx context.Context) ([]Account, error)
	ListOpenItems(ctx context.Context, filter OpenItemFilter) ([]OpenItem, error)
	SumPostings(ctx context.Context, filter PostingFilter) ([]PostingTotal, error)
	ListCashMovements(ctx context.Context, from, to time.Time) ([]CashMovement, error)
	ListPostingsBySource(ctx context.Context, source SourceType, id uuid.UUID) ([]Posting, error)
	FindImbalances(ctx context.Context) ([]Imbalance, error)
}

// Writer appends posting sets. It never updates or deletes postings.
type Writer interface {
	AppendPostings(ctx context.Context, postings []Posting) error
}

// InvoiceTx exposes receivable document operations.
type InvoiceTx interface {
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, id uuid.UUID, from, to InvoiceStatus, at time.Time) error
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	AppliedAmount(ctx context.Context, invoiceID uuid.UUID) (money.Minor, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Reader
	Writer
	InvoiceTx
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	WithSnapshot(ctx context.Context, fn func(context.Context, Reader) error) error
}

var (
	// ErrInvoiceNotFound indicates a missing invoice.
	ErrInvoiceNotFound = fmt.Errorf("%w: invoice", shared.ErrNotFound)
	// ErrAccountNotFound indicates a posting referenced an unknown account.
	ErrAccountNotFound = fmt.Errorf("%w: account", shared.ErrInvalidArgument)
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgLockNotAvailable    = "55P03"
	pgSerialization       = "40001"
)

// Repository persists ledger entities in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other packages can write postings atomically
// with their own documents.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, db.TxMode{}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return MapError(err)
}

// WithSnapshot executes fn within a repeatable-read, read-only transaction so every query
// sees the same committed state.
func (r *Repository) WithSnapshot(ctx context.Context, fn func(context.Context, Reader) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, db.TxMode{ReadOnly: true}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// MapError translates PostgreSQL failures into the ledger error taxonomy.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgSerialization:
			return fmt.Errorf("%w: %s", shared.ErrBusy, pgErr.Message)
		}
	}
	return err
}

func (r *txRepository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT code, name, type, is_cash, created_at FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.Code, &a.Name, &a.Type, &a.IsCash, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) ListOpenItems(ctx context.Context, filter OpenItemFilter) ([]OpenItem, error) {
	rows, err := r.tx.Query(ctx, `SELECT i.id, i.number, i.buyer_id, i.project_id, i.currency, i.amount,
	COALESCE((SELECT SUM(p.amount) FROM payments p WHERE p.invoice_id = i.id AND p.paid_at <= $1), 0)::bigint AS applied,
	i.posting_date, i.status
FROM invoices i
WHERE i.status <> 'REVERSED'
  AND ($2::uuid IS NULL OR i.buyer_id = $2)
  AND ($3::uuid IS NULL OR i.project_id = $3)
  AND ($4 = '' OR i.currency = $4)
ORDER BY i.buyer_id, i.posting_date, i.number`, filter.AsOf, filter.BuyerID, filter.ProjectID, filter.Currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OpenItem
	for rows.Next() {
		var it OpenItem
		if err := rows.Scan(&it.InvoiceID, &it.Number, &it.BuyerID, &it.ProjectID, &it.Currency, &it.Amount, &it.Applied, &it.PostingDate, &it.Status); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *txRepository) SumPostings(ctx context.Context, filter PostingFilter) ([]PostingTotal, error) {
	rows, err := r.tx.Query(ctx, `SELECT account_code, currency,
	COALESCE(SUM(amount) FILTER (WHERE amount > 0), 0)::bigint AS debit,
	COALESCE(-SUM(amount) FILTER (WHERE amount < 0), 0)::bigint AS credit
FROM ledger_postings
WHERE posting_date <= $1
  AND ($2::uuid IS NULL OR project_id = $2)
GROUP BY account_code, currency
ORDER BY account_code, currency`, filter.AsOf, filter.ProjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var totals []PostingTotal
	for rows.Next() {
		var t PostingTotal
		if err := rows.Scan(&t.AccountCode, &t.Currency, &t.Debit, &t.Credit); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func (r *txRepository) ListCashMovements(ctx context.Context, from, to time.Time) ([]CashMovement, error) {
	rows, err := r.tx.Query(ctx, `SELECT p.posting_date, p.source_type, p.source_id, p.sequence, p.account_code, p.currency, p.amount, p.party_id, p.memo
FROM ledger_postings p
JOIN accounts a ON a.code = p.account_code
WHERE a.is_cash AND p.posting_date BETWEEN $1 AND $2
ORDER BY p.posting_date, p.source_type, p.source_id, p.sequence`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []CashMovement
	for rows.Next() {
		var m CashMovement
		if err := rows.Scan(&m.Date, &m.SourceType, &m.SourceID, &m.Sequence, &m.AccountCode, &m.Currency, &m.Amount, &m.PartyID, &m.Memo); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepository) ListPostingsBySource(ctx context.Context, source SourceType, id uuid.UUID) ([]Posting, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, source_type, source_id, sequence, account_code, currency, amount, posting_date, project_id, party_id, reversal_of, memo, created_at
FROM ledger_postings WHERE source_type=$1 AND source_id=$2 ORDER BY sequence`, source, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var postings []Posting
	for rows.Next() {
		var p Posting
		if err := rows.Scan(&p.ID, &p.SourceType, &p.SourceID, &p.Sequence, &p.AccountCode, &p.Currency, &p.Amount, &p.PostingDate, &p.ProjectID, &p.PartyID, &p.ReversalOf, &p.Memo, &p.CreatedAt); err != nil {
			return nil, err
		}
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

func (r *txRepository) FindImbalances(ctx context.Context) ([]Imbalance, error) {
	rows, err := r.tx.Query(ctx, `SELECT source_type, source_id, currency, SUM(amount)::bigint AS net
FROM ledger_postings
GROUP BY source_type, source_id, currency
HAVING SUM(amount) <> 0
ORDER BY source_type, source_id, currency`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Imbalance
	for rows.Next() {
		var im Imbalance
		if err := rows.Scan(&im.SourceType, &im.SourceID, &im.Currency, &im.Net); err != nil {
			return nil, err
		}
		out = append(out, im)
	}
	return out, rows.Err()
}

func (r *txRepository) AppendPostings(ctx context.Context, postings []Posting) error {
	if err := CheckBalanced(postings); err != nil {
		return err
	}
	for _, p := range postings {
		_, err := r.tx.Exec(ctx, `INSERT INTO ledger_postings (source_type, source_id, sequence, account_code, currency, amount, posting_date, project_id, party_id, reversal_of, memo)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, p.SourceType, p.SourceID, p.Sequence, p.AccountCode, p.Currency, p.Amount, p.PostingDate, p.ProjectID, p.PartyID, p.ReversalOf, p.Memo)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				switch pgErr.Code {
				case pgUniqueViolation:
					return fmt.Errorf("%w: posting set for %s already exists", shared.ErrInconsistent, SourceKey(p.SourceType, p.SourceID))
				case pgForeignKeyViolation:
					return fmt.Errorf("%w %q", ErrAccountNotFound, p.AccountCode)
				}
			}
			return err
		}
	}
	return nil
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO invoices (id, buyer_id, project_id, currency, amount, posting_date, status, receivable_account, revenue_account, memo)
VALUES ($1,$2,$3,$4,$5,$6,'DRAFT',$7,$8,$9) RETURNING number, created_at, updated_at`,
		inv.ID, inv.BuyerID, inv.ProjectID, inv.Currency, inv.Amount, inv.PostingDate, inv.ReceivableAccount, inv.RevenueAccount, inv.Memo)
	inv.Status = InvoiceDraft
	if err := row.Scan(&inv.Number, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

const invoiceColumns = `id, number, buyer_id, project_id, currency, amount, posting_date, status, receivable_account, revenue_account, memo, created_at, updated_at, posted_at, reversed_at`

func (r *txRepository) GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return scanInvoice(r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, id))
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return scanInvoice(r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1 FOR UPDATE`, id))
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.BuyerID, &inv.ProjectID, &inv.Currency, &inv.Amount, &inv.PostingDate, &inv.Status, &inv.ReceivableAccount, &inv.RevenueAccount, &inv.Memo, &inv.CreatedAt, &inv.UpdatedAt, &inv.PostedAt, &inv.ReversedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (r *txRepository) UpdateInvoiceStatus(ctx context.Context, id uuid.UUID, from, to InvoiceStatus, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE invoices SET status=$3, updated_at=NOW(),
	posted_at = CASE WHEN $3 = 'POSTED' THEN $4 ELSE posted_at END,
	reversed_at = CASE WHEN $3 = 'REVERSED' THEN $4 ELSE reversed_at END
WHERE id=$1 AND status=$2`, id, from, to, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %s changed concurrently", shared.ErrBusy, id)
	}
	return nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO payments (id, invoice_id, currency, amount, paid_at, cash_account, memo)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING created_at`, p.ID, p.InvoiceID, p.Currency, p.Amount, p.PaidAt, p.CashAccount, p.Memo)
	if err := row.Scan(&p.CreatedAt); err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (r *txRepository) AppliedAmount(ctx context.Context, invoiceID uuid.UUID) (money.Minor, error) {
	var applied money.Minor
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::bigint FROM payments WHERE invoice_id=$1`, invoiceID).Scan(&applied)
	return applied, err
}

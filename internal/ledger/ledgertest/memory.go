// Package ledgertest provides an in-memory ledger store for package tests.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/agriledger/internal/ledger"
	"github.com/odyssey-erp/agriledger/internal/money"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

// Store is an in-memory ledger.RepositoryPort. Transactions are serialised and applied
// atomically: a failing callback leaves no trace.
type Store struct {
	mu    sync.RWMutex
	state state
}

type state struct {
	accounts map[string]ledger.Account
	invoices map[uuid.UUID]ledger.Invoice
	payments []ledger.Payment
	postings []ledger.Posting
	seq      int64
	invoiceN int64
}

// NewStore returns a store seeded with accounts.
func NewStore(accounts ...ledger.Account) *Store {
	s := &Store{state: state{
		accounts: make(map[string]ledger.Account),
		invoices: make(map[uuid.UUID]ledger.Invoice),
	}}
	for _, a := range accounts {
		s.state.accounts[a.Code] = a
	}
	return s
}

// DefaultAccounts is a small farm chart of accounts.
func DefaultAccounts() []ledger.Account {
	return []ledger.Account{
		{Code: "1000", Name: "Cash on hand", Type: ledger.AccountTypeAsset, IsCash: true},
		{Code: "1010", Name: "Bank", Type: ledger.AccountTypeAsset, IsCash: true},
		{Code: "1200", Name: "Accounts receivable", Type: ledger.AccountTypeAsset},
		{Code: "2100", Name: "Settlement proceeds clearing", Type: ledger.AccountTypeLiability},
		{Code: "2200", Name: "Grower payable", Type: ledger.AccountTypeLiability},
		{Code: "2210", Name: "Landowner payable", Type: ledger.AccountTypeLiability},
		{Code: "4000", Name: "Crop sales", Type: ledger.AccountTypeRevenue},
		{Code: "5000", Name: "Share distribution", Type: ledger.AccountTypeExpense},
		{Code: "5010", Name: "Landowner share", Type: ledger.AccountTypeExpense},
	}
}

// Tx is the transactional view handed to callbacks.
type Tx struct {
	st  *state
	now time.Time
}

// Atomic runs fn against a copy of the state and commits it only when fn succeeds.
func (s *Store) Atomic(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	working := s.state.clone()
	if err := fn(&Tx{st: &working, now: time.Now()}); err != nil {
		return err
	}
	s.state = working
	return nil
}

// WithTx implements ledger.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Atomic(func(tx *Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return ctx.Err()
	})
}

// WithSnapshot implements ledger.RepositoryPort.
func (s *Store) WithSnapshot(ctx context.Context, fn func(context.Context, ledger.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := s.state.clone()
	return fn(ctx, &Tx{st: &snapshot})
}

// Postings returns a copy of every posting in insertion order.
func (s *Store) Postings() []ledger.Posting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ledger.Posting(nil), s.state.postings...)
}

// Inject appends postings without validation, for integrity-scan tests.
func (s *Store) Inject(postings ...ledger.Posting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range postings {
		s.state.seq++
		p.ID = s.state.seq
		s.state.postings = append(s.state.postings, p)
	}
}

func (st state) clone() state {
	out := state{
		accounts: make(map[string]ledger.Account, len(st.accounts)),
		invoices: make(map[uuid.UUID]ledger.Invoice, len(st.invoices)),
		payments: append([]ledger.Payment(nil), st.payments...),
		postings: append([]ledger.Posting(nil), st.postings...),
		seq:      st.seq,
		invoiceN: st.invoiceN,
	}
	for k, v := range st.accounts {
		out.accounts[k] = v
	}
	for k, v := range st.invoices {
		out.invoices[k] = v
	}
	return out
}

func (tx *Tx) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	out := make([]ledger.Account, 0, len(tx.st.accounts))
	for _, a := range tx.st.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (tx *Tx) ListOpenItems(ctx context.Context, filter ledger.OpenItemFilter) ([]ledger.OpenItem, error) {
	var out []ledger.OpenItem
	for _, inv := range tx.st.invoices {
		if inv.Status == ledger.InvoiceReversed {
			continue
		}
		if filter.BuyerID != nil && inv.BuyerID != *filter.BuyerID {
			continue
		}
		if filter.ProjectID != nil && (inv.ProjectID == nil || *inv.ProjectID != *filter.ProjectID) {
			continue
		}
		if filter.Currency != "" && inv.Currency != filter.Currency {
			continue
		}
		var applied money.Minor
		for _, p := range tx.st.payments {
			if p.InvoiceID == inv.ID && !p.PaidAt.After(filter.AsOf) {
				applied += p.Amount
			}
		}
		out = append(out, ledger.OpenItem{
			InvoiceID:   inv.ID,
			Number:      inv.Number,
			BuyerID:     inv.BuyerID,
			ProjectID:   inv.ProjectID,
			Currency:    inv.Currency,
			Amount:      inv.Amount,
			Applied:     applied,
			PostingDate: inv.PostingDate,
			Status:      inv.Status,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BuyerID != out[j].BuyerID {
			return out[i].BuyerID.String() < out[j].BuyerID.String()
		}
		if !out[i].PostingDate.Equal(out[j].PostingDate) {
			return out[i].PostingDate.Before(out[j].PostingDate)
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func (tx *Tx) SumPostings(ctx context.Context, filter ledger.PostingFilter) ([]ledger.PostingTotal, error) {
	type key struct{ account, currency string }
	sums := make(map[key]*ledger.PostingTotal)
	for _, p := range tx.st.postings {
		if p.PostingDate.After(filter.AsOf) {
			continue
		}
		if filter.ProjectID != nil && (p.ProjectID == nil || *p.ProjectID != *filter.ProjectID) {
			continue
		}
		k := key{p.AccountCode, p.Currency}
		t, ok := sums[k]
		if !ok {
			t = &ledger.PostingTotal{AccountCode: p.AccountCode, Currency: p.Currency}
			sums[k] = t
		}
		if p.Amount > 0 {
			t.Debit += p.Amount
		} else {
			t.Credit -= p.Amount
		}
	}
	out := make([]ledger.PostingTotal, 0, len(sums))
	for _, t := range sums {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountCode != out[j].AccountCode {
			return out[i].AccountCode < out[j].AccountCode
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}

func (tx *Tx) ListCashMovements(ctx context.Context, from, to time.Time) ([]ledger.CashMovement, error) {
	var out []ledger.CashMovement
	for _, p := range tx.st.postings {
		if !tx.st.accounts[p.AccountCode].IsCash {
			continue
		}
		if p.PostingDate.Before(from) || p.PostingDate.After(to) {
			continue
		}
		out = append(out, ledger.CashMovement{
			Date:        p.PostingDate,
			SourceType:  p.SourceType,
			SourceID:    p.SourceID,
			Sequence:    p.Sequence,
			AccountCode: p.AccountCode,
			Currency:    p.Currency,
			Amount:      p.Amount,
			PartyID:     p.PartyID,
			Memo:        p.Memo,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.SourceType != b.SourceType {
			return a.SourceType < b.SourceType
		}
		if a.SourceID != b.SourceID {
			return a.SourceID.String() < b.SourceID.String()
		}
		return a.Sequence < b.Sequence
	})
	return out, nil
}

func (tx *Tx) ListPostingsBySource(ctx context.Context, source ledger.SourceType, id uuid.UUID) ([]ledger.Posting, error) {
	var out []ledger.Posting
	for _, p := range tx.st.postings {
		if p.SourceType == source && p.SourceID == id {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (tx *Tx) FindImbalances(ctx context.Context) ([]ledger.Imbalance, error) {
	type key struct {
		source   ledger.SourceType
		id       uuid.UUID
		currency string
	}
	net := make(map[key]money.Minor)
	var order []key
	for _, p := range tx.st.postings {
		k := key{p.SourceType, p.SourceID, p.Currency}
		if _, ok := net[k]; !ok {
			order = append(order, k)
		}
		net[k] += p.Amount
	}
	var out []ledger.Imbalance
	for _, k := range order {
		if net[k] != 0 {
			out = append(out, ledger.Imbalance{SourceType: k.source, SourceID: k.id, Currency: k.currency, Net: net[k]})
		}
	}
	return out, nil
}

func (tx *Tx) AppendPostings(ctx context.Context, postings []ledger.Posting) error {
	if err := ledger.CheckBalanced(postings); err != nil {
		return err
	}
	for _, p := range postings {
		if _, ok := tx.st.accounts[p.AccountCode]; !ok {
			return fmt.Errorf("%w %q", ledger.ErrAccountNotFound, p.AccountCode)
		}
		for _, existing := range tx.st.postings {
			if existing.SourceType == p.SourceType && existing.SourceID == p.SourceID && existing.Sequence == p.Sequence {
				return fmt.Errorf("%w: posting set for %s already exists", shared.ErrInconsistent, ledger.SourceKey(p.SourceType, p.SourceID))
			}
		}
	}
	for _, p := range postings {
		tx.st.seq++
		p.ID = tx.st.seq
		p.CreatedAt = tx.now
		tx.st.postings = append(tx.st.postings, p)
	}
	return nil
}

func (tx *Tx) InsertInvoice(ctx context.Context, inv ledger.Invoice) (ledger.Invoice, error) {
	tx.st.invoiceN++
	inv.Number = fmt.Sprintf("INV-%06d", tx.st.invoiceN)
	inv.Status = ledger.InvoiceDraft
	inv.CreatedAt = tx.now
	inv.UpdatedAt = tx.now
	tx.st.invoices[inv.ID] = inv
	return inv, nil
}

func (tx *Tx) GetInvoice(ctx context.Context, id uuid.UUID) (ledger.Invoice, error) {
	inv, ok := tx.st.invoices[id]
	if !ok {
		return ledger.Invoice{}, ledger.ErrInvoiceNotFound
	}
	return inv, nil
}

func (tx *Tx) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (ledger.Invoice, error) {
	inv, ok := tx.st.invoices[id]
	if !ok {
		return ledger.Invoice{}, ledger.ErrInvoiceNotFound
	}
	return inv, nil
}

func (tx *Tx) UpdateInvoiceStatus(ctx context.Context, id uuid.UUID, from, to ledger.InvoiceStatus, at time.Time) error {
	inv, ok := tx.st.invoices[id]
	if !ok {
		return ledger.ErrInvoiceNotFound
	}
	if inv.Status != from {
		return fmt.Errorf("%w: invoice %s changed concurrently", shared.ErrBusy, id)
	}
	inv.Status = to
	inv.UpdatedAt = at
	switch to {
	case ledger.InvoicePosted:
		inv.PostedAt = &at
	case ledger.InvoiceReversed:
		inv.ReversedAt = &at
	}
	tx.st.invoices[id] = inv
	return nil
}

func (tx *Tx) InsertPayment(ctx context.Context, p ledger.Payment) (ledger.Payment, error) {
	p.CreatedAt = tx.now
	tx.st.payments = append(tx.st.payments, p)
	return p, nil
}

func (tx *Tx) AppliedAmount(ctx context.Context, invoiceID uuid.UUID) (money.Minor, error) {
	var applied money.Minor
	for _, p := range tx.st.payments {
		if p.InvoiceID == invoiceID {
			applied += p.Amount
		}
	}
	return applied, nil
}

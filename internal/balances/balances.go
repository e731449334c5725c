// Package balances rolls ledger postings up per account and currency and lists cash movements.
package balances

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/agriledger/internal/ledger"
	"github.com/odyssey-erp/agriledger/internal/money"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

// Row is the balance of one (account, currency) pair. Balance is always debits minus credits;
// NormalSide is surfaced for presentation and never applied here.
type Row struct {
	AccountCode string
	AccountName string
	AccountType ledger.AccountType
	NormalSide  ledger.NormalSide
	Currency    string
	Debits      money.Minor
	Credits     money.Minor
	Balance     money.Minor
}

// MovementType tags a cash movement direction.
type MovementType string

const (
	MovementIn  MovementType = "IN"
	MovementOut MovementType = "OUT"
)

// Movement is one cashbook line. Amount is always positive; Type carries the direction.
type Movement struct {
	Date        time.Time
	Type        MovementType
	SourceType  ledger.SourceType
	SourceID    uuid.UUID
	Sequence    int
	AccountCode string
	Currency    string
	Amount      money.Minor
	PartyID     *uuid.UUID
	Memo        string
}

// CashTotal sums cashbook lines for one currency.
type CashTotal struct {
	Currency string
	In       money.Minor
	Out      money.Minor
}

// Net returns In minus Out.
func (t CashTotal) Net() money.Minor {
	return t.In - t.Out
}

// Cashbook is the cash movement listing for a date range.
type Cashbook struct {
	From      time.Time
	To        time.Time
	Movements []Movement
	Totals    []CashTotal
}

// Service aggregates balances from a ledger snapshot.
type Service struct {
	repo ledger.RepositoryPort
}

// NewService constructs the balance aggregator.
func NewService(repo ledger.RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Balances returns per (account, currency) totals for postings dated on or before asOf,
// ordered by account code then currency. With projectID only postings scoped to that
// project count.
func (s *Service) Balances(ctx context.Context, asOf time.Time, projectID *uuid.UUID) ([]Row, error) {
	if asOf.IsZero() {
		return nil, fmt.Errorf("%w: as_of required", shared.ErrInvalidArgument)
	}
	var (
		accounts []ledger.Account
		totals   []ledger.PostingTotal
	)
	err := s.repo.WithSnapshot(ctx, func(ctx context.Context, r ledger.Reader) error {
		var err error
		if accounts, err = r.ListAccounts(ctx); err != nil {
			return err
		}
		totals, err = r.SumPostings(ctx, ledger.PostingFilter{AsOf: shared.DateOf(asOf), ProjectID: projectID})
		return err
	})
	if err != nil {
		return nil, err
	}
	return Aggregate(accounts, totals), nil
}

// Aggregate joins posting totals with account metadata and orders the result.
func Aggregate(accounts []ledger.Account, totals []ledger.PostingTotal) []Row {
	meta := make(map[string]ledger.Account, len(accounts))
	for _, a := range accounts {
		meta[a.Code] = a
	}
	rows := make([]Row, 0, len(totals))
	for _, t := range totals {
		account := meta[t.AccountCode]
		rows = append(rows, Row{
			AccountCode: t.AccountCode,
			AccountName: account.Name,
			AccountType: account.Type,
			NormalSide:  account.Type.NormalSide(),
			Currency:    t.Currency,
			Debits:      t.Debit,
			Credits:     t.Credit,
			Balance:     t.Debit - t.Credit,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].AccountCode != rows[j].AccountCode {
			return rows[i].AccountCode < rows[j].AccountCode
		}
		return rows[i].Currency < rows[j].Currency
	})
	return rows
}

// Cashbook lists postings against cash accounts dated within [from, to].
func (s *Service) Cashbook(ctx context.Context, from, to time.Time) (Cashbook, error) {
	if from.IsZero() || to.IsZero() {
		return Cashbook{}, fmt.Errorf("%w: from and to required", shared.ErrInvalidArgument)
	}
	from, to = shared.DateOf(from), shared.DateOf(to)
	if from.After(to) {
		return Cashbook{}, fmt.Errorf("%w: from %s after to %s", shared.ErrInvalidArgument, from.Format(shared.DateLayout), to.Format(shared.DateLayout))
	}
	var movements []ledger.CashMovement
	err := s.repo.WithSnapshot(ctx, func(ctx context.Context, r ledger.Reader) error {
		var err error
		movements, err = r.ListCashMovements(ctx, from, to)
		return err
	})
	if err != nil {
		return Cashbook{}, err
	}

	book := Cashbook{From: from, To: to, Movements: make([]Movement, 0, len(movements))}
	totals := make(map[string]*CashTotal)
	for _, m := range movements {
		line := Movement{
			Date:        m.Date,
			Type:        MovementIn,
			SourceType:  m.SourceType,
			SourceID:    m.SourceID,
			Sequence:    m.Sequence,
			AccountCode: m.AccountCode,
			Currency:    m.Currency,
			Amount:      m.Amount.Abs(),
			PartyID:     m.PartyID,
			Memo:        m.Memo,
		}
		total, ok := totals[m.Currency]
		if !ok {
			total = &CashTotal{Currency: m.Currency}
			totals[m.Currency] = total
		}
		if m.Amount < 0 {
			line.Type = MovementOut
			total.Out += line.Amount
		} else {
			total.In += line.Amount
		}
		book.Movements = append(book.Movements, line)
	}
	book.Totals = make([]CashTotal, 0, len(totals))
	for _, t := range totals {
		book.Totals = append(book.Totals, *t)
	}
	sort.Slice(book.Totals, func(i, j int) bool { return book.Totals[i].Currency < book.Totals[j].Currency })
	return book, nil
}

// Package reports composes ledger aggregations into read-only payloads for the API boundary.
// Amounts leave this package as decimal strings in display units.
package reports

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/agriledger/internal/ageing"
	"github.com/odyssey-erp/agriledger/internal/balances"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

// AgeingQuery carries raw ageing parameters. AsOf is required.
type AgeingQuery struct {
	AsOf      string
	BuyerID   string
	ProjectID string
	Currency  string
}

// BalancesQuery carries raw balances parameters. AsOf is required.
type BalancesQuery struct {
	AsOf      string
	ProjectID string
}

// CashbookQuery carries raw cashbook parameters. Both dates are required.
type CashbookQuery struct {
	From string
	To   string
}

// AgeingRow is one buyer line, or the totals line when BuyerID is empty.
type AgeingRow struct {
	BuyerID          string `json:"buyer_id,omitempty"`
	TotalOutstanding string `json:"total_outstanding"`
	Bucket0To30      string `json:"bucket_0_30"`
	Bucket31To60     string `json:"bucket_31_60"`
	Bucket61To90     string `json:"bucket_61_90"`
	Bucket90Plus     string `json:"bucket_90_plus"`
}

// AgeingPayload is the ageing response.
type AgeingPayload struct {
	AsOf     string      `json:"as_of"`
	Currency string      `json:"currency"`
	Rows     []AgeingRow `json:"rows"`
	Totals   AgeingRow   `json:"totals"`
}

// BalanceRow is one (account, currency) balance line.
type BalanceRow struct {
	AccountCode string `json:"account_code"`
	AccountName string `json:"account_name,omitempty"`
	AccountType string `json:"account_type,omitempty"`
	NormalSide  string `json:"normal_side"`
	Currency    string `json:"currency"`
	Debits      string `json:"debits"`
	Credits     string `json:"credits"`
	Balance     string `json:"balance"`
}

// CashMovement is one cashbook line.
type CashMovement struct {
	Date        string     `json:"date"`
	Type        string     `json:"type"`
	SourceType  string     `json:"source_type"`
	SourceID    uuid.UUID  `json:"source_id"`
	Sequence    int        `json:"sequence"`
	AccountCode string     `json:"account_code"`
	Currency    string     `json:"currency"`
	Amount      string     `json:"amount"`
	PartyID     *uuid.UUID `json:"party_id,omitempty"`
	Memo        string     `json:"memo,omitempty"`
}

// CashTotal sums cashbook lines per currency.
type CashTotal struct {
	Currency string `json:"currency"`
	In       string `json:"in"`
	Out      string `json:"out"`
	Net      string `json:"net"`
}

// CashbookPayload is the cashbook response.
type CashbookPayload struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Movements []CashMovement `json:"movements"`
	Totals    []CashTotal    `json:"totals"`
}

// SummaryPayload combines ageing totals and balances as of one date.
type SummaryPayload struct {
	AsOf     string       `json:"as_of"`
	Currency string       `json:"currency"`
	Ageing   AgeingRow    `json:"ageing_totals"`
	Balances []BalanceRow `json:"balances"`
}

// Service is the report façade.
type Service struct {
	ageing   *ageing.Service
	balances *balances.Service
}

// NewService constructs the façade.
func NewService(ageingSvc *ageing.Service, balancesSvc *balances.Service) *Service {
	return &Service{ageing: ageingSvc, balances: balancesSvc}
}

// Ageing returns outstanding receivables bucketed by age.
func (s *Service) Ageing(ctx context.Context, q AgeingQuery) (AgeingPayload, error) {
	asOf, err := shared.ParseDate(q.AsOf)
	if err != nil {
		return AgeingPayload{}, err
	}
	buyerID, err := optionalUUID("buyer_id", q.BuyerID)
	if err != nil {
		return AgeingPayload{}, err
	}
	projectID, err := optionalUUID("project_id", q.ProjectID)
	if err != nil {
		return AgeingPayload{}, err
	}
	report, err := s.ageing.Ageing(ctx, ageing.Filter{AsOf: asOf, BuyerID: buyerID, ProjectID: projectID, Currency: q.Currency})
	if err != nil {
		return AgeingPayload{}, err
	}
	return ageingPayload(report), nil
}

// Balances returns per (account, currency) balances.
func (s *Service) Balances(ctx context.Context, q BalancesQuery) ([]BalanceRow, error) {
	asOf, err := shared.ParseDate(q.AsOf)
	if err != nil {
		return nil, err
	}
	projectID, err := optionalUUID("project_id", q.ProjectID)
	if err != nil {
		return nil, err
	}
	rows, err := s.balances.Balances(ctx, asOf, projectID)
	if err != nil {
		return nil, err
	}
	return balancePayload(rows), nil
}

// Cashbook returns cash movements within the range.
func (s *Service) Cashbook(ctx context.Context, q CashbookQuery) (CashbookPayload, error) {
	from, err := shared.ParseDate(q.From)
	if err != nil {
		return CashbookPayload{}, err
	}
	to, err := shared.ParseDate(q.To)
	if err != nil {
		return CashbookPayload{}, err
	}
	book, err := s.balances.Cashbook(ctx, from, to)
	if err != nil {
		return CashbookPayload{}, err
	}
	return cashbookPayload(book), nil
}

// Summary computes ageing totals and balances concurrently for the same cutoff.
func (s *Service) Summary(ctx context.Context, asOfRaw, currency string) (SummaryPayload, error) {
	asOf, err := shared.ParseDate(asOfRaw)
	if err != nil {
		return SummaryPayload{}, err
	}
	var (
		report ageing.Report
		rows   []balances.Row
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		report, err = s.ageing.Ageing(gctx, ageing.Filter{AsOf: asOf, Currency: currency})
		return err
	})
	g.Go(func() error {
		var err error
		rows, err = s.balances.Balances(gctx, asOf, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return SummaryPayload{}, err
	}
	payload := ageingPayload(report)
	return SummaryPayload{
		AsOf:     payload.AsOf,
		Currency: payload.Currency,
		Ageing:   payload.Totals,
		Balances: balancePayload(rows),
	}, nil
}

func optionalUUID(name, raw string) (*uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q", shared.ErrInvalidArgument, name, raw)
	}
	return &id, nil
}

func ageingRow(buyer string, outstanding ageing.Row, currency string) AgeingRow {
	return AgeingRow{
		BuyerID:          buyer,
		TotalOutstanding: outstanding.Outstanding.Format(currency),
		Bucket0To30:      outstanding.Days0To30.Format(currency),
		Bucket31To60:     outstanding.Days31To60.Format(currency),
		Bucket61To90:     outstanding.Days61To90.Format(currency),
		Bucket90Plus:     outstanding.Days90Plus.Format(currency),
	}
}

func ageingPayload(report ageing.Report) AgeingPayload {
	payload := AgeingPayload{
		AsOf:     report.AsOf.Format(shared.DateLayout),
		Currency: report.Currency,
		Rows:     make([]AgeingRow, 0, len(report.Rows)),
		Totals:   ageingRow("", report.Totals, report.Currency),
	}
	for _, row := range report.Rows {
		payload.Rows = append(payload.Rows, ageingRow(row.BuyerID.String(), row, report.Currency))
	}
	return payload
}

func balancePayload(rows []balances.Row) []BalanceRow {
	out := make([]BalanceRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, BalanceRow{
			AccountCode: r.AccountCode,
			AccountName: r.AccountName,
			AccountType: string(r.AccountType),
			NormalSide:  string(r.NormalSide),
			Currency:    r.Currency,
			Debits:      r.Debits.Format(r.Currency),
			Credits:     r.Credits.Format(r.Currency),
			Balance:     r.Balance.Format(r.Currency),
		})
	}
	return out
}

func cashbookPayload(book balances.Cashbook) CashbookPayload {
	payload := CashbookPayload{
		From:      book.From.Format(shared.DateLayout),
		To:        book.To.Format(shared.DateLayout),
		Movements: make([]CashMovement, 0, len(book.Movements)),
		Totals:    make([]CashTotal, 0, len(book.Totals)),
	}
	for _, m := range book.Movements {
		payload.Movements = append(payload.Movements, CashMovement{
			Date:        m.Date.Format(shared.DateLayout),
			Type:        string(m.Type),
			SourceType:  string(m.SourceType),
			SourceID:    m.SourceID,
			Sequence:    m.Sequence,
			AccountCode: m.AccountCode,
			Currency:    m.Currency,
			Amount:      m.Amount.Format(m.Currency),
			PartyID:     m.PartyID,
			Memo:        m.Memo,
		})
	}
	for _, t := range book.Totals {
		payload.Totals = append(payload.Totals, CashTotal{
			Currency: t.Currency,
			In:       t.In.Format(t.Currency),
			Out:      t.Out.Format(t.Currency),
			Net:      t.Net().Format(t.Currency),
		})
	}
	return payload
}

// Package ageing buckets outstanding receivables by age as of a cutoff date.
package ageing

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

// Bucket names an age band.
type Bucket string

const (
	Bucket0To30  Bucket = "0_30"
	Bucket31To60 Bucket = "31_60"
	Bucket61To90 Bucket = "61_90"
	Bucket90Plus Bucket = "90_plus"
)

// Classify assigns an age in days to its bucket. Negative ages fall into 0_30.
func Classify(ageDays int) Bucket {
	switch {
	case ageDays <= 30:
		return Bucket0To30
	case ageDays <= 60:
		return Bucket31To60
	case ageDays <= 90:
		return Bucket61To90
	default:
		return Bucket90Plus
	}
}

// Buckets holds amounts per age band in minor units.
type Buckets struct {
	Days0To30  money.Minor
	Days31To60 money.Minor
	Days61To90 money.Minor
	Days90Plus money.Minor
}

// Add places amount into bucket.
func (b *Buckets) Add(bucket Bucket, amount money.Minor) {
	switch bucket {
	case Bucket0To30:
		b.Days0To30 += amount
	case Bucket31To60:
		b.Days31To60 += amount
	case Bucket61To90:
		b.Days61To90 += amount
	default:
		b.Days90Plus += amount
	}
}

// Sum returns the total across all bands.
func (b Buckets) Sum() money.Minor {
	return b.Days0To30 + b.Days31To60 + b.Days61To90 + b.Days90Plus
}

// Row is the ageing line for one buyer.
type Row struct {
	BuyerID     uuid.UUID
	Outstanding money.Minor
	Buckets
}

// Report is the ageing result. Totals are always present.
type Report struct {
	AsOf     time.Time
	Currency string
	Rows     []Row
	Totals   Row
}

// Filter scopes an ageing query.
type Filter struct {
	AsOf      time.Time
	BuyerID   *uuid.UUID
	ProjectID *uuid.UUID
	Currency  string
}

// Build ages open items as of asOf. Items without an open balance are skipped and buyers
// with nothing outstanding are omitted. Rows are ordered by buyer id.
func Build(asOf time.Time, currency string, items []ledger.OpenItem) Report {
	asOf = shared.DateOf(asOf)
	byBuyer := make(map[uuid.UUID]*Row)
	report := Report{AsOf: asOf, Currency: currency, Rows: []Row{}}
	for _, item := range items {
		if item.Status == ledger.InvoiceReversed {
			continue
		}
		open := item.Open()
		if open <= 0 {
			continue
		}
		bucket := Classify(shared.DaysBetween(item.PostingDate, asOf))
		row, ok := byBuyer[item.BuyerID]
		if !ok {
			row = &Row{BuyerID: item.BuyerID}
			byBuyer[item.BuyerID] = row
		}
		row.Add(bucket, open)
		row.Outstanding += open
		report.Totals.Add(bucket, open)
		report.Totals.Outstanding += open
	}
	for _, row := range byBuyer {
		report.Rows = append(report.Rows, *row)
	}
	sort.Slice(report.Rows, func(i, j int) bool {
		return report.Rows[i].BuyerID.String() < report.Rows[j].BuyerID.String()
	})
	return report
}

// Service answers ageing queries from a ledger snapshot.
type Service struct {
	repo         ledger.RepositoryPort
	baseCurrency string
}

// NewService constructs the ageing service. baseCurrency is used when a filter names none.
func NewService(repo ledger.RepositoryPort, baseCurrency string) *Service {
	return &Service{repo: repo, baseCurrency: baseCurrency}
}

// Ageing computes the report for filter.
func (s *Service) Ageing(ctx context.Context, filter Filter) (Report, error) {
	if filter.AsOf.IsZero() {
		return Report{}, fmt.Errorf("%w: as_of required", shared.ErrInvalidArgument)
	}
	code := filter.Currency
	if code == "" {
		code = s.baseCurrency
	}
	currency, err := money.NormalizeCurrency(code)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	asOf := shared.DateOf(filter.AsOf)

	var items []ledger.OpenItem
	err = s.repo.WithSnapshot(ctx, func(ctx context.Context, r ledger.Reader) error {
		var err error
		items, err = r.ListOpenItems(ctx, ledger.OpenItemFilter{
			AsOf:      asOf,
			BuyerID:   filter.BuyerID,
			ProjectID: filter.ProjectID,
			Currency:  currency,
		})
		return err
	})
	if err != nil {
		return Report{}, err
	}
	return Build(asOf, currency, items), nil
}

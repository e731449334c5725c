package balances

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/agriledger/internal/ledger"
	"github.com/odyssey-erp/agriledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/agriledger/internal/money"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	store    *ledgertest.Store
	invoices *ledger.InvoiceService
	svc      *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := ledgertest.NewStore(ledgertest.DefaultAccounts()...)
	return fixture{
		store:    store,
		invoices: ledger.NewInvoiceService(store, nil, nil, nil, nil),
		svc:      NewService(store),
	}
}

func (f fixture) sale(t *testing.T, project *uuid.UUID, currency string, amount money.Minor, posted time.Time) ledger.Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := f.invoices.CreateInvoice(ctx, ledger.CreateInvoiceInput{
		BuyerID:           uuid.New(),
		ProjectID:         project,
		Currency:          currency,
		Amount:            amount,
		PostingDate:       posted,
		ReceivableAccount: "1200",
		RevenueAccount:    "4000",
	})
	require.NoError(t, err)
	inv, err = f.invoices.PostInvoice(ctx, inv.ID, "tester")
	require.NoError(t, err)
	return inv
}

func TestBalancesOrderingAndSigns(t *testing.T) {
	f := newFixture(t)
	f.sale(t, nil, "USD", 5000, date(2024, 2, 1))
	inv := f.sale(t, nil, "IDR", 1_000_000, date(2024, 2, 1))
	_, err := f.invoices.RecordPayment(context.Background(), ledger.RecordPaymentInput{
		InvoiceID: inv.ID, Amount: 400_000, PaidAt: date(2024, 2, 10), CashAccount: "1000",
	})
	require.NoError(t, err)

	rows, err := f.svc.Balances(context.Background(), date(2024, 3, 1), nil)
	require.NoError(t, err)

	var keys []string
	for _, r := range rows {
		keys = append(keys, r.AccountCode+"/"+r.Currency)
		require.Equal(t, r.Debits-r.Credits, r.Balance)
	}
	require.Equal(t, []string{"1000/IDR", "1200/IDR", "1200/USD", "4000/IDR", "4000/USD"}, keys)

	receivable := rows[1]
	require.Equal(t, money.Minor(1_000_000), receivable.Debits)
	require.Equal(t, money.Minor(400_000), receivable.Credits)
	require.Equal(t, money.Minor(600_000), receivable.Balance)
	require.Equal(t, ledger.NormalDebit, receivable.NormalSide)

	revenue := rows[3]
	require.Equal(t, money.Minor(-1_000_000), revenue.Balance)
	require.Equal(t, ledger.NormalCredit, revenue.NormalSide)
	require.Equal(t, "Crop sales", revenue.AccountName)
}

func TestBalancesRespectCutoff(t *testing.T) {
	f := newFixture(t)
	f.sale(t, nil, "IDR", 100, date(2024, 2, 1))
	f.sale(t, nil, "IDR", 200, date(2024, 4, 1))

	rows, err := f.svc.Balances(context.Background(), date(2024, 3, 1), nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, money.Minor(100), rows[0].Debits)
}

func TestBalancesIncludeReversals(t *testing.T) {
	f := newFixture(t)
	inv := f.sale(t, nil, "IDR", 100, date(2024, 2, 1))
	_, err := f.invoices.ReverseInvoice(context.Background(), inv.ID, "tester")
	require.NoError(t, err)

	rows, err := f.svc.Balances(context.Background(), date(2099, 1, 1), nil)
	require.NoError(t, err)
	for _, r := range rows {
		require.Zero(t, r.Balance)
		require.Equal(t, money.Minor(100), r.Debits)
		require.Equal(t, money.Minor(100), r.Credits)
	}
}

func TestBalancesProjectFilterIsSubset(t *testing.T) {
	f := newFixture(t)
	project := uuid.New()
	f.sale(t, &project, "IDR", 300, date(2024, 2, 1))
	f.sale(t, nil, "IDR", 700, date(2024, 2, 1))
	f.sale(t, nil, "USD", 90, date(2024, 2, 1))

	asOf := date(2024, 3, 1)
	all, err := f.svc.Balances(context.Background(), asOf, nil)
	require.NoError(t, err)
	scoped, err := f.svc.Balances(context.Background(), asOf, &project)
	require.NoError(t, err)

	require.Less(t, len(scoped), len(all))
	var allDebits, scopedDebits money.Minor
	for _, r := range all {
		allDebits += r.Debits
	}
	for _, r := range scoped {
		scopedDebits += r.Debits
	}
	require.Less(t, int64(scopedDebits), int64(allDebits))
	require.Equal(t, money.Minor(300), scopedDebits)
}

func TestBalancesRequireCutoff(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Balances(context.Background(), time.Time{}, nil)
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestCashbook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inv := f.sale(t, nil, "IDR", 1000, date(2024, 2, 1))
	_, err := f.invoices.RecordPayment(ctx, ledger.RecordPaymentInput{InvoiceID: inv.ID, Amount: 600, PaidAt: date(2024, 2, 5), CashAccount: "1000"})
	require.NoError(t, err)
	_, err = f.invoices.RecordPayment(ctx, ledger.RecordPaymentInput{InvoiceID: inv.ID, Amount: 400, PaidAt: date(2024, 3, 5), CashAccount: "1010"})
	require.NoError(t, err)

	book, err := f.svc.Cashbook(ctx, date(2024, 2, 1), date(2024, 2, 29))
	require.NoError(t, err)
	require.Len(t, book.Movements, 1)
	require.Equal(t, MovementIn, book.Movements[0].Type)
	require.Equal(t, money.Minor(600), book.Movements[0].Amount)
	require.Equal(t, []CashTotal{{Currency: "IDR", In: 600}}, book.Totals)

	// A cash refund shows up as OUT with a positive amount.
	refund := uuid.New()
	f.store.Inject(
		ledger.Posting{SourceType: ledger.SourceJournal, SourceID: refund, Sequence: 1, AccountCode: "1010", Currency: "IDR", Amount: -150, PostingDate: date(2024, 3, 6)},
		ledger.Posting{SourceType: ledger.SourceJournal, SourceID: refund, Sequence: 2, AccountCode: "1200", Currency: "IDR", Amount: 150, PostingDate: date(2024, 3, 6)},
	)
	book, err = f.svc.Cashbook(ctx, date(2024, 3, 1), date(2024, 3, 31))
	require.NoError(t, err)
	require.Len(t, book.Movements, 2)
	require.Equal(t, MovementIn, book.Movements[0].Type)
	require.Equal(t, MovementOut, book.Movements[1].Type)
	require.Equal(t, money.Minor(150), book.Movements[1].Amount)
	require.Equal(t, money.Minor(250), book.Totals[0].Net())

	_, err = f.svc.Cashbook(ctx, date(2024, 3, 2), date(2024, 3, 1))
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	book, err = f.svc.Cashbook(ctx, date(2023, 1, 1), date(2023, 1, 31))
	require.NoError(t, err)
	require.Empty(t, book.Movements)
	require.Empty(t, book.Totals)
}

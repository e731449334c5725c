package reports

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/agriledger/internal/ageing"
	"github.com/odyssey-erp/agriledger/internal/balances"
	"github.com/odyssey-erp/agriledger/internal/ledger"
	"github.com/odyssey-erp/agriledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/agriledger/internal/money"
	"github.com/odyssey-erp/agriledger/internal/platform/httpx"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

var buyer = uuid.MustParse("0b5a8a52-1111-4c57-9a8e-3a1f0c2d0001")

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// seed books a 1000.00 USD sale on 2024-01-15 with 300.00 received on 2024-03-05.
func seed(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	store := ledgertest.NewStore(ledgertest.DefaultAccounts()...)
	invoices := ledger.NewInvoiceService(store, nil, nil, nil, nil)

	inv, err := invoices.CreateInvoice(ctx, ledger.CreateInvoiceInput{
		BuyerID:           buyer,
		Currency:          "USD",
		Amount:            100_000,
		PostingDate:       date(2024, 1, 15),
		ReceivableAccount: "1200",
		RevenueAccount:    "4000",
	})
	require.NoError(t, err)
	_, err = invoices.PostInvoice(ctx, inv.ID, "tester")
	require.NoError(t, err)
	_, err = invoices.RecordPayment(ctx, ledger.RecordPaymentInput{
		InvoiceID: inv.ID, Amount: money.Minor(30_000), PaidAt: date(2024, 3, 5), CashAccount: "1000",
	})
	require.NoError(t, err)

	return NewService(ageing.NewService(store, "USD"), balances.NewService(store))
}

func TestAgeingPayload(t *testing.T) {
	svc := seed(t)

	payload, err := svc.Ageing(context.Background(), AgeingQuery{AsOf: "2024-03-31"})
	require.NoError(t, err)
	require.Equal(t, "2024-03-31", payload.AsOf)
	require.Equal(t, "USD", payload.Currency)
	require.Len(t, payload.Rows, 1)
	require.Equal(t, AgeingRow{
		BuyerID:          buyer.String(),
		TotalOutstanding: "700.00",
		Bucket0To30:      "0.00",
		Bucket31To60:     "0.00",
		Bucket61To90:     "700.00",
		Bucket90Plus:     "0.00",
	}, payload.Rows[0])
	require.Equal(t, "700.00", payload.Totals.TotalOutstanding)
	require.Empty(t, payload.Totals.BuyerID)

	// Before the payment the full amount is open in an earlier band.
	payload, err = svc.Ageing(context.Background(), AgeingQuery{AsOf: "2024-03-01", BuyerID: buyer.String()})
	require.NoError(t, err)
	require.Equal(t, "1000.00", payload.Totals.TotalOutstanding)
	require.Equal(t, "1000.00", payload.Totals.Bucket31To60)

	payload, err = svc.Ageing(context.Background(), AgeingQuery{AsOf: "2024-03-31", BuyerID: uuid.NewString()})
	require.NoError(t, err)
	require.Empty(t, payload.Rows)
	require.Equal(t, "0.00", payload.Totals.TotalOutstanding)
}

func TestQueriesRejectBadParameters(t *testing.T) {
	svc := seed(t)
	ctx := context.Background()

	_, err := svc.Ageing(ctx, AgeingQuery{})
	require.True(t, errors.Is(err, shared.ErrInvalidArgument))
	_, err = svc.Ageing(ctx, AgeingQuery{AsOf: "31/03/2024"})
	require.True(t, errors.Is(err, shared.ErrInvalidArgument))
	_, err = svc.Ageing(ctx, AgeingQuery{AsOf: "2024-03-31", BuyerID: "nope"})
	require.True(t, errors.Is(err, shared.ErrInvalidArgument))
	_, err = svc.Ageing(ctx, AgeingQuery{AsOf: "2024-03-31", Currency: "XYZ1"})
	require.True(t, errors.Is(err, shared.ErrInvalidArgument))
	_, err = svc.Balances(ctx, BalancesQuery{AsOf: "2024-03-31", ProjectID: "x"})
	require.True(t, errors.Is(err, shared.ErrInvalidArgument))
	_, err = svc.Cashbook(ctx, CashbookQuery{From: "2024-04-01", To: "2024-03-01"})
	require.True(t, errors.Is(err, shared.ErrInvalidArgument))
	_, err = svc.Summary(ctx, "", "")
	require.True(t, errors.Is(err, shared.ErrInvalidArgument))
}

func TestBalancesAndCashbookPayloads(t *testing.T) {
	svc := seed(t)
	ctx := context.Background()

	rows, err := svc.Balances(ctx, BalancesQuery{AsOf: "2024-03-31"})
	require.NoError(t, err)
	byAccount := map[string]BalanceRow{}
	for _, r := range rows {
		byAccount[r.AccountCode] = r
	}
	require.Equal(t, "300.00", byAccount["1000"].Balance)
	require.Equal(t, "700.00", byAccount["1200"].Balance)
	require.Equal(t, "1000.00", byAccount["1200"].Debits)
	require.Equal(t, "300.00", byAccount["1200"].Credits)
	require.Equal(t, "-1000.00", byAccount["4000"].Balance)
	require.Equal(t, "CREDIT", byAccount["4000"].NormalSide)

	book, err := svc.Cashbook(ctx, CashbookQuery{From: "2024-03-01", To: "2024-03-31"})
	require.NoError(t, err)
	require.Len(t, book.Movements, 1)
	require.Equal(t, "IN", book.Movements[0].Type)
	require.Equal(t, "300.00", book.Movements[0].Amount)
	require.Equal(t, "2024-03-05", book.Movements[0].Date)
	require.Equal(t, []CashTotal{{Currency: "USD", In: "300.00", Out: "0.00", Net: "300.00"}}, book.Totals)
}

func TestSummaryCombinesViews(t *testing.T) {
	svc := seed(t)

	summary, err := svc.Summary(context.Background(), "2024-03-31", "")
	require.NoError(t, err)
	require.Equal(t, "USD", summary.Currency)
	require.Equal(t, "700.00", summary.Ageing.TotalOutstanding)
	require.NotEmpty(t, summary.Balances)

	var receivable string
	for _, r := range summary.Balances {
		if r.AccountCode == "1200" {
			receivable = r.Balance
		}
	}
	require.Equal(t, summary.Ageing.TotalOutstanding, receivable)
}

func TestHandlerRoutes(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, seed(t)).MountRoutes(r)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/reports/ageing?as_of=2024-03-31")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ageingPayload AgeingPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ageingPayload))
	require.Equal(t, "700.00", ageingPayload.Totals.Bucket61To90)

	rec = get("/reports/balances?as_of=2024-03-31")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get("/reports/cashbook?from=2024-03-01&to=2024-03-31")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get("/reports/summary?as_of=2024-03-31")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get("/reports/ageing")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, http.StatusBadRequest, problem.Status)
}

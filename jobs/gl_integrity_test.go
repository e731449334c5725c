package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/agriledger/internal/jobs"
	"github.com/odyssey-erp/agriledger/internal/ledger"
	"github.com/odyssey-erp/agriledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

type recordedAlert struct {
	source string
	err    error
}

type captureAlerter struct {
	mu     sync.Mutex
	alerts []recordedAlert
}

func (c *captureAlerter) Inconsistent(_ context.Context, source string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, recordedAlert{source: source, err: err})
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func balancedSale(t *testing.T, store *ledgertest.Store) {
	t.Helper()
	ctx := context.Background()
	invoices := ledger.NewInvoiceService(store, nil, nil, nil, nil)
	inv, err := invoices.CreateInvoice(ctx, ledger.CreateInvoiceInput{
		BuyerID: uuid.New(), Currency: "USD", Amount: 10_000, PostingDate: day(1),
		ReceivableAccount: "1200", RevenueAccount: "4000",
	})
	require.NoError(t, err)
	_, err = invoices.PostInvoice(ctx, inv.ID, "tester")
	require.NoError(t, err)
}

func TestIntegrityScanCleanLedger(t *testing.T) {
	store := ledgertest.NewStore(ledgertest.DefaultAccounts()...)
	balancedSale(t, store)
	alerter := &captureAlerter{}
	job := NewGLIntegrityJob(store, alerter, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	findings, err := job.Run(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, findings)
	require.Empty(t, alerter.alerts)
}

func TestIntegrityScanAlertsPerUnbalancedSource(t *testing.T) {
	store := ledgertest.NewStore(ledgertest.DefaultAccounts()...)
	balancedSale(t, store)

	drifted := uuid.New()
	store.Inject(
		ledger.Posting{SourceType: ledger.SourceJournal, SourceID: drifted, Sequence: 1, AccountCode: "1000", Currency: "USD", Amount: 500, PostingDate: day(2)},
		ledger.Posting{SourceType: ledger.SourceJournal, SourceID: drifted, Sequence: 2, AccountCode: "4000", Currency: "USD", Amount: -400, PostingDate: day(2)},
		ledger.Posting{SourceType: ledger.SourceJournal, SourceID: drifted, Sequence: 3, AccountCode: "1000", Currency: "IDR", Amount: 7, PostingDate: day(2)},
	)

	alerter := &captureAlerter{}
	job := NewGLIntegrityJob(store, alerter, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewIntegrityTask(IntegrityPayload{RequestedBy: "ops"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, alerter.alerts, 2)
	for _, a := range alerter.alerts {
		require.Equal(t, ledger.SourceKey(ledger.SourceJournal, drifted), a.source)
		require.True(t, errors.Is(a.err, shared.ErrInconsistent))
	}

	findings, err := job.Run(context.Background(), "")
	require.NoError(t, err)
	require.ElementsMatch(t, []ledger.Imbalance{
		{SourceType: ledger.SourceJournal, SourceID: drifted, Currency: "USD", Net: 100},
		{SourceType: ledger.SourceJournal, SourceID: drifted, Currency: "IDR", Net: 7},
	}, findings)
}

func TestIntegrityHandleRejectsBadPayload(t *testing.T) {
	store := ledgertest.NewStore(ledgertest.DefaultAccounts()...)
	job := NewGLIntegrityJob(store, nil, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, nil)))
}

func TestNewTaskKnowsIntegrityOnly(t *testing.T) {
	task, err := NewTask(TaskLedgerIntegrity, "cli")
	require.NoError(t, err)
	require.Equal(t, TaskLedgerIntegrity, task.Type())
	require.JSONEq(t, `{"requested_by":"cli"}`, string(task.Payload()))

	_, err = NewTask("mail:send", "cli")
	require.Error(t, err)
}

func TestClientTriggerEnqueuesOnDefaultQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	info, err := client.Trigger(context.Background(), TaskLedgerIntegrity, "cli")
	require.NoError(t, err)
	require.Equal(t, QueueDefault, info.Queue)
	require.Equal(t, TaskLedgerIntegrity, info.Type)

	pending, err := mr.List("asynq:{" + QueueDefault + "}:pending")
	require.NoError(t, err)
	require.Equal(t, []string{info.ID}, pending)

	_, err = client.Trigger(context.Background(), "unknown", "cli")
	require.Error(t, err)
}

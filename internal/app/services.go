package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/agriledger/internal/ageing"
	"github.com/odyssey-erp/agriledger/internal/audit"
	"github.com/odyssey-erp/agriledger/internal/balances"
	"github.com/odyssey-erp/agriledger/internal/ledger"
	"github.com/odyssey-erp/agriledger/internal/observability"
	"github.com/odyssey-erp/agriledger/internal/reports"
	"github.com/odyssey-erp/agriledger/internal/settlement"
	"github.com/odyssey-erp/agriledger/internal/shared"
	"github.com/odyssey-erp/agriledger/jobs"
)

// Services holds the wired domain services shared by the server and worker binaries.
type Services struct {
	Invoices    *ledger.InvoiceService
	Settlements *settlement.Service
	Reports     *reports.Service
	Audit       *audit.Service
	Integrity   *jobs.GLIntegrityJob
	Alerts      *observability.Alerts
}

// Dependencies are the ports the services are assembled from.
type Dependencies struct {
	Ledger     ledger.RepositoryPort
	Settlement settlement.RepositoryPort
	Locker     shared.Locker
	Audit      ledger.AuditPort
	Timeline   audit.Repository
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// NewLocker selects the document lock implementation named by cfg.
func NewLocker(cfg *Config, client redis.UniversalClient) shared.Locker {
	if cfg.LockBackend == LockBackendLocal || client == nil {
		return shared.NewLocalLocker(cfg.SettlementLockWait)
	}
	return shared.NewRedisLocker(client, cfg.SettlementLockTTL, cfg.SettlementLockWait)
}

// BuildServices wires the Postgres-backed services.
func BuildServices(cfg *Config, pool *pgxpool.Pool, client redis.UniversalClient, metrics *observability.Metrics, logger *slog.Logger) *Services {
	return Assemble(cfg, Dependencies{
		Ledger:     ledger.NewRepository(pool),
		Settlement: settlement.NewRepository(pool, cfg.DBLockTimeout),
		Locker:     NewLocker(cfg, client),
		Audit:      shared.NewAuditLogger(pool),
		Timeline:   audit.NewRepository(pool),
		Metrics:    metrics,
		Logger:     logger,
	})
}

// Assemble builds the services from explicit ports.
func Assemble(cfg *Config, deps Dependencies) *Services {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	alerts := observability.NewAlerts(logger, deps.Metrics)
	jobMetrics := deps.Metrics.Jobs()
	return &Services{
		Invoices: ledger.NewInvoiceService(deps.Ledger, deps.Locker, deps.Audit, alerts, logger),
		Settlements: settlement.NewService(deps.Settlement, deps.Locker, deps.Audit, alerts, deps.Metrics, settlement.Config{
			ProceedsAccount: cfg.SettlementProceedsAccount,
			BaseCurrency:    cfg.BaseCurrency,
		}, logger),
		Reports: reports.NewService(
			ageing.NewService(deps.Ledger, cfg.BaseCurrency),
			balances.NewService(deps.Ledger),
		),
		Audit:     audit.NewService(deps.Timeline),
		Integrity: jobs.NewGLIntegrityJob(deps.Ledger, alerts, logger, jobMetrics),
		Alerts:    alerts,
	}
}

// Handlers fills the API handlers of params from s.
func (s *Services) Handlers(cfg *Config, logger *slog.Logger, params *RouterParams) {
	params.LedgerHandler = ledger.NewHandler(logger, s.Invoices, cfg.BaseCurrency)
	params.SettlementHandler = settlement.NewHandler(logger, s.Settlements)
	params.ReportsHandler = reports.NewHandler(logger, s.Reports)
	params.AuditHandler = audit.NewHandler(logger, s.Audit)
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/agriledger/internal/jobs"
	"github.com/odyssey-erp/agriledger/internal/ledger"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

// GLIntegrityJob verifies that every posting source nets to zero per currency.
type GLIntegrityJob struct {
	Repo    ledger.RepositoryPort
	Alerter ledger.Alerter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob initialises the integrity scan handler.
func NewGLIntegrityJob(repo ledger.RepositoryPort, alerter ledger.Alerter, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Repo: repo, Alerter: alerter, Logger: logger, Metrics: metrics}
}

// Handle executes the scan for an asynq task.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload IntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("gl integrity: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	_, err := j.Run(ctx, payload.RequestedBy)
	return err
}

// Run scans the ledger and raises one alert per unbalanced (source, currency). Findings are
// not a job failure; only read errors are.
func (j *GLIntegrityJob) Run(ctx context.Context, requestedBy string) (findings []ledger.Imbalance, err error) {
	if j.Repo == nil {
		return nil, errors.New("gl integrity: repository not configured")
	}
	start := time.Now()
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.String("job", TaskLedgerIntegrity))
	if requestedBy != "" {
		logger = logger.With(slog.String("requested_by", requestedBy))
	}
	logger.Info("starting ledger integrity scan")

	err = j.Repo.WithSnapshot(ctx, func(ctx context.Context, r ledger.Reader) error {
		var err error
		findings, err = r.FindImbalances(ctx)
		return err
	})
	if err != nil {
		logger.Error("integrity scan failed", slog.Any("error", err))
		return nil, err
	}

	for _, f := range findings {
		source := ledger.SourceKey(f.SourceType, f.SourceID)
		if j.Alerter != nil {
			j.Alerter.Inconsistent(ctx, source, fmt.Errorf("%w: %s nets %s %d", shared.ErrInconsistent, source, f.Currency, f.Net))
		}
	}
	j.Metrics.AddFindings(TaskLedgerIntegrity, len(findings))

	logger.Info("completed ledger integrity scan",
		slog.Int("findings", len(findings)),
		slog.Duration("duration", time.Since(start)),
	)
	return findings, nil
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

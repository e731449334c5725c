package observability

import (
	"context"
	"log/slog"
	"strings"
)

// Alerts raises the operator alert for ledger inconsistencies. Each call logs at error level
// and bumps agriledger_ledger_inconsistencies_total, which the Prometheus rule pages on.
type Alerts struct {
	logger  *slog.Logger
	metrics *Metrics
}

// NewAlerts builds the alert sink. metrics may be nil.
func NewAlerts(logger *slog.Logger, metrics *Metrics) *Alerts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerts{logger: logger, metrics: metrics}
}

// Inconsistent reports that source failed a ledger integrity check.
func (a *Alerts) Inconsistent(ctx context.Context, source string, err error) {
	if a == nil {
		return
	}
	a.logger.ErrorContext(ctx, "ledger inconsistency", slog.String("source", source), slog.Any("error", err))
	a.metrics.Inconsistency(originOf(source))
}

// originOf reduces a "TYPE/uuid" source key to its type so the label stays low-cardinality.
func originOf(source string) string {
	origin, _, _ := strings.Cut(source, "/")
	if origin == "" {
		return "unknown"
	}
	return origin
}

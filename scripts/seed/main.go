// Command seed loads a small demo dataset: one share rule, a posted sale with a part payment,
// and a posted settlement of the received cash.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/agriledger/internal/app"
	"github.com/odyssey-erp/agriledger/internal/ledger"
	"github.com/odyssey-erp/agriledger/internal/money"
	"github.com/odyssey-erp/agriledger/internal/observability"
	"github.com/odyssey-erp/agriledger/internal/platform/db"
	"github.com/odyssey-erp/agriledger/internal/settlement"
	"github.com/odyssey-erp/agriledger/migrations"
)

const actor = "seed"

var (
	grower    = uuid.MustParse("6f1c0a7e-0000-4000-8000-000000000001")
	landowner = uuid.MustParse("6f1c0a7e-0000-4000-8000-000000000002")
	buyer     = uuid.MustParse("6f1c0a7e-0000-4000-8000-000000000003")
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg.LockBackend = app.LockBackendLocal
	logger := app.NewLogger(cfg)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("seed failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("seed complete")
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if err := db.Migrate(cfg.PGDSN, migrations.FS, logger); err != nil {
		return err
	}
	pool, err := db.New(ctx, cfg.Postgres())
	if err != nil {
		return err
	}
	defer pool.Close()

	services := app.BuildServices(cfg, pool, nil, observability.NewMetrics(), logger)

	logger.Info("seeding share rule")
	rule, err := services.Settlements.CreateShareRule(ctx, settlement.CreateShareRuleInput{
		Name:           "Grower 70 / Landowner 30",
		PrimaryPartyID: grower,
		Shares: []settlement.Share{
			{PartyID: grower, AccountCode: "5000", Proportion: 7000},
			{PartyID: landowner, AccountCode: "5010", Proportion: 3000},
		},
		Actor: actor,
	})
	if err != nil {
		return fmt.Errorf("share rule: %w", err)
	}

	sale, err := money.Parse("5000000", cfg.BaseCurrency)
	if err != nil {
		return err
	}
	received, err := money.Parse("2000000", cfg.BaseCurrency)
	if err != nil {
		return err
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)

	logger.Info("seeding invoice")
	inv, err := services.Invoices.CreateInvoice(ctx, ledger.CreateInvoiceInput{
		BuyerID:           buyer,
		Currency:          cfg.BaseCurrency,
		Amount:            sale,
		PostingDate:       today.AddDate(0, 0, -45),
		ReceivableAccount: "1200",
		RevenueAccount:    "4000",
		Memo:              "Harvest lot A",
		Actor:             actor,
	})
	if err != nil {
		return fmt.Errorf("invoice: %w", err)
	}
	if _, err := services.Invoices.PostInvoice(ctx, inv.ID, actor); err != nil {
		return fmt.Errorf("post invoice: %w", err)
	}
	if _, err := services.Invoices.RecordPayment(ctx, ledger.RecordPaymentInput{
		InvoiceID:   inv.ID,
		Amount:      received,
		PaidAt:      today.AddDate(0, 0, -10),
		CashAccount: "1010",
		Actor:       actor,
	}); err != nil {
		return fmt.Errorf("payment: %w", err)
	}

	logger.Info("seeding settlement")
	stl, err := services.Settlements.Create(ctx, settlement.CreateInput{
		Basis:       received,
		Currency:    cfg.BaseCurrency,
		ShareRuleID: rule.ID,
		Memo:        "Harvest lot A proceeds",
		Actor:       actor,
	})
	if err != nil {
		return fmt.Errorf("settlement: %w", err)
	}
	if _, err := services.Settlements.Post(ctx, stl.ID, actor); err != nil {
		return fmt.Errorf("post settlement: %w", err)
	}
	logger.Info("seeded", slog.String("invoice", inv.Number), slog.String("settlement", stl.Number))
	return nil
}

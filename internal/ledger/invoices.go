package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/agriledger/internal/money"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

// CreateInvoiceInput describes a new receivable.
type CreateInvoiceInput struct {
	BuyerID           uuid.UUID
	ProjectID         *uuid.UUID
	Currency          string
	Amount            money.Minor
	PostingDate       time.Time
	ReceivableAccount string
	RevenueAccount    string
	Memo              string
	Actor             string
}

// RecordPaymentInput describes cash applied to a posted invoice.
type RecordPaymentInput struct {
	InvoiceID   uuid.UUID
	Amount      money.Minor
	PaidAt      time.Time
	CashAccount string
	Memo        string
	Actor       string
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// InvoiceService runs the receivable lifecycle against the ledger store.
type InvoiceService struct {
	repo    RepositoryPort
	locker  shared.Locker
	audit   AuditPort
	alerter Alerter
	logger  *slog.Logger
	now     func() time.Time
}

// NewInvoiceService constructs the receivable service.
func NewInvoiceService(repo RepositoryPort, locker shared.Locker, audit AuditPort, alerter Alerter, logger *slog.Logger) *InvoiceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceService{repo: repo, locker: locker, audit: audit, alerter: alerter, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *InvoiceService) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateInvoice stores a DRAFT invoice. It has no ledger effect.
func (s *InvoiceService) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (Invoice, error) {
	currency, err := money.NormalizeCurrency(in.Currency)
	if err != nil {
		return Invoice{}, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	switch {
	case in.BuyerID == uuid.Nil:
		return Invoice{}, fmt.Errorf("%w: buyer required", shared.ErrInvalidArgument)
	case in.Amount <= 0:
		return Invoice{}, fmt.Errorf("%w: amount must be positive", shared.ErrInvalidArgument)
	case in.PostingDate.IsZero():
		return Invoice{}, fmt.Errorf("%w: posting date required", shared.ErrInvalidArgument)
	case in.ReceivableAccount == "" || in.RevenueAccount == "":
		return Invoice{}, fmt.Errorf("%w: receivable and revenue accounts required", shared.ErrInvalidArgument)
	}
	var created Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertInvoice(ctx, Invoice{
			ID:                uuid.New(),
			BuyerID:           in.BuyerID,
			ProjectID:         in.ProjectID,
			Currency:          currency,
			Amount:            in.Amount,
			PostingDate:       shared.DateOf(in.PostingDate),
			ReceivableAccount: in.ReceivableAccount,
			RevenueAccount:    in.RevenueAccount,
			Memo:              in.Memo,
		})
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, in.Actor, "invoice.create", "invoice", created.ID, map[string]any{"number": created.Number})
	return created, nil
}

// GetInvoice loads an invoice.
func (s *InvoiceService) GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error) {
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoice(ctx, id)
		return err
	})
	return inv, err
}

// PostInvoice moves a DRAFT invoice to POSTED: Dr receivable, Cr revenue.
func (s *InvoiceService) PostInvoice(ctx context.Context, id uuid.UUID, actor string) (Invoice, error) {
	return s.transition(ctx, id, actor, InvoicePosted, func(ctx context.Context, tx TxRepository, inv Invoice) error {
		postings := []Posting{
			s.invoiceLine(inv, 1, inv.ReceivableAccount, inv.Amount),
			s.invoiceLine(inv, 2, inv.RevenueAccount, -inv.Amount),
		}
		return s.append(ctx, tx, postings)
	})
}

// ReverseInvoice moves a POSTED invoice to REVERSED by appending the negated posting set.
// Invoices with applied payments cannot be reversed.
func (s *InvoiceService) ReverseInvoice(ctx context.Context, id uuid.UUID, actor string) (Invoice, error) {
	return s.transition(ctx, id, actor, InvoiceReversed, func(ctx context.Context, tx TxRepository, inv Invoice) error {
		applied, err := tx.AppliedAmount(ctx, inv.ID)
		if err != nil {
			return err
		}
		if applied > 0 {
			return fmt.Errorf("%w: invoice %s has applied payments", shared.ErrInvalidArgument, inv.Number)
		}
		original, err := tx.ListPostingsBySource(ctx, SourceSale, inv.ID)
		if err != nil {
			return err
		}
		return s.append(ctx, tx, Negate(original))
	})
}

// RecordPayment applies cash to a POSTED invoice: Dr cash, Cr receivable.
func (s *InvoiceService) RecordPayment(ctx context.Context, in RecordPaymentInput) (Payment, error) {
	switch {
	case in.InvoiceID == uuid.Nil:
		return Payment{}, fmt.Errorf("%w: invoice required", shared.ErrInvalidArgument)
	case in.Amount <= 0:
		return Payment{}, fmt.Errorf("%w: amount must be positive", shared.ErrInvalidArgument)
	case in.PaidAt.IsZero():
		return Payment{}, fmt.Errorf("%w: payment date required", shared.ErrInvalidArgument)
	case in.CashAccount == "":
		return Payment{}, fmt.Errorf("%w: cash account required", shared.ErrInvalidArgument)
	}
	release, err := s.acquire(ctx, in.InvoiceID)
	if err != nil {
		return Payment{}, err
	}
	defer release(ctx)

	var payment Payment
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status != InvoicePosted {
			return fmt.Errorf("%w: invoice %s is %s", shared.ErrNotPosted, inv.Number, inv.Status)
		}
		applied, err := tx.AppliedAmount(ctx, inv.ID)
		if err != nil {
			return err
		}
		if in.Amount > inv.Amount-applied {
			return fmt.Errorf("%w: payment %s exceeds open balance %s", shared.ErrInvalidArgument, in.Amount.Format(inv.Currency), (inv.Amount - applied).Format(inv.Currency))
		}
		payment, err = tx.InsertPayment(ctx, Payment{
			ID:          uuid.New(),
			InvoiceID:   inv.ID,
			Currency:    inv.Currency,
			Amount:      in.Amount,
			PaidAt:      shared.DateOf(in.PaidAt),
			CashAccount: in.CashAccount,
			Memo:        in.Memo,
		})
		if err != nil {
			return err
		}
		buyer := inv.BuyerID
		line := func(seq int, account string, amount money.Minor) Posting {
			return Posting{
				SourceType:  SourcePayment,
				SourceID:    payment.ID,
				Sequence:    seq,
				AccountCode: account,
				Currency:    inv.Currency,
				Amount:      amount,
				PostingDate: payment.PaidAt,
				ProjectID:   inv.ProjectID,
				PartyID:     &buyer,
				Memo:        "Payment for " + inv.Number,
			}
		}
		return s.append(ctx, tx, []Posting{
			line(1, in.CashAccount, in.Amount),
			line(2, inv.ReceivableAccount, -in.Amount),
		})
	})
	if err != nil {
		return Payment{}, err
	}
	s.record(ctx, in.Actor, "payment.record", "payment", payment.ID, map[string]any{"invoice_id": payment.InvoiceID.String()})
	return payment, nil
}

func (s *InvoiceService) transition(ctx context.Context, id uuid.UUID, actor string, target InvoiceStatus, write func(context.Context, TxRepository, Invoice) error) (Invoice, error) {
	release, err := s.acquire(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	defer release(ctx)

	var updated Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := shared.ValidateDocumentTransition(string(inv.Status), string(target)); err != nil {
			return fmt.Errorf("invoice %s: %w", inv.Number, err)
		}
		if err := write(ctx, tx, inv); err != nil {
			return err
		}
		at := s.now()
		if err := tx.UpdateInvoiceStatus(ctx, inv.ID, inv.Status, target, at); err != nil {
			return err
		}
		inv.Status = target
		if target == InvoicePosted {
			inv.PostedAt = &at
		} else {
			inv.ReversedAt = &at
		}
		updated = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, actor, "invoice."+strings.ToLower(string(target)), "invoice", updated.ID, map[string]any{"number": updated.Number})
	return updated, nil
}

func (s *InvoiceService) invoiceLine(inv Invoice, seq int, account string, amount money.Minor) Posting {
	buyer := inv.BuyerID
	return Posting{
		SourceType:  SourceSale,
		SourceID:    inv.ID,
		Sequence:    seq,
		AccountCode: account,
		Currency:    inv.Currency,
		Amount:      amount,
		PostingDate: inv.PostingDate,
		ProjectID:   inv.ProjectID,
		PartyID:     &buyer,
		Memo:        "Invoice " + inv.Number,
	}
}

func (s *InvoiceService) append(ctx context.Context, tx TxRepository, postings []Posting) error {
	if err := CheckBalanced(postings); err != nil {
		s.alert(ctx, postings, err)
		return err
	}
	if err := tx.AppendPostings(ctx, postings); err != nil {
		if errors.Is(err, shared.ErrInconsistent) {
			s.alert(ctx, postings, err)
		}
		return err
	}
	return nil
}

func (s *InvoiceService) alert(ctx context.Context, postings []Posting, err error) {
	if s.alerter == nil || len(postings) == 0 {
		return
	}
	s.alerter.Inconsistent(ctx, SourceKey(postings[0].SourceType, postings[0].SourceID), err)
}

func (s *InvoiceService) acquire(ctx context.Context, id uuid.UUID) (func(context.Context), error) {
	if s.locker == nil {
		return func(context.Context) {}, nil
	}
	return s.locker.Acquire(ctx, shared.InvoiceLockKey(id))
}

func (s *InvoiceService) record(ctx context.Context, actor, action, entity string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

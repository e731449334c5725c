package ledger

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/agriledger/internal/money"
	"github.com/odyssey-erp/agriledger/internal/platform/httpx"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

// Handler exposes receivable endpoints.
type Handler struct {
	logger       *slog.Logger
	service      *InvoiceService
	validator    *validator.Validate
	baseCurrency string
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *InvoiceService, baseCurrency string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New(), baseCurrency: baseCurrency}
}

// MountRoutes registers invoice and payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices", h.createInvoice)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Post("/invoices/{id}/post", h.postInvoice)
	r.Post("/invoices/{id}/reverse", h.reverseInvoice)
	r.Post("/payments", h.recordPayment)
}

type invoiceRequest struct {
	BuyerID           string `json:"buyer_id" validate:"required,uuid"`
	ProjectID         string `json:"project_id" validate:"omitempty,uuid"`
	Currency          string `json:"currency" validate:"omitempty,len=3,alpha"`
	Amount            string `json:"amount" validate:"required,numeric"`
	PostingDate       string `json:"posting_date" validate:"required,datetime=2006-01-02"`
	ReceivableAccount string `json:"receivable_account" validate:"required,max=32"`
	RevenueAccount    string `json:"revenue_account" validate:"required,max=32"`
	Memo              string `json:"memo" validate:"max=500"`
}

type paymentRequest struct {
	InvoiceID   string `json:"invoice_id" validate:"required,uuid"`
	Amount      string `json:"amount" validate:"required,numeric"`
	PaidAt      string `json:"paid_at" validate:"required,datetime=2006-01-02"`
	CashAccount string `json:"cash_account" validate:"required,max=32"`
	Memo        string `json:"memo" validate:"max=500"`
}

type invoiceResponse struct {
	ID          uuid.UUID     `json:"id"`
	Number      string        `json:"number"`
	BuyerID     uuid.UUID     `json:"buyer_id"`
	ProjectID   *uuid.UUID    `json:"project_id,omitempty"`
	Currency    string        `json:"currency"`
	Amount      string        `json:"amount"`
	PostingDate string        `json:"posting_date"`
	Status      InvoiceStatus `json:"status"`
	PostedAt    *time.Time    `json:"posted_at,omitempty"`
	ReversedAt  *time.Time    `json:"reversed_at,omitempty"`
}

func toInvoiceResponse(inv Invoice) invoiceResponse {
	return invoiceResponse{
		ID:          inv.ID,
		Number:      inv.Number,
		BuyerID:     inv.BuyerID,
		ProjectID:   inv.ProjectID,
		Currency:    inv.Currency,
		Amount:      inv.Amount.Format(inv.Currency),
		PostingDate: inv.PostingDate.Format(shared.DateLayout),
		Status:      inv.Status,
		PostedAt:    inv.PostedAt,
		ReversedAt:  inv.ReversedAt,
	}
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = h.baseCurrency
	}
	amount, err := money.Parse(req.Amount, currency)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err))
		return
	}
	postingDate, err := shared.ParseDate(req.PostingDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	projectID, err := httpx.OptionalUUID(req.ProjectID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.CreateInvoice(r.Context(), CreateInvoiceInput{
		BuyerID:           uuid.MustParse(req.BuyerID),
		ProjectID:         projectID,
		Currency:          currency,
		Amount:            amount,
		PostingDate:       postingDate,
		ReceivableAccount: req.ReceivableAccount,
		RevenueAccount:    req.RevenueAccount,
		Memo:              req.Memo,
		Actor:             httpx.Actor(r),
	})
	if err != nil {
		h.fail(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toInvoiceResponse(inv))
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(inv))
}

func (h *Handler) postInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.PostInvoice(r.Context(), id, httpx.Actor(r))
	if err != nil {
		h.fail(w, "post invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(inv))
}

func (h *Handler) reverseInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.ReverseInvoice(r.Context(), id, httpx.Actor(r))
	if err != nil {
		h.fail(w, "reverse invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(inv))
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	paidAt, err := shared.ParseDate(req.PaidAt)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), uuid.MustParse(req.InvoiceID))
	if err != nil {
		h.fail(w, "record payment", err)
		return
	}
	amount, err := money.Parse(req.Amount, inv.Currency)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err))
		return
	}
	payment, err := h.service.RecordPayment(r.Context(), RecordPaymentInput{
		InvoiceID:   inv.ID,
		Amount:      amount,
		PaidAt:      paidAt,
		CashAccount: req.CashAccount,
		Memo:        req.Memo,
		Actor:       httpx.Actor(r),
	})
	if err != nil {
		h.fail(w, "record payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":           payment.ID,
		"invoice_id":   payment.InvoiceID,
		"currency":     payment.Currency,
		"amount":       payment.Amount.Format(payment.Currency),
		"paid_at":      payment.PaidAt.Format(shared.DateLayout),
		"cash_account": payment.CashAccount,
	})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

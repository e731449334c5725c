package settlement

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/agriledger/internal/money"
	"github.com/odyssey-erp/agriledger/internal/platform/httpx"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

// IdempotencyHeader lets callers retry settlement creation safely.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes settlement and share rule endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers settlement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/share-rules", func(r chi.Router) {
		r.Post("/", h.createShareRule)
		r.Get("/{id}", h.getShareRule)
		r.Post("/{id}/revisions", h.reviseShareRule)
	})
	r.Route("/settlements", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Post("/{id}/post", h.post)
		r.Post("/{id}/reverse", h.reverse)
	})
}

type shareRequest struct {
	PartyID      string `json:"party_id" validate:"required,uuid"`
	AccountCode  string `json:"account_code" validate:"required,max=32"`
	ProportionBP int64  `json:"proportion_bp" validate:"required,gt=0,lte=10000"`
}

type shareRuleRequest struct {
	Name           string         `json:"name" validate:"omitempty,max=120"`
	PrimaryPartyID string         `json:"primary_party_id" validate:"required,uuid"`
	Shares         []shareRequest `json:"shares" validate:"required,min=1,dive"`
}

func (req shareRuleRequest) input(actor string) CreateShareRuleInput {
	in := CreateShareRuleInput{
		Name:           req.Name,
		PrimaryPartyID: uuid.MustParse(req.PrimaryPartyID),
		Actor:          actor,
	}
	for _, s := range req.Shares {
		in.Shares = append(in.Shares, Share{
			PartyID:     uuid.MustParse(s.PartyID),
			AccountCode: s.AccountCode,
			Proportion:  s.ProportionBP,
		})
	}
	return in
}

type createRequest struct {
	Basis            string `json:"basis_amount" validate:"required,numeric"`
	Currency         string `json:"currency" validate:"omitempty,len=3,alpha"`
	ShareRuleID      string `json:"share_rule_id" validate:"required,uuid"`
	ShareRuleVersion int    `json:"share_rule_version" validate:"gte=0"`
	ProjectID        string `json:"project_id" validate:"omitempty,uuid"`
	PostingDate      string `json:"posting_date" validate:"omitempty,datetime=2006-01-02"`
	Memo             string `json:"memo" validate:"max=500"`
}

type allocationResponse struct {
	PartyID      uuid.UUID `json:"party_id"`
	AccountCode  string    `json:"account_code"`
	ProportionBP int64     `json:"proportion_bp"`
	Amount       string    `json:"amount"`
}

type settlementResponse struct {
	ID               uuid.UUID            `json:"id"`
	Number           string               `json:"number"`
	Status           Status               `json:"status"`
	Currency         string               `json:"currency"`
	Basis            string               `json:"basis_amount"`
	ShareRuleID      uuid.UUID            `json:"share_rule_id"`
	ShareRuleVersion int                  `json:"share_rule_version"`
	ProjectID        *uuid.UUID           `json:"project_id,omitempty"`
	PostingDate      string               `json:"posting_date,omitempty"`
	Memo             string               `json:"memo,omitempty"`
	RuleSnapshot     *ShareRule           `json:"rule_snapshot,omitempty"`
	Allocations      []allocationResponse `json:"allocations,omitempty"`
	Version          int                  `json:"version"`
	CreatedAt        time.Time            `json:"created_at"`
	PostedAt         *time.Time           `json:"posted_at,omitempty"`
	ReversedAt       *time.Time           `json:"reversed_at,omitempty"`
}

func toResponse(s Settlement) settlementResponse {
	resp := settlementResponse{
		ID:               s.ID,
		Number:           s.Number,
		Status:           s.Status,
		Currency:         s.Currency,
		Basis:            s.Basis.Format(s.Currency),
		ShareRuleID:      s.ShareRuleID,
		ShareRuleVersion: s.ShareRuleVersion,
		ProjectID:        s.ProjectID,
		Memo:             s.Memo,
		RuleSnapshot:     s.RuleSnapshot,
		Version:          s.Version,
		CreatedAt:        s.CreatedAt,
		PostedAt:         s.PostedAt,
		ReversedAt:       s.ReversedAt,
	}
	if s.PostingDate != nil {
		resp.PostingDate = s.PostingDate.Format(shared.DateLayout)
	}
	for _, a := range s.Allocations {
		resp.Allocations = append(resp.Allocations, allocationResponse{
			PartyID:      a.PartyID,
			AccountCode:  a.AccountCode,
			ProportionBP: a.Proportion,
			Amount:       a.Amount.Format(s.Currency),
		})
	}
	return resp
}

func (h *Handler) createShareRule(w http.ResponseWriter, r *http.Request) {
	var req shareRuleRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rule, err := h.service.CreateShareRule(r.Context(), req.input(httpx.Actor(r)))
	if err != nil {
		h.fail(w, "create share rule", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rule)
}

func (h *Handler) reviseShareRule(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req shareRuleRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rule, err := h.service.ReviseShareRule(r.Context(), id, req.input(httpx.Actor(r)))
	if err != nil {
		h.fail(w, "revise share rule", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rule)
}

func (h *Handler) getShareRule(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	version := 0
	if raw := r.URL.Query().Get("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			httpx.RespondError(w, fmt.Errorf("%w: version %q", httpx.ErrValidation, raw))
			return
		}
		version = v
	}
	rule, err := h.service.GetShareRule(r.Context(), id, version)
	if err != nil {
		h.fail(w, "get share rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = h.service.cfg.BaseCurrency
	}
	basis, err := money.Parse(req.Basis, currency)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err))
		return
	}
	projectID, err := httpx.OptionalUUID(req.ProjectID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateInput{
		Basis:            basis,
		Currency:         currency,
		ShareRuleID:      uuid.MustParse(req.ShareRuleID),
		ShareRuleVersion: req.ShareRuleVersion,
		ProjectID:        projectID,
		Memo:             req.Memo,
		Actor:            httpx.Actor(r),
		IdempotencyKey:   r.Header.Get(IdempotencyHeader),
	}
	if req.PostingDate != "" {
		d, err := shared.ParseDate(req.PostingDate)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		in.PostingDate = &d
	}
	st, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create settlement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(st))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get settlement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(st))
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.Post(r.Context(), id, httpx.Actor(r))
	if err != nil {
		h.fail(w, "post settlement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(st))
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.Reverse(r.Context(), id, httpx.Actor(r))
	if err != nil {
		h.fail(w, "reverse settlement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(st))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

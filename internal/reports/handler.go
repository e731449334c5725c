package reports

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/agriledger/internal/platform/httpx"
)

// Handler exposes report endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Get("/ageing", h.ageing)
		r.Get("/balances", h.balances)
		r.Get("/cashbook", h.cashbook)
		r.Get("/summary", h.summary)
	})
}

func (h *Handler) ageing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payload, err := h.service.Ageing(r.Context(), AgeingQuery{
		AsOf:      q.Get("as_of"),
		BuyerID:   q.Get("buyer_id"),
		ProjectID: q.Get("project_id"),
		Currency:  q.Get("currency"),
	})
	if err != nil {
		h.fail(w, "ageing report", err)
		return
	}
	httpx.JSON(w, http.StatusOK, payload)
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := h.service.Balances(r.Context(), BalancesQuery{AsOf: q.Get("as_of"), ProjectID: q.Get("project_id")})
	if err != nil {
		h.fail(w, "balances report", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"as_of": q.Get("as_of"), "rows": rows})
}

func (h *Handler) cashbook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payload, err := h.service.Cashbook(r.Context(), CashbookQuery{From: q.Get("from"), To: q.Get("to")})
	if err != nil {
		h.fail(w, "cashbook report", err)
		return
	}
	httpx.JSON(w, http.StatusOK, payload)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payload, err := h.service.Summary(r.Context(), q.Get("as_of"), q.Get("currency"))
	if err != nil {
		h.fail(w, "summary report", err)
		return
	}
	httpx.JSON(w, http.StatusOK, payload)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

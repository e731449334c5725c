package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/agriledger/internal/platform/httpx"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

func newTestRouter(h *harness) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, h.svc).MountRoutes(r)
	return r
}

func do(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandlerSettlementFlow(t *testing.T) {
	h := newHarness(t)
	router := newTestRouter(h)

	rec := do(t, router, http.MethodPost, "/share-rules", `{
		"name": "harvest split",
		"primary_party_id": "`+partyA.String()+`",
		"shares": [
			{"party_id": "`+partyA.String()+`", "account_code": "2200", "proportion_bp": 6000},
			{"party_id": "`+partyB.String()+`", "account_code": "2210", "proportion_bp": 4000}
		]
	}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rule ShareRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rule))
	require.Equal(t, 1, rule.Version)

	rec = do(t, router, http.MethodPost, "/settlements", `{"basis_amount": "1000", "currency": "USD", "share_rule_id": "`+rule.ID.String()+`", "posting_date": "2024-03-31"}`,
		map[string]string{httpx.ActorHeader: "clerk", IdempotencyHeader: "k-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created settlementResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, StatusDraft, created.Status)
	require.Equal(t, "1000.00", created.Basis)
	require.Equal(t, "2024-03-31", created.PostingDate)

	rec = do(t, router, http.MethodPost, "/settlements/"+created.ID.String()+"/reverse", "", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "not_posted", problem.Type)

	rec = do(t, router, http.MethodPost, "/settlements/"+created.ID.String()+"/post", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var posted settlementResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posted))
	require.Equal(t, StatusPosted, posted.Status)
	require.Len(t, posted.Allocations, 2)
	require.Equal(t, "600.00", posted.Allocations[0].Amount)
	require.Equal(t, "400.00", posted.Allocations[1].Amount)

	rec = do(t, router, http.MethodGet, "/settlements/"+created.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/settlements/"+created.ID.String()+"/post", "", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerErrors(t *testing.T) {
	h := newHarness(t)
	router := newTestRouter(h)

	rec := do(t, router, http.MethodPost, "/settlements", `{"basis_amount": "ten"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/share-rules", `{
		"name": "bad",
		"primary_party_id": "`+partyA.String()+`",
		"shares": [
			{"party_id": "`+partyA.String()+`", "account_code": "2200", "proportion_bp": 6000},
			{"party_id": "`+partyB.String()+`", "account_code": "2210", "proportion_bp": 3900}
		]
	}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodGet, "/settlements/not-a-uuid", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/settlements/"+partyC.String(), "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerBusyAdvertisesRetry(t *testing.T) {
	h := newHarness(t)
	router := newTestRouter(h)
	st := h.draft(t, 1000, h.rule(t, sixtyForty()...))

	release, err := h.locker.Acquire(context.Background(), shared.SettlementLockKey(st.ID))
	require.NoError(t, err)
	defer release(context.Background())

	rec := do(t, router, http.MethodPost, "/settlements/"+st.ID.String()+"/post", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
}

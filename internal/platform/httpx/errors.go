// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/odyssey-erp/agriledger/internal/shared"
)

// RetryAfterSeconds is advertised on Busy responses.
const RetryAfterSeconds = 1

// ErrValidation marks malformed request payloads rejected before reaching a service.
var ErrValidation = errors.New("validation failed")

// RespondError maps ledger errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "not_found", "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidShareRule):
		Problem(w, http.StatusUnprocessableEntity, "invalid_share_rule", "Invalid Share Rule", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, shared.ErrInvalidArgument):
		Problem(w, http.StatusBadRequest, "invalid_argument", "Invalid Argument", err.Error())
	case errors.Is(err, shared.ErrAlreadyPosted):
		Problem(w, http.StatusConflict, "already_posted", "Already Posted", err.Error())
	case errors.Is(err, shared.ErrNotPosted):
		Problem(w, http.StatusConflict, "not_posted", "Not Posted", err.Error())
	case errors.Is(err, shared.ErrAlreadyReversed):
		Problem(w, http.StatusConflict, "already_reversed", "Already Reversed", err.Error())
	case errors.Is(err, shared.ErrBusy):
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		Problem(w, http.StatusServiceUnavailable, "busy", "Busy", err.Error())
	case errors.Is(err, shared.ErrInconsistent):
		Problem(w, http.StatusInternalServerError, "inconsistent", "Ledger Inconsistent", "")
	default:
		Problem(w, http.StatusInternalServerError, "internal", "Internal Error", "")
	}
}

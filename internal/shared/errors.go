package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument indicates a malformed date, filter, or payload.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidShareRule indicates share proportions do not sum to the full unit.
	ErrInvalidShareRule = errors.New("invalid share rule")
	// ErrAlreadyPosted indicates a post on a document that is no longer DRAFT.
	ErrAlreadyPosted = errors.New("document already posted")
	// ErrNotPosted indicates a reverse on a document that was never posted.
	ErrNotPosted = errors.New("document not posted")
	// ErrAlreadyReversed indicates a second reverse on the same document.
	ErrAlreadyReversed = errors.New("document already reversed")
	// ErrBusy indicates lock contention; callers may retry.
	ErrBusy = errors.New("resource busy")
	// ErrInconsistent indicates a detected ledger imbalance. Writes must halt.
	ErrInconsistent = errors.New("ledger inconsistent")
)

// IsRetryable reports whether the caller may retry the failed operation as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

package shared

// Document statuses shared by invoices and settlements.
const (
	StatusDraft    = "DRAFT"
	StatusPosted   = "POSTED"
	StatusReversed = "REVERSED"
)

// ValidateDocumentTransition checks a DRAFT -> POSTED -> REVERSED move and returns the
// taxonomy error for an illegal one.
func ValidateDocumentTransition(current, target string) error {
	switch target {
	case StatusPosted:
		if current == StatusDraft {
			return nil
		}
		return ErrAlreadyPosted
	case StatusReversed:
		switch current {
		case StatusPosted:
			return nil
		case StatusReversed:
			return ErrAlreadyReversed
		default:
			return ErrNotPosted
		}
	}
	return ErrInvalidArgument
}

package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/odyssey-erp/agriledger/internal/money"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

// Alerter raises the operator-visible alert for a detected ledger imbalance.
type Alerter interface {
	Inconsistent(ctx context.Context, source string, err error)
}

// SourceKey renders the (type, id) pair used in logs and alerts.
func SourceKey(t SourceType, id uuid.UUID) string {
	return fmt.Sprintf("%s/%s", t, id)
}

// CheckBalanced verifies a posting set describes exactly one balanced document: at least two
// non-zero lines, a single source, unique sequences, and a zero net per currency.
func CheckBalanced(postings []Posting) error {
	if len(postings) < 2 {
		return fmt.Errorf("%w: posting set needs at least two lines, got %d", shared.ErrInconsistent, len(postings))
	}
	first := postings[0]
	seen := make(map[int]struct{}, len(postings))
	net := make(map[string]money.Minor)
	for idx, p := range postings {
		if p.SourceType != first.SourceType || p.SourceID != first.SourceID {
			return fmt.Errorf("%w: line %d belongs to %s, expected %s", shared.ErrInconsistent, idx, SourceKey(p.SourceType, p.SourceID), SourceKey(first.SourceType, first.SourceID))
		}
		if p.Amount == 0 {
			return fmt.Errorf("%w: line %d has zero amount", shared.ErrInconsistent, idx)
		}
		if p.AccountCode == "" || p.Currency == "" {
			return fmt.Errorf("%w: line %d missing account or currency", shared.ErrInconsistent, idx)
		}
		if _, dup := seen[p.Sequence]; dup {
			return fmt.Errorf("%w: duplicate sequence %d", shared.ErrInconsistent, p.Sequence)
		}
		seen[p.Sequence] = struct{}{}
		net[p.Currency] += p.Amount
	}
	currencies := make([]string, 0, len(net))
	for cur := range net {
		currencies = append(currencies, cur)
	}
	sort.Strings(currencies)
	for _, cur := range currencies {
		if net[cur] != 0 {
			return fmt.Errorf("%w: %s nets %d in %s", shared.ErrInconsistent, SourceKey(first.SourceType, first.SourceID), net[cur], cur)
		}
	}
	return nil
}

// Negate builds the exact offsetting set for original: same accounts, currencies, amounts
// and posting dates with the opposite sign, tagged as a reversal of the original source.
// Sharing the dates keeps balances at every cutoff as they were before the original.
func Negate(original []Posting) []Posting {
	out := make([]Posting, 0, len(original))
	for idx, p := range original {
		sourceID := p.SourceID
		out = append(out, Posting{
			SourceType:  p.SourceType.Reversal(),
			SourceID:    p.SourceID,
			Sequence:    idx + 1,
			AccountCode: p.AccountCode,
			Currency:    p.Currency,
			Amount:      -p.Amount,
			PostingDate: p.PostingDate,
			ProjectID:   p.ProjectID,
			PartyID:     p.PartyID,
			ReversalOf:  &sourceID,
			Memo:        reversalMemo(p.Memo),
		})
	}
	return out
}

func reversalMemo(memo string) string {
	if memo == "" {
		return "Reversal"
	}
	return "Reversal: " + memo
}

package settlement

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/agriledger/internal/ledger"
	"github.com/odyssey-erp/agriledger/internal/money"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

// Validate checks the rule can allocate: recipients are distinct with positive proportions
// summing to FullUnit, and the primary party is one of them.
func (r ShareRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name required", shared.ErrInvalidShareRule)
	}
	if len(r.Shares) == 0 {
		return fmt.Errorf("%w: at least one recipient required", shared.ErrInvalidShareRule)
	}
	seen := make(map[uuid.UUID]struct{}, len(r.Shares))
	var sum int64
	primary := false
	for _, share := range r.Shares {
		if share.PartyID == uuid.Nil {
			return fmt.Errorf("%w: recipient party required", shared.ErrInvalidShareRule)
		}
		if share.AccountCode == "" {
			return fmt.Errorf("%w: recipient %s has no account", shared.ErrInvalidShareRule, share.PartyID)
		}
		if share.Proportion <= 0 {
			return fmt.Errorf("%w: recipient %s has non-positive proportion", shared.ErrInvalidShareRule, share.PartyID)
		}
		if _, dup := seen[share.PartyID]; dup {
			return fmt.Errorf("%w: recipient %s listed twice", shared.ErrInvalidShareRule, share.PartyID)
		}
		seen[share.PartyID] = struct{}{}
		sum += share.Proportion
		if share.PartyID == r.PrimaryPartyID {
			primary = true
		}
	}
	if sum != FullUnit {
		return fmt.Errorf("%w: proportions sum to %d, want %d", shared.ErrInvalidShareRule, sum, FullUnit)
	}
	if !primary {
		return fmt.Errorf("%w: primary party %s is not a recipient", shared.ErrInvalidShareRule, r.PrimaryPartyID)
	}
	return nil
}

// Allocate splits basis among the rule's recipients. Each recipient receives
// basis*proportion truncated to the minor unit; the remainder goes to the primary party so
// the allocations always sum to basis.
func Allocate(basis money.Minor, rule ShareRule) ([]Allocation, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	allocations := make([]Allocation, 0, len(rule.Shares))
	var allocated money.Minor
	primary := -1
	for idx, share := range rule.Shares {
		amount := money.Split(basis, share.Proportion, FullUnit)
		allocated += amount
		if share.PartyID == rule.PrimaryPartyID {
			primary = idx
		}
		allocations = append(allocations, Allocation{
			PartyID:     share.PartyID,
			AccountCode: share.AccountCode,
			Proportion:  share.Proportion,
			Amount:      amount,
		})
	}
	allocations[primary].Amount += basis - allocated

	var total money.Minor
	for _, a := range allocations {
		total += a.Amount
	}
	if total != basis {
		return nil, fmt.Errorf("%w: allocations sum to %d, basis %d", shared.ErrInconsistent, total, basis)
	}
	return allocations, nil
}

// buildPostings debits each recipient account with its allocation and credits the proceeds
// account for the basis. Zero allocations produce no line.
func buildPostings(s Settlement, allocations []Allocation) []ledger.Posting {
	date := shared.DateOf(*s.PostingDate)
	memo := "Settlement " + s.Number
	if s.Memo != "" {
		memo += ": " + s.Memo
	}
	postings := make([]ledger.Posting, 0, len(allocations)+1)
	seq := 0
	line := func(account string, party *uuid.UUID, amount money.Minor) {
		seq++
		postings = append(postings, ledger.Posting{
			SourceType:  ledger.SourceSettlement,
			SourceID:    s.ID,
			Sequence:    seq,
			AccountCode: account,
			Currency:    s.Currency,
			Amount:      amount,
			PostingDate: date,
			ProjectID:   s.ProjectID,
			PartyID:     party,
			Memo:        memo,
		})
	}
	for _, a := range allocations {
		if a.Amount == 0 {
			continue
		}
		party := a.PartyID
		line(a.AccountCode, &party, a.Amount)
	}
	line(s.ProceedsAccount, nil, -s.Basis)
	return postings
}

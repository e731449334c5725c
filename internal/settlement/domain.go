// Package settlement allocates sales proceeds among parties by share rule and posts the
// result to the ledger.
package settlement

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/agriledger/internal/money"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

// FullUnit is the proportion that represents 100%, in basis points.
const FullUnit int64 = 10000

// Status enumerates settlement lifecycle values.
type Status string

const (
	StatusDraft    Status = shared.StatusDraft
	StatusPosted   Status = shared.StatusPosted
	StatusReversed Status = shared.StatusReversed
)

// Share assigns a proportion of the proceeds to one party, booked against AccountCode.
type Share struct {
	PartyID     uuid.UUID `json:"party_id"`
	AccountCode string    `json:"account_code"`
	Proportion  int64     `json:"proportion_bp"`
}

// ShareRule is one immutable version of a named split. Revisions create a new version.
type ShareRule struct {
	ID             uuid.UUID `json:"id"`
	Version        int       `json:"version"`
	Name           string    `json:"name"`
	PrimaryPartyID uuid.UUID `json:"primary_party_id"`
	Shares         []Share   `json:"shares"`
	CreatedAt      time.Time `json:"created_at"`
}

// Allocation is the amount computed for one recipient at post time.
type Allocation struct {
	PartyID     uuid.UUID   `json:"party_id"`
	AccountCode string      `json:"account_code"`
	Proportion  int64       `json:"proportion_bp"`
	Amount      money.Minor `json:"amount"`
}

// Settlement distributes Basis among the recipients of a pinned share rule version.
type Settlement struct {
	ID               uuid.UUID
	Number           string
	Status           Status
	Currency         string
	Basis            money.Minor
	ShareRuleID      uuid.UUID
	ShareRuleVersion int
	ProceedsAccount  string
	ProjectID        *uuid.UUID
	PostingDate      *time.Time
	Memo             string
	RuleSnapshot     *ShareRule
	Allocations      []Allocation
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PostedAt         *time.Time
	ReversedAt       *time.Time
}

// CreateShareRuleInput describes a new share rule or a revision of one.
type CreateShareRuleInput struct {
	Name           string
	PrimaryPartyID uuid.UUID
	Shares         []Share
	Actor          string
}

// CreateInput describes a new DRAFT settlement. A zero ShareRuleVersion pins the latest.
type CreateInput struct {
	Basis            money.Minor
	Currency         string
	ShareRuleID      uuid.UUID
	ShareRuleVersion int
	ProjectID        *uuid.UUID
	PostingDate      *time.Time
	Memo             string
	Actor            string
	IdempotencyKey   string
}

package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/agriledger/internal/money"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// NormalSide is the side on which an account's balance normally sits.
type NormalSide string

const (
	NormalDebit  NormalSide = "DEBIT"
	NormalCredit NormalSide = "CREDIT"
)

// NormalSide reports the normal balance side for the account type.
func (t AccountType) NormalSide() NormalSide {
	switch t {
	case AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue:
		return NormalCredit
	default:
		return NormalDebit
	}
}

// Account models a chart of accounts node.
type Account struct {
	Code      string
	Name      string
	Type      AccountType
	IsCash    bool
	CreatedAt time.Time
}

// SourceType names the kind of document that produced a posting set.
type SourceType string

const (
	SourceSale       SourceType = "SALE"
	SourcePayment    SourceType = "PAYMENT"
	SourceSettlement SourceType = "SETTLEMENT"
	SourceJournal    SourceType = "JOURNAL"
)

const reversalSuffix = "_REVERSAL"

// Reversal returns the source type used for the offsetting set of s.
func (s SourceType) Reversal() SourceType {
	return s + reversalSuffix
}

// Posting is a single signed entry: debit positive, credit negative, in minor units.
// Postings are keyed by (SourceType, SourceID, Sequence) and never change once written.
type Posting struct {
	ID          int64
	SourceType  SourceType
	SourceID    uuid.UUID
	Sequence    int
	AccountCode string
	Currency    string
	Amount      money.Minor
	PostingDate time.Time
	ProjectID   *uuid.UUID
	PartyID     *uuid.UUID
	ReversalOf  *uuid.UUID
	Memo        string
	CreatedAt   time.Time
}

// IsDebit reports whether the posting sits on the debit side.
func (p Posting) IsDebit() bool {
	return p.Amount > 0
}

// InvoiceStatus enumerates receivable lifecycle values.
type InvoiceStatus string

const (
	InvoiceDraft    InvoiceStatus = shared.StatusDraft
	InvoicePosted   InvoiceStatus = shared.StatusPosted
	InvoiceReversed InvoiceStatus = shared.StatusReversed
)

// Invoice is a receivable raised against one buyer.
type Invoice struct {
	ID                uuid.UUID
	Number            string
	BuyerID           uuid.UUID
	ProjectID         *uuid.UUID
	Currency          string
	Amount            money.Minor
	PostingDate       time.Time
	Status            InvoiceStatus
	ReceivableAccount string
	RevenueAccount    string
	Memo              string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PostedAt          *time.Time
	ReversedAt        *time.Time
}

// Payment is cash applied against a posted invoice.
type Payment struct {
	ID          uuid.UUID
	InvoiceID   uuid.UUID
	Currency    string
	Amount      money.Minor
	PaidAt      time.Time
	CashAccount string
	Memo        string
	CreatedAt   time.Time
}

// OpenItem is an invoice with the payments applied to it as of a cutoff.
type OpenItem struct {
	InvoiceID   uuid.UUID
	Number      string
	BuyerID     uuid.UUID
	ProjectID   *uuid.UUID
	Currency    string
	Amount      money.Minor
	Applied     money.Minor
	PostingDate time.Time
	Status      InvoiceStatus
}

// Open returns the outstanding balance, floored at zero.
func (o OpenItem) Open() money.Minor {
	open := o.Amount - o.Applied
	if open < 0 {
		return 0
	}
	return open
}

// OpenItemFilter scopes open item reads.
type OpenItemFilter struct {
	AsOf      time.Time
	BuyerID   *uuid.UUID
	ProjectID *uuid.UUID
	Currency  string
}

// PostingFilter scopes posting aggregation.
type PostingFilter struct {
	AsOf      time.Time
	ProjectID *uuid.UUID
}

// PostingTotal sums one (account, currency) pair. Debit and Credit are both non-negative.
type PostingTotal struct {
	AccountCode string
	Currency    string
	Debit       money.Minor
	Credit      money.Minor
}

// CashMovement is a posting against a cash account.
type CashMovement struct {
	Date        time.Time
	SourceType  SourceType
	SourceID    uuid.UUID
	Sequence    int
	AccountCode string
	Currency    string
	Amount      money.Minor
	PartyID     *uuid.UUID
	Memo        string
}

// Imbalance is a source whose postings do not net to zero in one currency.
type Imbalance struct {
	SourceType SourceType
	SourceID   uuid.UUID
	Currency   string
	Net        money.Minor
}

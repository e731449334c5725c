package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/agriledger/internal/money"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

func pair(source uuid.UUID, debit, credit money.Minor) []Posting {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return []Posting{
		{SourceType: SourceJournal, SourceID: source, Sequence: 1, AccountCode: "1000", Currency: "IDR", Amount: debit, PostingDate: date},
		{SourceType: SourceJournal, SourceID: source, Sequence: 2, AccountCode: "4000", Currency: "IDR", Amount: -credit, PostingDate: date},
	}
}

func TestCheckBalanced(t *testing.T) {
	id := uuid.New()
	require.NoError(t, CheckBalanced(pair(id, 1500, 1500)))

	cases := map[string][]Posting{
		"unbalanced":  pair(id, 1500, 1400),
		"single line": pair(id, 1500, 1500)[:1],
		"zero line":   pair(id, 0, 0),
	}
	dup := pair(id, 10, 10)
	dup[1].Sequence = 1
	cases["duplicate sequence"] = dup
	mixed := pair(id, 10, 10)
	mixed[1].SourceID = uuid.New()
	cases["mixed sources"] = mixed
	missing := pair(id, 10, 10)
	missing[0].AccountCode = ""
	cases["missing account"] = missing

	for name, postings := range cases {
		t.Run(name, func(t *testing.T) {
			err := CheckBalanced(postings)
			require.Error(t, err)
			require.True(t, errors.Is(err, shared.ErrInconsistent))
		})
	}
}

func TestCheckBalancedPerCurrency(t *testing.T) {
	id := uuid.New()
	postings := pair(id, 100, 100)
	postings = append(postings,
		Posting{SourceType: SourceJournal, SourceID: id, Sequence: 3, AccountCode: "1000", Currency: "USD", Amount: 100},
		Posting{SourceType: SourceJournal, SourceID: id, Sequence: 4, AccountCode: "4000", Currency: "IDR", Amount: -100},
	)
	// IDR nets -100 and USD nets +100: the total is zero but each currency is not.
	require.ErrorIs(t, CheckBalanced(postings), shared.ErrInconsistent)
}

func TestNegateOffsetsExactly(t *testing.T) {
	id := uuid.New()
	project := uuid.New()
	original := pair(id, 2500, 2500)
	for i := range original {
		original[i].ProjectID = &project
		original[i].Memo = "Invoice INV-000001"
	}
	original[1].PostingDate = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	reversed := Negate(original)
	require.Len(t, reversed, len(original))
	require.NoError(t, CheckBalanced(reversed))

	for i, p := range reversed {
		require.Equal(t, SourceType("JOURNAL_REVERSAL"), p.SourceType)
		require.Equal(t, id, p.SourceID)
		require.Equal(t, i+1, p.Sequence)
		require.Equal(t, original[i].AccountCode, p.AccountCode)
		require.Equal(t, -original[i].Amount, p.Amount)
		require.Equal(t, original[i].PostingDate, p.PostingDate)
		require.NotNil(t, p.ReversalOf)
		require.Equal(t, id, *p.ReversalOf)
		require.Equal(t, &project, p.ProjectID)
		require.Equal(t, "Reversal: Invoice INV-000001", p.Memo)
		require.Equal(t, money.Minor(0), original[i].Amount+p.Amount)
	}
}

func TestNegateDefaultMemo(t *testing.T) {
	reversed := Negate(pair(uuid.New(), 10, 10))
	require.Equal(t, "Reversal", reversed[0].Memo)
}

func TestNormalSide(t *testing.T) {
	require.Equal(t, NormalDebit, AccountTypeAsset.NormalSide())
	require.Equal(t, NormalDebit, AccountTypeExpense.NormalSide())
	require.Equal(t, NormalCredit, AccountTypeLiability.NormalSide())
	require.Equal(t, NormalCredit, AccountTypeEquity.NormalSide())
	require.Equal(t, NormalCredit, AccountTypeRevenue.NormalSide())
}

package settlement

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/agriledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

type ruleKey struct {
	id      uuid.UUID
	version int
}

type idemEntry struct {
	fingerprint []byte
	ref         string
}

type memoryState struct {
	rules       map[ruleKey]ShareRule
	settlements map[uuid.UUID]Settlement
	idempotency map[string]idemEntry
	number      int
}

func (st memoryState) clone() memoryState {
	out := memoryState{
		rules:       make(map[ruleKey]ShareRule, len(st.rules)),
		settlements: make(map[uuid.UUID]Settlement, len(st.settlements)),
		idempotency: make(map[string]idemEntry, len(st.idempotency)),
		number:      st.number,
	}
	for k, v := range st.rules {
		out.rules[k] = v
	}
	for k, v := range st.settlements {
		out.settlements[k] = v
	}
	for k, v := range st.idempotency {
		out.idempotency[k] = v
	}
	return out
}

// memoryRepo composes the in-memory ledger store with settlement state so both commit or
// roll back together.
type memoryRepo struct {
	ledger *ledgertest.Store

	mu         sync.Mutex
	state      memoryState
	failUpdate error
	txDelay    time.Duration
}

func newMemoryRepo(store *ledgertest.Store) *memoryRepo {
	return &memoryRepo{
		ledger: store,
		state: memoryState{
			rules:       make(map[ruleKey]ShareRule),
			settlements: make(map[uuid.UUID]Settlement),
			idempotency: make(map[string]idemEntry),
		},
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.ledger.Atomic(func(ltx *ledgertest.Tx) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		working := r.state.clone()
		if err := fn(ctx, &memoryTx{Tx: ltx, repo: r, st: &working}); err != nil {
			return err
		}
		r.state = working
		return nil
	})
}

// tamperRule overwrites a stored rule version in place, bypassing validation.
func (r *memoryRepo) tamperRule(rule ShareRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.rules[ruleKey{rule.ID, rule.Version}] = rule
}

func (r *memoryRepo) settlement(id uuid.UUID) Settlement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.settlements[id]
}

type memoryTx struct {
	*ledgertest.Tx
	repo *memoryRepo
	st   *memoryState
}

func (tx *memoryTx) InsertShareRule(ctx context.Context, rule ShareRule) (ShareRule, error) {
	key := ruleKey{rule.ID, rule.Version}
	if _, ok := tx.st.rules[key]; ok {
		return ShareRule{}, fmt.Errorf("%w: share rule version exists", shared.ErrBusy)
	}
	rule.CreatedAt = time.Now()
	tx.st.rules[key] = rule
	return rule, nil
}

func (tx *memoryTx) GetShareRule(ctx context.Context, id uuid.UUID, version int) (ShareRule, error) {
	rule, ok := tx.st.rules[ruleKey{id, version}]
	if !ok {
		return ShareRule{}, ErrShareRuleNotFound
	}
	return rule, nil
}

func (tx *memoryTx) LatestShareRule(ctx context.Context, id uuid.UUID) (ShareRule, error) {
	var latest ShareRule
	found := false
	for k, rule := range tx.st.rules {
		if k.id == id && (!found || k.version > latest.Version) {
			latest, found = rule, true
		}
	}
	if !found {
		return ShareRule{}, ErrShareRuleNotFound
	}
	return latest, nil
}

func (tx *memoryTx) InsertSettlement(ctx context.Context, s Settlement) (Settlement, error) {
	tx.st.number++
	s.Number = fmt.Sprintf("STL-%06d", tx.st.number)
	s.Status = StatusDraft
	s.Version = 1
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	tx.st.settlements[s.ID] = s
	return s, nil
}

func (tx *memoryTx) GetSettlement(ctx context.Context, id uuid.UUID) (Settlement, error) {
	s, ok := tx.st.settlements[id]
	if !ok {
		return Settlement{}, ErrSettlementNotFound
	}
	return s, nil
}

func (tx *memoryTx) GetSettlementForUpdate(ctx context.Context, id uuid.UUID) (Settlement, error) {
	if tx.repo.txDelay > 0 {
		time.Sleep(tx.repo.txDelay)
	}
	return tx.GetSettlement(ctx, id)
}

func (tx *memoryTx) UpdateSettlement(ctx context.Context, s Settlement, expectedVersion int) error {
	if tx.repo.failUpdate != nil {
		return tx.repo.failUpdate
	}
	current, ok := tx.st.settlements[s.ID]
	if !ok {
		return ErrSettlementNotFound
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: settlement changed concurrently", shared.ErrBusy)
	}
	s.Version = expectedVersion + 1
	tx.st.settlements[s.ID] = s
	return nil
}

func (tx *memoryTx) ClaimIdempotency(ctx context.Context, key string, fingerprint []byte) (string, bool, error) {
	entry, ok := tx.st.idempotency[key]
	if !ok {
		tx.st.idempotency[key] = idemEntry{fingerprint: fingerprint}
		return "", false, nil
	}
	if !bytes.Equal(entry.fingerprint, fingerprint) {
		return "", false, shared.ErrIdempotencyConflict
	}
	return entry.ref, true, nil
}

func (tx *memoryTx) CompleteIdempotency(ctx context.Context, key, ref string) error {
	entry := tx.st.idempotency[key]
	entry.ref = ref
	tx.st.idempotency[key] = entry
	return nil
}

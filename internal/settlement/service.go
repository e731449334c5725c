package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/agriledger/internal/ledger"
	"github.com/odyssey-erp/agriledger/internal/money"
	"github.com/odyssey-erp/agriledger/internal/shared"
)

// Metrics records settlement outcomes.
type Metrics interface {
	SettlementTransition(action, outcome string)
	LockBusy(resource string)
}

// Config carries settlement defaults.
type Config struct {
	ProceedsAccount string
	BaseCurrency    string
}

// Service runs the settlement lifecycle. Post and Reverse hold the per-settlement lock for
// the whole validate, allocate, write and flip sequence.
type Service struct {
	repo    RepositoryPort
	locker  shared.Locker
	audit   ledger.AuditPort
	alerter ledger.Alerter
	metrics Metrics
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the settlement service.
func NewService(repo RepositoryPort, locker shared.Locker, audit ledger.AuditPort, alerter ledger.Alerter, metrics Metrics, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = "IDR"
	}
	return &Service{repo: repo, locker: locker, audit: audit, alerter: alerter, metrics: metrics, cfg: cfg, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateShareRule stores version 1 of a new rule.
func (s *Service) CreateShareRule(ctx context.Context, in CreateShareRuleInput) (ShareRule, error) {
	rule := ShareRule{
		ID:             uuid.New(),
		Version:        1,
		Name:           strings.TrimSpace(in.Name),
		PrimaryPartyID: in.PrimaryPartyID,
		Shares:         in.Shares,
	}
	if err := rule.Validate(); err != nil {
		return ShareRule{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rule, err = tx.InsertShareRule(ctx, rule)
		return err
	})
	if err != nil {
		return ShareRule{}, err
	}
	s.record(ctx, in.Actor, "share_rule.create", "share_rule", rule.ID, map[string]any{"version": rule.Version})
	return rule, nil
}

// ReviseShareRule stores the next version of an existing rule. Settlements pinned to earlier
// versions are unaffected.
func (s *Service) ReviseShareRule(ctx context.Context, id uuid.UUID, in CreateShareRuleInput) (ShareRule, error) {
	var rule ShareRule
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		latest, err := tx.LatestShareRule(ctx, id)
		if err != nil {
			return err
		}
		rule = ShareRule{
			ID:             id,
			Version:        latest.Version + 1,
			Name:           strings.TrimSpace(in.Name),
			PrimaryPartyID: in.PrimaryPartyID,
			Shares:         in.Shares,
		}
		if rule.Name == "" {
			rule.Name = latest.Name
		}
		if err := rule.Validate(); err != nil {
			return err
		}
		rule, err = tx.InsertShareRule(ctx, rule)
		return err
	})
	if err != nil {
		return ShareRule{}, err
	}
	s.record(ctx, in.Actor, "share_rule.revise", "share_rule", rule.ID, map[string]any{"version": rule.Version})
	return rule, nil
}

// GetShareRule loads a rule version. A zero version returns the latest.
func (s *Service) GetShareRule(ctx context.Context, id uuid.UUID, version int) (ShareRule, error) {
	var rule ShareRule
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if version <= 0 {
			rule, err = tx.LatestShareRule(ctx, id)
		} else {
			rule, err = tx.GetShareRule(ctx, id, version)
		}
		return err
	})
	return rule, err
}

// Get loads a settlement.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Settlement, error) {
	var out Settlement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.GetSettlement(ctx, id)
		return err
	})
	return out, err
}

type createFingerprint struct {
	Basis            money.Minor `json:"basis"`
	Currency         string      `json:"currency"`
	ShareRuleID      uuid.UUID   `json:"share_rule_id"`
	ShareRuleVersion int         `json:"share_rule_version"`
	ProjectID        *uuid.UUID  `json:"project_id"`
	PostingDate      *time.Time  `json:"posting_date"`
	Memo             string      `json:"memo"`
}

// Create stores a DRAFT settlement pinned to a valid share rule version. It has no ledger
// effect. With an idempotency key a replayed request returns the settlement created first.
func (s *Service) Create(ctx context.Context, in CreateInput) (Settlement, error) {
	if in.Basis <= 0 {
		return Settlement{}, fmt.Errorf("%w: basis amount must be positive", shared.ErrInvalidArgument)
	}
	if in.ShareRuleID == uuid.Nil {
		return Settlement{}, fmt.Errorf("%w: share rule required", shared.ErrInvalidArgument)
	}
	code := in.Currency
	if code == "" {
		code = s.cfg.BaseCurrency
	}
	currency, err := money.NormalizeCurrency(code)
	if err != nil {
		return Settlement{}, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	if s.cfg.ProceedsAccount == "" {
		return Settlement{}, errors.New("settlement proceeds account not configured")
	}
	var postingDate *time.Time
	if in.PostingDate != nil {
		d := shared.DateOf(*in.PostingDate)
		postingDate = &d
	}

	var fingerprint []byte
	if in.IdempotencyKey != "" {
		fingerprint, err = shared.Fingerprint(createFingerprint{
			Basis:            in.Basis,
			Currency:         currency,
			ShareRuleID:      in.ShareRuleID,
			ShareRuleVersion: in.ShareRuleVersion,
			ProjectID:        in.ProjectID,
			PostingDate:      postingDate,
			Memo:             in.Memo,
		})
		if err != nil {
			return Settlement{}, err
		}
	}

	var (
		created  Settlement
		replayed bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.IdempotencyKey != "" {
			ref, replay, err := tx.ClaimIdempotency(ctx, in.IdempotencyKey, fingerprint)
			if err != nil {
				return err
			}
			if replay {
				id, err := uuid.Parse(ref)
				if err != nil {
					return fmt.Errorf("idempotency reference %q: %w", ref, err)
				}
				created, err = tx.GetSettlement(ctx, id)
				replayed = true
				return err
			}
		}

		var rule ShareRule
		var err error
		if in.ShareRuleVersion > 0 {
			rule, err = tx.GetShareRule(ctx, in.ShareRuleID, in.ShareRuleVersion)
		} else {
			rule, err = tx.LatestShareRule(ctx, in.ShareRuleID)
		}
		if err != nil {
			return err
		}
		if err := rule.Validate(); err != nil {
			return err
		}
		created, err = tx.InsertSettlement(ctx, Settlement{
			ID:               uuid.New(),
			Currency:         currency,
			Basis:            in.Basis,
			ShareRuleID:      rule.ID,
			ShareRuleVersion: rule.Version,
			ProceedsAccount:  s.cfg.ProceedsAccount,
			ProjectID:        in.ProjectID,
			PostingDate:      postingDate,
			Memo:             in.Memo,
		})
		if err != nil {
			return err
		}
		if in.IdempotencyKey != "" {
			return tx.CompleteIdempotency(ctx, in.IdempotencyKey, created.ID.String())
		}
		return nil
	})
	if err != nil {
		s.observe("create", err)
		return Settlement{}, err
	}
	if replayed {
		s.observe("create_replay", nil)
		return created, nil
	}
	s.observe("create", nil)
	s.record(ctx, in.Actor, "settlement.create", "settlement", created.ID, map[string]any{
		"number":             created.Number,
		"basis":              created.Basis.Format(created.Currency),
		"share_rule_id":      created.ShareRuleID.String(),
		"share_rule_version": created.ShareRuleVersion,
	})
	return created, nil
}

// Post allocates the basis, appends the balanced posting set and moves DRAFT to POSTED.
// The pinned share rule version is re-validated and stored on the settlement as its snapshot.
func (s *Service) Post(ctx context.Context, id uuid.UUID, actor string) (Settlement, error) {
	return s.transition(ctx, id, actor, StatusPosted, func(ctx context.Context, tx TxRepository, st *Settlement, at time.Time) error {
		rule, err := tx.GetShareRule(ctx, st.ShareRuleID, st.ShareRuleVersion)
		if err != nil {
			return err
		}
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("settlement %s: %w", st.Number, err)
		}
		allocations, err := Allocate(st.Basis, rule)
		if err != nil {
			return err
		}
		if st.PostingDate == nil {
			d := shared.DateOf(at)
			st.PostingDate = &d
		}
		if err := s.append(ctx, tx, buildPostings(*st, allocations)); err != nil {
			return err
		}
		st.RuleSnapshot = &rule
		st.Allocations = allocations
		st.PostedAt = &at
		return nil
	})
}

// Reverse appends the exact negation of the posted set and moves POSTED to REVERSED.
// Original postings are left untouched.
func (s *Service) Reverse(ctx context.Context, id uuid.UUID, actor string) (Settlement, error) {
	return s.transition(ctx, id, actor, StatusReversed, func(ctx context.Context, tx TxRepository, st *Settlement, at time.Time) error {
		original, err := tx.ListPostingsBySource(ctx, ledger.SourceSettlement, st.ID)
		if err != nil {
			return err
		}
		if len(original) == 0 {
			err := fmt.Errorf("%w: posted settlement %s has no postings", shared.ErrInconsistent, st.Number)
			s.alert(ctx, ledger.SourceKey(ledger.SourceSettlement, st.ID), err)
			return err
		}
		if err := s.append(ctx, tx, ledger.Negate(original)); err != nil {
			return err
		}
		st.ReversedAt = &at
		return nil
	})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, actor string, target Status, write func(context.Context, TxRepository, *Settlement, time.Time) error) (Settlement, error) {
	action := actionFor(target)
	release, err := s.acquire(ctx, id)
	if err != nil {
		s.observe(action, err)
		return Settlement{}, err
	}
	defer release(ctx)

	var updated Settlement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		st, err := tx.GetSettlementForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := shared.ValidateDocumentTransition(string(st.Status), string(target)); err != nil {
			return fmt.Errorf("settlement %s: %w", st.Number, err)
		}
		at := s.now()
		expected := st.Version
		if err := write(ctx, tx, &st, at); err != nil {
			return err
		}
		st.Status = target
		if err := tx.UpdateSettlement(ctx, st, expected); err != nil {
			return err
		}
		st.Version = expected + 1
		st.UpdatedAt = at
		updated = st
		return nil
	})
	s.observe(action, err)
	if err != nil {
		if errors.Is(err, shared.ErrBusy) {
			s.logger.Warn("settlement busy", slog.String("settlement_id", id.String()), slog.String("action", action), slog.Any("error", err))
		}
		return Settlement{}, err
	}
	s.logger.Info("settlement transition",
		slog.String("settlement_id", updated.ID.String()),
		slog.String("number", updated.Number),
		slog.String("status", string(updated.Status)),
	)
	s.record(ctx, actor, "settlement."+action, "settlement", updated.ID, map[string]any{"number": updated.Number, "version": updated.Version})
	return updated, nil
}

func actionFor(target Status) string {
	if target == StatusPosted {
		return "post"
	}
	return "reverse"
}

func (s *Service) acquire(ctx context.Context, id uuid.UUID) (func(context.Context), error) {
	if s.locker == nil {
		return func(context.Context) {}, nil
	}
	return s.locker.Acquire(ctx, shared.SettlementLockKey(id))
}

func (s *Service) append(ctx context.Context, tx TxRepository, postings []ledger.Posting) error {
	if err := ledger.CheckBalanced(postings); err != nil {
		s.alert(ctx, ledger.SourceKey(postings[0].SourceType, postings[0].SourceID), err)
		return err
	}
	if err := tx.AppendPostings(ctx, postings); err != nil {
		if errors.Is(err, shared.ErrInconsistent) {
			s.alert(ctx, ledger.SourceKey(postings[0].SourceType, postings[0].SourceID), err)
		}
		return err
	}
	return nil
}

func (s *Service) alert(ctx context.Context, source string, err error) {
	if s.alerter != nil {
		s.alerter.Inconsistent(ctx, source, err)
	}
}

func (s *Service) observe(action string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrBusy):
		outcome = "busy"
		s.metrics.LockBusy("settlement")
	case errors.Is(err, shared.ErrInconsistent):
		outcome = "inconsistent"
	default:
		outcome = "rejected"
	}
	s.metrics.SettlementTransition(action, outcome)
}

func (s *Service) record(ctx context.Context, actor, action, entity string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

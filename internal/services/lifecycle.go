package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soaringjerry/opine/internal/db"
	"github.com/soaringjerry/opine/internal/metrics"
	"github.com/soaringjerry/opine/internal/models"
)

// Outcome reports what a transition request did.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	// OutcomeGuarded: the abandoned guard blocked the change.
	OutcomeGuarded Outcome = "guarded"
	// OutcomeIllegal: the current status does not allow the transition.
	OutcomeIllegal  Outcome = "illegal"
	OutcomeNotFound Outcome = "not_found"
	// OutcomeNoop: the response is already where the transition leads.
	OutcomeNoop Outcome = "noop"
)

type TransitionResult struct {
	Outcome  Outcome          `json:"outcome"`
	From     models.Status    `json:"from"`
	To       models.Status    `json:"to"`
	Response *models.Response `json:"response,omitempty"`
}

func (r TransitionResult) Applied() bool { return r.Outcome == OutcomeApplied }

type TransitionOptions struct {
	DryRun bool
	// Annotate runs inside the write, after the status change, with the
	// freshest version of the document.
	Annotate func(*models.Response)
	Locale   string
}

type transition struct {
	name string
	to   models.Status
	// from lists the statuses the transition may start from; nil means any.
	from []models.Status
	// applies reports whether there is anything to do; nil means always.
	applies func(*models.Response) bool
	mutate  func(*models.Response)
}

func (t transition) allowedFrom(s models.Status) bool {
	if t.from == nil {
		return true
	}
	for _, f := range t.from {
		if f == s {
			return true
		}
	}
	return false
}

// Lifecycle is the only component that changes a response's status. Every
// transition passes the abandoned guard twice before the store's own hooks
// see the write.
type Lifecycle struct {
	store  ResponseStore
	claims ClaimLocker
	now    func() time.Time
	logger *slog.Logger
}

func NewLifecycle(store ResponseStore, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{store: store, now: func() time.Time { return time.Now().UTC() }, logger: logger}
}

func (l *Lifecycle) Approve(ctx context.Context, id string, opts TransitionOptions) (TransitionResult, error) {
	return l.apply(ctx, id, transition{
		name: "approve",
		to:   models.StatusApproved,
		from: []models.Status{models.StatusPending},
	}, opts)
}

func (l *Lifecycle) Reject(ctx context.Context, id, feedback string, opts TransitionOptions) (TransitionResult, error) {
	return l.apply(ctx, id, transition{
		name: "reject",
		to:   models.StatusRejected,
		from: []models.Status{models.StatusPending},
		mutate: func(r *models.Response) {
			if feedback != "" {
				r.VerificationData.Feedback = feedback
			}
			r.VerificationData.AutoRejected = false
		},
	}, opts)
}

func (l *Lifecycle) AutoReject(ctx context.Context, id string, ar AutoRejection, opts TransitionOptions) (TransitionResult, error) {
	if len(ar.Reasons) == 0 {
		return TransitionResult{}, NewInvalidError("auto-rejection needs at least one reason")
	}
	var holder string
	res, err := l.apply(ctx, id, transition{
		name: "auto_reject",
		to:   models.StatusRejected,
		from: []models.Status{models.StatusPending},
		mutate: func(r *models.Response) {
			holder = r.VerificationData.Reviewer
			closeOpenEntries(r, holder, ReplacedByAutoRejection, l.now())
			ApplyAutoRejection(r, ar, opts.Locale)
		},
	}, opts)
	if err == nil && res.Applied() && !opts.DryRun && holder != "" && l.claims != nil {
		if rerr := l.claims.Release(ctx, claimKey(id), holder); rerr != nil {
			l.logger.Warn("release claim failed", "response_id", id, "reviewer", holder, "error", rerr)
		}
	}
	return res, err
}

// MarkAbandoned records a real abandonment. Placeholder reasons are refused
// because they would not hold the response in the abandoned state.
func (l *Lifecycle) MarkAbandoned(ctx context.Context, id, reason string, opts TransitionOptions) (TransitionResult, error) {
	if !models.IsMeaningfulAbandonReason(reason) {
		return TransitionResult{}, NewInvalidError("abandon reason is required")
	}
	return l.apply(ctx, id, transition{
		name:   "mark_abandoned",
		to:     models.StatusAbandoned,
		from:   []models.Status{models.StatusPending},
		mutate: func(r *models.Response) { r.AbandonedReason = reason },
	}, opts)
}

func (l *Lifecycle) Terminate(ctx context.Context, id, reason string, opts TransitionOptions) (TransitionResult, error) {
	return l.apply(ctx, id, transition{
		name: "terminate",
		to:   models.StatusTerminated,
		from: []models.Status{models.StatusPending},
		mutate: func(r *models.Response) {
			if reason != "" {
				r.VerificationData.Feedback = reason
			}
		},
	}, opts)
}

// RepairInvariant moves a response that carries a meaningful abandon reason
// back to abandoned, whatever its current status.
func (l *Lifecycle) RepairInvariant(ctx context.Context, id string, opts TransitionOptions) (TransitionResult, error) {
	return l.apply(ctx, id, transition{
		name: "repair_invariant",
		to:   models.StatusAbandoned,
		applies: func(r *models.Response) bool {
			return models.IsMeaningfulAbandonReason(r.AbandonedReason) && r.Status != models.StatusAbandoned
		},
	}, opts)
}

func (l *Lifecycle) apply(ctx context.Context, id string, t transition, opts TransitionOptions) (TransitionResult, error) {
	res := TransitionResult{To: t.to}
	cur, err := l.store.Get(ctx, id)
	if err != nil {
		return res, fmt.Errorf("%s %s: %w", t.name, id, err)
	}
	if cur == nil {
		res.Outcome = OutcomeNotFound
		metrics.RecordTransition(t.name, string(res.Outcome))
		return res, NewNotFoundError("response not found")
	}
	res.From, res.Response = cur.Status, cur

	if outcome, ok := l.check(cur, t, metrics.GuardPreCheck); !ok {
		res.Outcome = outcome
		metrics.RecordTransition(t.name, string(outcome))
		return res, nil
	}

	if opts.DryRun {
		sim := cur.Clone()
		l.mutate(sim, t, opts)
		res.Outcome, res.Response = OutcomeApplied, sim
		return res, nil
	}

	var blocked Outcome
	updated, err := l.store.Update(ctx, id, func(doc *models.Response) error {
		if outcome, ok := l.check(doc, t, metrics.GuardPreWrite); !ok {
			blocked = outcome
			return db.ErrSkipWrite
		}
		res.From = doc.Status
		l.mutate(doc, t, opts)
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrInvalidDocument) {
			err = NewInvalidError(err.Error())
		}
		metrics.RecordTransition(t.name, "error")
		return res, fmt.Errorf("%s %s: %w", t.name, id, err)
	}
	if updated == nil {
		res.Outcome = OutcomeNotFound
		metrics.RecordTransition(t.name, string(res.Outcome))
		return res, NewNotFoundError("response not found")
	}
	res.Response = updated
	switch {
	case blocked != "":
		res.Outcome = blocked
	case updated.Status != t.to:
		// The storage hook put the document back; count it as guarded.
		res.Outcome = OutcomeGuarded
	default:
		res.Outcome = OutcomeApplied
	}
	metrics.RecordTransition(t.name, string(res.Outcome))
	if res.Outcome == OutcomeApplied && t.name == "auto_reject" {
		metrics.RecordAutoRejection(updated.VerificationData.AutoRejectionReasons...)
	}
	return res, nil
}

// check runs the abandoned guard and the transition table against doc. It
// returns false with the outcome when the transition must not proceed.
func (l *Lifecycle) check(doc *models.Response, t transition, layer string) (Outcome, bool) {
	if t.to != models.StatusAbandoned && models.AbandonGuardBlocks(doc, t.to) {
		metrics.RecordGuardCorrection(layer)
		l.logger.Warn("transition blocked by abandoned guard",
			"layer", layer,
			"transition", t.name,
			"response_id", doc.ID,
			"status", doc.Status,
			"abandoned_reason", doc.AbandonedReason)
		return OutcomeGuarded, false
	}
	if t.applies != nil {
		if !t.applies(doc) {
			return OutcomeNoop, false
		}
		return "", true
	}
	if doc.Status == t.to {
		return OutcomeNoop, false
	}
	if !t.allowedFrom(doc.Status) {
		l.logger.Warn("illegal transition ignored",
			"transition", t.name,
			"response_id", doc.ID,
			"from", doc.Status,
			"to", t.to)
		return OutcomeIllegal, false
	}
	return "", true
}

func (l *Lifecycle) mutate(doc *models.Response, t transition, opts TransitionOptions) {
	if t.mutate != nil {
		t.mutate(doc)
	}
	doc.Status = t.to
	doc.UpdatedAt = l.now()
	if opts.Annotate != nil {
		opts.Annotate(doc)
	}
}

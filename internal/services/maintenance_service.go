package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/soaringjerry/opine/internal/db"
	"github.com/soaringjerry/opine/internal/models"
	"github.com/soaringjerry/opine/internal/utils"
)

// BulkRejectItem is one row of an operator rejection list.
type BulkRejectItem struct {
	ResponseID string `json:"responseId"`
	Reason     string `json:"reason"`
}

// MaintenanceService hosts the operator jobs. Every job writes through the
// same Lifecycle as live traffic and returns a RunReport even when items fail.
type MaintenanceService struct {
	store     ResponseStore
	lifecycle *Lifecycle
	dedup     *DuplicateIndex
	evaluator *AutoRejectionEvaluator
	defaults  BatchOptions
	now       func() time.Time
	logger    *slog.Logger
}

func NewMaintenanceService(store ResponseStore, lifecycle *Lifecycle, dedup *DuplicateIndex, evaluator *AutoRejectionEvaluator, defaults BatchOptions, logger *slog.Logger) *MaintenanceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MaintenanceService{
		store:     store,
		lifecycle: lifecycle,
		dedup:     dedup,
		evaluator: evaluator,
		defaults:  defaults,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// options fills unset fields of opts from the configured defaults.
func (s *MaintenanceService) options(opts BatchOptions) BatchOptions {
	if opts.PageSize <= 0 {
		opts.PageSize = s.defaults.PageSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = s.defaults.Concurrency
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = s.defaults.RatePerSecond
	}
	return opts.withDefaults()
}

func (s *MaintenanceService) DedupSweep(ctx context.Context, opts BatchOptions) (*RunReport, error) {
	report, err := s.dedup.SweepContent(ctx, s.options(opts))
	s.logReport(report, err)
	return report, err
}

func (s *MaintenanceService) PhoneSweep(ctx context.Context, surveyID string, opts BatchOptions) (*RunReport, error) {
	report, err := s.dedup.SweepPhones(ctx, surveyID, s.options(opts))
	s.logReport(report, err)
	return report, err
}

// Reevaluate runs the auto-rejection rules over pending responses, optionally
// limited to one survey, and rejects those that now fail.
func (s *MaintenanceService) Reevaluate(ctx context.Context, surveyID string, opts BatchOptions) (*RunReport, error) {
	opts = s.options(opts)
	report := newRunReport("reevaluate", opts.DryRun, s.now())
	batcher := NewBatcher(opts)
	filter := db.ScanFilter{SurveyID: surveyID, Statuses: []models.Status{models.StatusPending}}
	err := scanAll(ctx, s.store, filter, opts.PageSize, func(page []*models.Response) error {
		report.AddScanned(len(page))
		return runEach(ctx, batcher, page, func(ctx context.Context, r *models.Response) {
			ev, err := s.evaluator.Evaluate(ctx, r)
			if err != nil {
				report.Record(r.ID, ItemFailed, err.Error())
				return
			}
			if !ev.Rejected() {
				return
			}
			res, err := s.lifecycle.AutoReject(ctx, r.ID, AutoRejection{Reasons: ev.Reasons, OriginalID: ev.DuplicatePhoneOf}, TransitionOptions{DryRun: opts.DryRun})
			report.recordTransition(r.ID, res, err)
		})
	})
	report.finish(s.now())
	s.logReport(report, err)
	return report, err
}

// RepairInvariants finds responses whose abandon reason is meaningful but
// whose status is not abandoned, and restores them.
func (s *MaintenanceService) RepairInvariants(ctx context.Context, opts BatchOptions) (*RunReport, error) {
	opts = s.options(opts)
	report := newRunReport("repair_invariants", opts.DryRun, s.now())
	batcher := NewBatcher(opts)
	filter := db.ScanFilter{AbandonedReasonSet: true, ExcludeStatus: models.StatusAbandoned}
	err := scanAll(ctx, s.store, filter, opts.PageSize, func(page []*models.Response) error {
		report.AddScanned(len(page))
		var broken []*models.Response
		for _, r := range page {
			if models.IsMeaningfulAbandonReason(r.AbandonedReason) {
				broken = append(broken, r)
			}
		}
		return runEach(ctx, batcher, broken, func(ctx context.Context, r *models.Response) {
			res, err := s.lifecycle.RepairInvariant(ctx, r.ID, TransitionOptions{DryRun: opts.DryRun})
			if err == nil && res.Applied() && !opts.DryRun {
				s.addAudit(ctx, "system", "repair_invariant", r.ID, fmt.Sprintf("%s -> %s", res.From, res.To))
			}
			report.recordTransition(r.ID, res, err)
		})
	})
	report.finish(s.now())
	s.logReport(report, err)
	return report, err
}

// BulkReject rejects an operator-supplied list of responses. Missing ids are
// skipped and recorded; an empty reason becomes "Manual Rejection".
func (s *MaintenanceService) BulkReject(ctx context.Context, items []BulkRejectItem, actor string, opts BatchOptions) (*RunReport, error) {
	opts = s.options(opts)
	report := newRunReport("bulk_reject", opts.DryRun, s.now())
	batcher := NewBatcher(opts)
	report.AddScanned(len(items))
	err := runEach(ctx, batcher, items, func(ctx context.Context, it BulkRejectItem) {
		id := strings.TrimSpace(it.ResponseID)
		if id == "" {
			report.Record(it.ResponseID, ItemSkipped, "empty_id")
			return
		}
		reason := strings.TrimSpace(it.Reason)
		if reason == "" {
			reason = utils.T("en", "feedback.manual_rejection")
		}
		res, err := s.lifecycle.Reject(ctx, id, reason, TransitionOptions{DryRun: opts.DryRun})
		if err == nil && res.Applied() && !opts.DryRun {
			s.addAudit(ctx, actor, DecisionReject, id, reason)
		}
		report.recordTransition(id, res, err)
	})
	report.finish(s.now())
	s.logReport(report, err)
	return report, err
}

func (s *MaintenanceService) addAudit(ctx context.Context, actor, action, target, note string) {
	if actor == "" {
		actor = "system"
	}
	if err := s.store.AddAudit(ctx, models.AuditEntry{Time: s.now(), Actor: actor, Action: action, Target: target, Note: note}); err != nil {
		s.logger.Error("write audit entry failed", "action", action, "target", target, "error", err)
	}
}

func (s *MaintenanceService) logReport(r *RunReport, err error) {
	if r == nil {
		return
	}
	attrs := []any{
		"job", r.Job, "dry_run", r.DryRun, "scanned", r.Scanned,
		"succeeded", r.Succeeded, "skipped", r.Skipped, "failed", r.Failed,
	}
	if err != nil {
		s.logger.Error("maintenance job aborted", append(attrs, "error", err)...)
		return
	}
	s.logger.Info("maintenance job finished", attrs...)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/soaringjerry/opine/internal/db"
	"github.com/soaringjerry/opine/internal/models"
)

// SweepPolicy decides when a duplicate group whose later members are all
// still pending is left alone. Such groups usually come from a device
// retrying an upload, and the copies are resolved by whoever reviews first.
type SweepPolicy struct {
	// ConcurrentWindow: pending members created within this span of the
	// original count as concurrent resubmissions.
	ConcurrentWindow time.Duration `yaml:"concurrent_window"`
	// ForceResolveAfter resolves a skipped group anyway once its newest
	// member is older than this. Zero disables forcing.
	ForceResolveAfter time.Duration `yaml:"force_resolve_after"`
}

func DefaultSweepPolicy() SweepPolicy {
	return SweepPolicy{ConcurrentWindow: 5 * time.Minute, ForceResolveAfter: 72 * time.Hour}
}

const skipConcurrent = "concurrent_resubmission"

// groupPlan is the sweep's verdict on one duplicate group.
type groupPlan struct {
	original *models.Response
	reject   []*models.Response
	skipped  []*models.Response
}

func (p SweepPolicy) plan(members []*models.Response, now time.Time) groupPlan {
	sort.Slice(members, func(i, j int) bool {
		if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		}
		return members[i].ID < members[j].ID
	})
	plan := groupPlan{original: members[0]}
	rest := members[1:]

	allPending, concurrent := true, true
	newest := plan.original.CreatedAt
	for _, m := range rest {
		if m.Status != models.StatusPending {
			allPending = false
		}
		if m.CreatedAt.Sub(plan.original.CreatedAt) > p.ConcurrentWindow {
			concurrent = false
		}
		if m.CreatedAt.After(newest) {
			newest = m.CreatedAt
		}
	}
	stale := p.ForceResolveAfter > 0 && now.Sub(newest) > p.ForceResolveAfter
	if allPending && concurrent && !stale {
		plan.skipped = rest
		return plan
	}
	for _, m := range rest {
		if m.Status == models.StatusPending {
			plan.reject = append(plan.reject, m)
		}
	}
	return plan
}

// DuplicateIndex keeps at most one active response per content hash and
// reconciles duplicate groups that reached storage anyway (legacy imports,
// pre-constraint data, phone-number duplicates).
type DuplicateIndex struct {
	store     ResponseStore
	lifecycle *Lifecycle
	policy    SweepPolicy
	matchers  FieldMatchers
	now       func() time.Time
	logger    *slog.Logger
}

func NewDuplicateIndex(store ResponseStore, lifecycle *Lifecycle, policy SweepPolicy, rules AutoRejectRules, logger *slog.Logger) *DuplicateIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &DuplicateIndex{
		store:     store,
		lifecycle: lifecycle,
		policy:    policy,
		matchers:  NewFieldMatchers(rules),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Lookup returns the active record holding hash, or nil.
func (d *DuplicateIndex) Lookup(ctx context.Context, hash string) (*models.Response, error) {
	return d.store.FindByDedupKey(ctx, hash)
}

type AdmitResult struct {
	Response   *models.Response
	Duplicate  bool
	OriginalID string
}

const admitAttempts = 3

// Admit inserts r under the content-key constraint. A collision is not an
// error: r is stored as an automatic duplicate rejection of the key holder.
func (d *DuplicateIndex) Admit(ctx context.Context, r *models.Response, locale string) (*AdmitResult, error) {
	res := &AdmitResult{Response: r}
	for attempt := 0; attempt < admitAttempts; attempt++ {
		err := d.store.Insert(ctx, r)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, db.ErrDuplicateContent) {
			return nil, err
		}
		holder, err := d.store.FindByDedupKey(ctx, r.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("admit %s: %w", r.ID, err)
		}
		if holder == nil {
			// The holder left the key between our insert and lookup.
			continue
		}
		d.logger.Info("duplicate submission redirected to auto-rejection",
			"response_id", r.ID, "original_id", holder.ID, "content_hash", r.ContentHash)
		ApplyAutoRejection(r, AutoRejection{
			Reasons:          []string{ReasonDuplicateContent},
			OriginalID:       holder.ID,
			ContentDuplicate: true,
		}, locale)
		res.Duplicate, res.OriginalID = true, holder.ID
	}
	return nil, NewConflictError(fmt.Sprintf("content key for %s is contended", r.ID))
}

// SweepContent rejects pending duplicates in every active content-hash group.
func (d *DuplicateIndex) SweepContent(ctx context.Context, opts BatchOptions) (*RunReport, error) {
	opts = opts.withDefaults()
	report := newRunReport("dedup_sweep", opts.DryRun, d.now())
	batcher := NewBatcher(opts)
	after := ""
	for {
		hashes, err := d.store.ListDuplicateHashes(ctx, after, opts.PageSize)
		if err != nil {
			return report.finish(d.now()), fmt.Errorf("list duplicate hashes: %w", err)
		}
		if len(hashes) == 0 {
			break
		}
		var groups [][]*models.Response
		for _, h := range hashes {
			members, err := d.store.ListByContentHash(ctx, h)
			if err != nil {
				report.Record(h, ItemFailed, err.Error())
				continue
			}
			report.AddScanned(len(members))
			if len(members) > 1 {
				groups = append(groups, members)
			}
		}
		if err := d.resolve(ctx, batcher, report, groups, ReasonDuplicateContent, opts); err != nil {
			return report.finish(d.now()), err
		}
		if len(hashes) < opts.PageSize {
			break
		}
		after = hashes[len(hashes)-1]
	}
	return report.finish(d.now()), nil
}

// SweepPhones rejects pending responses in a survey that repeat the
// respondent phone number of an earlier active response.
func (d *DuplicateIndex) SweepPhones(ctx context.Context, surveyID string, opts BatchOptions) (*RunReport, error) {
	if surveyID == "" {
		return nil, NewInvalidError("surveyId is required")
	}
	opts = opts.withDefaults()
	report := newRunReport("phone_sweep", opts.DryRun, d.now())
	byPhone := map[string][]*models.Response{}
	filter := db.ScanFilter{SurveyID: surveyID, Statuses: []models.Status{models.StatusPending, models.StatusApproved, models.StatusRejected}}
	err := scanAll(ctx, d.store, filter, opts.PageSize, func(page []*models.Response) error {
		report.AddScanned(len(page))
		for _, r := range page {
			phone := r.RespondentPhone
			if phone == "" {
				phone, _ = d.matchers.ExtractPhone(r.Answers)
			}
			if phone == "" {
				continue
			}
			// Keep only what the plan needs; a survey can be large.
			byPhone[phone] = append(byPhone[phone], &models.Response{ID: r.ID, Status: r.Status, CreatedAt: r.CreatedAt})
		}
		return nil
	})
	if err != nil {
		return report.finish(d.now()), fmt.Errorf("scan survey %s: %w", surveyID, err)
	}
	phones := make([]string, 0, len(byPhone))
	for p, members := range byPhone {
		if len(members) > 1 {
			phones = append(phones, p)
		}
	}
	sort.Strings(phones)
	groups := make([][]*models.Response, 0, len(phones))
	for _, p := range phones {
		groups = append(groups, byPhone[p])
	}
	batcher := NewBatcher(opts)
	if err := d.resolve(ctx, batcher, report, groups, ReasonDuplicatePhone, opts); err != nil {
		return report.finish(d.now()), err
	}
	return report.finish(d.now()), nil
}

func (d *DuplicateIndex) resolve(ctx context.Context, b *Batcher, report *RunReport, groups [][]*models.Response, reason string, opts BatchOptions) error {
	type job struct {
		id         string
		originalID string
	}
	var jobs []job
	now := d.now()
	for _, members := range groups {
		plan := d.policy.plan(members, now)
		for _, m := range plan.skipped {
			report.Record(m.ID, ItemSkipped, skipConcurrent)
		}
		for _, m := range plan.reject {
			jobs = append(jobs, job{id: m.ID, originalID: plan.original.ID})
		}
	}
	return runEach(ctx, b, jobs, func(ctx context.Context, j job) {
		res, err := d.lifecycle.AutoReject(ctx, j.id, AutoRejection{
			Reasons:          []string{reason},
			OriginalID:       j.originalID,
			ContentDuplicate: reason == ReasonDuplicateContent,
		}, TransitionOptions{DryRun: opts.DryRun})
		report.recordTransition(j.id, res, err)
	})
}

// HasEarlierPhone reports whether another active response in r's survey,
// created before r, carries the same respondent phone. It returns the
// earliest such response id.
func (d *DuplicateIndex) HasEarlierPhone(ctx context.Context, r *models.Response) (bool, string, error) {
	if r.RespondentPhone == "" || r.SurveyID == "" {
		return false, "", nil
	}
	others, err := d.store.ListActiveByPhone(ctx, r.SurveyID, r.RespondentPhone)
	if err != nil {
		return false, "", err
	}
	var earliest *models.Response
	for _, o := range others {
		if o.ID == r.ID || !createdBefore(o, r) {
			continue
		}
		if earliest == nil || createdBefore(o, earliest) {
			earliest = o
		}
	}
	if earliest == nil {
		return false, "", nil
	}
	return true, earliest.ID, nil
}

// createdBefore orders by creation time, then id. A record without a
// creation time has not been stored yet and comes after everything.
func createdBefore(a, b *models.Response) bool {
	if b.CreatedAt.IsZero() {
		return true
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/soaringjerry/opine/internal/db"
	"github.com/soaringjerry/opine/internal/models"
)

// ClaimLocker hands out short reviewer leases on responses so two reviewers
// never work the same item. internal/claims provides Redis and in-memory
// implementations.
type ClaimLocker interface {
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	Holder(ctx context.Context, key string) (string, error)
	Release(ctx context.Context, key, holder string) error
}

// Review decisions and history markers.
const (
	DecisionApprove    = "approve"
	DecisionReject     = "reject"
	DecisionClaimed    = "claimed"
	DecisionReassigned = "reassigned"
)

type QueueFilter struct {
	CompanyID string
	SurveyID  string
	Reviewer  string
	From      time.Time
	To        time.Time
}

func (f QueueFilter) scan() db.ScanFilter {
	return db.ScanFilter{
		SurveyID:    f.SurveyID,
		CompanyID:   f.CompanyID,
		Reviewer:    f.Reviewer,
		Statuses:    []models.Status{models.StatusPending},
		CreatedFrom: f.From,
		CreatedTo:   f.To,
	}
}

// ReviewBatch groups pending responses of one company and survey created
// within one window.
type ReviewBatch struct {
	CompanyID   string    `json:"companyId"`
	SurveyID    string    `json:"surveyId"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	Count       int       `json:"count"`
	Unassigned  int       `json:"unassigned"`
}

type DecisionRequest struct {
	ResponseID string `json:"responseId"`
	Reviewer   string `json:"reviewer"`
	Decision   string `json:"decision"`
	Feedback   string `json:"feedback"`
}

// ReviewerThroughput reconciles a reviewer's count. Total always equals
// Current plus Replaced. Released counts claims the system ended by
// auto-rejecting the response; they are in neither. Unreconciled counts
// replaced responses whose history entry for the reviewer lacks a
// replacement annotation.
type ReviewerThroughput struct {
	Reviewer     string `json:"reviewer"`
	Current      int    `json:"current"`
	Replaced     int    `json:"replaced"`
	Released     int    `json:"released"`
	Unreconciled int    `json:"unreconciled"`
	Total        int    `json:"total"`
}

type ReviewHistory struct {
	ResponseID string               `json:"responseId"`
	Status     models.Status        `json:"status"`
	Reviewer   string               `json:"reviewer,omitempty"`
	Entries    []models.ReviewEntry `json:"entries"`
	Audit      []models.AuditEntry  `json:"audit"`
}

type ReviewService struct {
	store       ResponseStore
	lifecycle   *Lifecycle
	locker      ClaimLocker
	claimTTL    time.Duration
	batchWindow time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

func NewReviewService(store ResponseStore, lifecycle *Lifecycle, locker ClaimLocker, claimTTL, batchWindow time.Duration, logger *slog.Logger) *ReviewService {
	if logger == nil {
		logger = slog.Default()
	}
	if claimTTL <= 0 {
		claimTTL = 30 * time.Minute
	}
	if batchWindow <= 0 {
		batchWindow = 24 * time.Hour
	}
	// Automatic rejections of claimed responses hand their leases back.
	if lifecycle != nil {
		lifecycle.claims = locker
	}
	return &ReviewService{
		store:       store,
		lifecycle:   lifecycle,
		locker:      locker,
		claimTTL:    claimTTL,
		batchWindow: batchWindow,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
}

func claimKey(responseID string) string { return "claim:" + responseID }

// ReplacedByAutoRejection marks history entries closed because the system
// rejected the response while a reviewer held it. Such a response was
// released, not handed to another reviewer.
const ReplacedByAutoRejection = "auto_rejection"

// closeOpenEntries annotates reviewer's un-replaced history entries.
func closeOpenEntries(r *models.Response, reviewer, by string, at time.Time) {
	if reviewer == "" {
		return
	}
	for i := range r.VerificationData.ReviewHistory {
		e := &r.VerificationData.ReviewHistory[i]
		if e.Reviewer == reviewer && e.ReplacedBy == "" {
			ts := at
			e.ReplacedAt = &ts
			e.ReplacedBy = by
		}
	}
}

// releasedBySystem reports whether every history entry of reviewer on r was
// closed by an automatic rejection rather than a reassignment.
func releasedBySystem(r *models.Response, reviewer string) bool {
	found := false
	for _, e := range r.VerificationData.ReviewHistory {
		if e.Reviewer != reviewer {
			continue
		}
		if e.ReplacedBy != ReplacedByAutoRejection {
			return false
		}
		found = true
	}
	return found
}

// ListQueue returns one page of pending responses and the cursor for the next.
func (s *ReviewService) ListQueue(ctx context.Context, f QueueFilter, cursor string, limit int) ([]*models.Response, string, error) {
	if limit <= 0 || limit > defaultPageSize {
		limit = 50
	}
	page, err := s.store.Scan(ctx, f.scan(), cursor, limit)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(page) == limit {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}

func (s *ReviewService) Batches(ctx context.Context, f QueueFilter) ([]ReviewBatch, error) {
	type key struct {
		company, survey string
		start           int64
	}
	batches := map[key]*ReviewBatch{}
	err := scanAll(ctx, s.store, f.scan(), defaultPageSize, func(page []*models.Response) error {
		for _, r := range page {
			start := r.CreatedAt.Truncate(s.batchWindow)
			k := key{r.CompanyID, r.SurveyID, start.UnixNano()}
			b, ok := batches[k]
			if !ok {
				b = &ReviewBatch{CompanyID: r.CompanyID, SurveyID: r.SurveyID, WindowStart: start, WindowEnd: start.Add(s.batchWindow)}
				batches[k] = b
			}
			b.Count++
			if r.VerificationData.Reviewer == "" {
				b.Unassigned++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]ReviewBatch, 0, len(batches))
	for _, b := range batches {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].WindowStart.Equal(out[j].WindowStart) {
			return out[i].WindowStart.Before(out[j].WindowStart)
		}
		if out[i].CompanyID != out[j].CompanyID {
			return out[i].CompanyID < out[j].CompanyID
		}
		return out[i].SurveyID < out[j].SurveyID
	})
	return out, nil
}

// Claim hands the reviewer the first pending response that is either
// unassigned or already theirs and whose lease is free. It returns nil when
// nothing is available.
func (s *ReviewService) Claim(ctx context.Context, reviewer string, f QueueFilter) (*models.Response, error) {
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, NewUnauthorizedError("reviewer identity is required")
	}
	f.Reviewer = ""
	var claimed *models.Response
	err := scanAll(ctx, s.store, f.scan(), defaultPageSize, func(page []*models.Response) error {
		for _, r := range page {
			if cur := r.VerificationData.Reviewer; cur != "" && cur != reviewer {
				continue
			}
			ok, err := s.locker.Acquire(ctx, claimKey(r.ID), reviewer, s.claimTTL)
			if err != nil {
				return fmt.Errorf("acquire claim: %w", err)
			}
			if !ok {
				continue
			}
			updated, err := s.assignClaim(ctx, r.ID, reviewer)
			if err != nil {
				_ = s.locker.Release(ctx, claimKey(r.ID), reviewer)
				return err
			}
			if updated == nil {
				_ = s.locker.Release(ctx, claimKey(r.ID), reviewer)
				continue
			}
			claimed = updated
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, err
	}
	if claimed != nil {
		s.audit(ctx, reviewer, DecisionClaimed, claimed.ID, "")
	}
	return claimed, nil
}

var errStopScan = errors.New("stop scan")

// assignClaim sets the reviewer on a still-pending, still-available
// response. It returns nil when the response moved on meanwhile.
func (s *ReviewService) assignClaim(ctx context.Context, id, reviewer string) (*models.Response, error) {
	taken := false
	updated, err := s.store.Update(ctx, id, func(r *models.Response) error {
		if r.Status != models.StatusPending {
			taken = true
			return db.ErrSkipWrite
		}
		switch r.VerificationData.Reviewer {
		case reviewer:
			return db.ErrSkipWrite
		case "":
		default:
			taken = true
			return db.ErrSkipWrite
		}
		now := s.now()
		r.VerificationData.Reviewer = reviewer
		r.VerificationData.ReviewHistory = append(r.VerificationData.ReviewHistory, models.ReviewEntry{
			Reviewer: reviewer, ReviewedAt: now, Status: r.Status, Decision: DecisionClaimed,
		})
		r.UpdatedAt = now
		return nil
	})
	if err != nil || taken {
		return nil, err
	}
	return updated, nil
}

// Decide applies a reviewer's approve or reject decision through the state
// machine. Guarded and illegal decisions come back as outcomes, not errors.
func (s *ReviewService) Decide(ctx context.Context, req DecisionRequest) (TransitionResult, error) {
	reviewer := strings.TrimSpace(req.Reviewer)
	if reviewer == "" {
		return TransitionResult{}, NewUnauthorizedError("reviewer identity is required")
	}
	if req.ResponseID == "" {
		return TransitionResult{}, NewInvalidError("responseId is required")
	}
	if req.Decision != DecisionApprove && req.Decision != DecisionReject {
		return TransitionResult{}, NewInvalidError("decision must be approve or reject")
	}
	holder, err := s.locker.Holder(ctx, claimKey(req.ResponseID))
	if err != nil {
		return TransitionResult{}, fmt.Errorf("read claim: %w", err)
	}
	if holder != "" && holder != reviewer {
		return TransitionResult{}, NewForbiddenError("response is claimed by another reviewer")
	}
	cur, err := s.store.Get(ctx, req.ResponseID)
	if err != nil {
		return TransitionResult{}, err
	}
	if cur == nil {
		return TransitionResult{Outcome: OutcomeNotFound}, NewNotFoundError("response not found")
	}
	if assigned := cur.VerificationData.Reviewer; assigned != "" && assigned != reviewer && cur.Status == models.StatusPending {
		return TransitionResult{}, NewForbiddenError("response is assigned to another reviewer")
	}

	opts := TransitionOptions{Annotate: func(r *models.Response) {
		now := s.now()
		r.VerificationData.Reviewer = reviewer
		r.VerificationData.ReviewedAt = &now
		r.VerificationData.ReviewHistory = append(r.VerificationData.ReviewHistory, models.ReviewEntry{
			Reviewer: reviewer, ReviewedAt: now, Status: r.Status, Decision: req.Decision,
		})
	}}
	var res TransitionResult
	if req.Decision == DecisionApprove {
		if req.Feedback != "" {
			annotate := opts.Annotate
			opts.Annotate = func(r *models.Response) {
				annotate(r)
				r.VerificationData.Feedback = req.Feedback
			}
		}
		res, err = s.lifecycle.Approve(ctx, req.ResponseID, opts)
	} else {
		res, err = s.lifecycle.Reject(ctx, req.ResponseID, req.Feedback, opts)
	}
	if err != nil {
		return res, err
	}
	if res.Applied() {
		if err := s.locker.Release(ctx, claimKey(req.ResponseID), reviewer); err != nil {
			s.logger.Warn("release claim failed", "response_id", req.ResponseID, "error", err)
		}
		s.audit(ctx, reviewer, req.Decision, req.ResponseID, req.Feedback)
	} else {
		s.audit(ctx, reviewer, req.Decision, req.ResponseID, "not applied: "+string(res.Outcome))
	}
	return res, nil
}

// Reassign moves a pending response to a new reviewer. The previous
// reviewer's open history entries are annotated, never removed.
func (s *ReviewService) Reassign(ctx context.Context, id, newReviewer, actor string) (*models.Response, error) {
	newReviewer = strings.TrimSpace(newReviewer)
	if newReviewer == "" {
		return nil, NewInvalidError("reviewer is required")
	}
	var previous string
	updated, err := s.store.Update(ctx, id, func(r *models.Response) error {
		if r.Status != models.StatusPending {
			return NewConflictError("only pending responses can be reassigned")
		}
		previous = r.VerificationData.Reviewer
		if previous == newReviewer {
			return db.ErrSkipWrite
		}
		now := s.now()
		closeOpenEntries(r, previous, newReviewer, now)
		r.VerificationData.Reviewer = newReviewer
		r.VerificationData.ReviewHistory = append(r.VerificationData.ReviewHistory, models.ReviewEntry{
			Reviewer: newReviewer, ReviewedAt: now, Status: r.Status, Decision: DecisionReassigned,
		})
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, NewNotFoundError("response not found")
	}
	if previous != "" && previous != newReviewer {
		if err := s.locker.Release(ctx, claimKey(id), previous); err != nil {
			s.logger.Warn("release claim failed", "response_id", id, "error", err)
		}
		s.audit(ctx, actor, DecisionReassigned, id, previous+" -> "+newReviewer)
		s.logger.Info("reviewer replaced", "response_id", id, "previous", previous, "reviewer", newReviewer, "actor", actor)
	}
	return updated, nil
}

// FindReplaced lists responses whose history names reviewer while someone
// else now holds them. Responses released by an automatic rejection are not
// replacements.
func (s *ReviewService) FindReplaced(ctx context.Context, reviewer string) ([]*models.Response, error) {
	var out []*models.Response
	err := scanAll(ctx, s.store, db.ScanFilter{HistoryReviewer: reviewer}, defaultPageSize, func(page []*models.Response) error {
		for _, r := range page {
			if r.VerificationData.Reviewer != reviewer && !releasedBySystem(r, reviewer) {
				out = append(out, r)
			}
		}
		return nil
	})
	return out, err
}

func (s *ReviewService) Throughput(ctx context.Context, reviewer string) (ReviewerThroughput, error) {
	tp := ReviewerThroughput{Reviewer: reviewer}
	err := scanAll(ctx, s.store, db.ScanFilter{HistoryReviewer: reviewer}, defaultPageSize, func(page []*models.Response) error {
		for _, r := range page {
			if r.VerificationData.Reviewer == reviewer {
				tp.Current++
				continue
			}
			if releasedBySystem(r, reviewer) {
				tp.Released++
				continue
			}
			tp.Replaced++
			for _, e := range r.VerificationData.ReviewHistory {
				if e.Reviewer == reviewer && e.ReplacedBy == "" {
					tp.Unreconciled++
					break
				}
			}
		}
		return nil
	})
	tp.Total = tp.Current + tp.Replaced
	if tp.Unreconciled > 0 {
		s.logger.Warn("reviewer history has unreconciled entries", "reviewer", reviewer, "count", tp.Unreconciled)
	}
	return tp, err
}

func (s *ReviewService) History(ctx context.Context, id string) (*ReviewHistory, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, NewNotFoundError("response not found")
	}
	audit, err := s.store.ListAudit(ctx, id)
	if err != nil {
		return nil, err
	}
	entries := r.VerificationData.ReviewHistory
	if entries == nil {
		entries = []models.ReviewEntry{}
	}
	if audit == nil {
		audit = []models.AuditEntry{}
	}
	return &ReviewHistory{ResponseID: r.ID, Status: r.Status, Reviewer: r.VerificationData.Reviewer, Entries: entries, Audit: audit}, nil
}

func (s *ReviewService) audit(ctx context.Context, actor, action, target, note string) {
	err := s.store.AddAudit(ctx, models.AuditEntry{Time: s.now(), Actor: actor, Action: action, Target: target, Note: note})
	if err != nil {
		s.logger.Error("write audit entry failed", "action", action, "target", target, "error", err)
	}
}

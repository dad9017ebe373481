package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/opine/internal/claims"
	"github.com/soaringjerry/opine/internal/db"
	"github.com/soaringjerry/opine/internal/models"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type testClock struct{ at time.Time }

func (c *testClock) now() time.Time          { return c.at }
func (c *testClock) advance(d time.Duration) { c.at = c.at.Add(d) }

type testEnv struct {
	store      *db.MemoryStore
	clock      *testClock
	lifecycle  *Lifecycle
	dedup      *DuplicateIndex
	evaluator  *AutoRejectionEvaluator
	submission *SubmissionService
	review     *ReviewService
	maint      *MaintenanceService
	locker     *claims.MemoryLocker
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, db.NewMemoryStore(discardLogger()))
}

func newTestEnvWithStore(t *testing.T, store ResponseStore) *testEnv {
	t.Helper()
	logger := discardLogger()
	clock := &testClock{at: t0}
	rules := DefaultAutoRejectRules()

	lc := NewLifecycle(store, logger)
	lc.now = clock.now
	dedup := NewDuplicateIndex(store, lc, DefaultSweepPolicy(), rules, logger)
	dedup.now = clock.now
	ev := NewAutoRejectionEvaluator(rules, dedup, logger)
	sub := NewSubmissionService(store, ev, dedup, lc, rules, logger)
	sub.now = clock.now
	var seq atomic.Int64
	sub.idGenerator = func() string { return fmt.Sprintf("resp-%03d", seq.Add(1)) }
	locker := claims.NewMemoryLocker()
	rev := NewReviewService(store, lc, locker, time.Hour, 24*time.Hour, logger)
	rev.now = clock.now
	maint := NewMaintenanceService(store, lc, dedup, ev, BatchOptions{PageSize: 2, Concurrency: 2}, logger)
	maint.now = clock.now

	env := &testEnv{clock: clock, lifecycle: lc, dedup: dedup, evaluator: ev, submission: sub, review: rev, maint: maint, locker: locker}
	if ms, ok := store.(*db.MemoryStore); ok {
		env.store = ms
	}
	return env
}

// completeAnswers resolves gender, age, AC and phone.
func completeAnswers() []models.Answer {
	return []models.Answer{
		{QuestionID: "q_gender", QuestionText: "What is your gender?", Answer: "Female_{महिला}"},
		{QuestionID: "q_age", QuestionText: "Your age in years", Answer: "34"},
		{QuestionID: "q_ac", QuestionText: "Assembly constituency", Answer: "AC-112"},
		{QuestionID: "q_vote", QuestionText: "Whom will you vote for?", Answer: "Party A"},
	}
}

func deviceRequest() SubmissionRequest {
	spent := 600
	return SubmissionRequest{
		SurveyID:       "survey-1",
		CompanyID:      "acme",
		InterviewerID:  "int-7",
		InterviewMode:  models.ModeDevice,
		Answers:        completeAnswers(),
		StartTime:      t0.Add(-10 * time.Minute),
		EndTime:        t0,
		TotalTimeSpent: &spent,
	}
}

// hashFor derives a distinct valid content hash from a label.
func hashFor(label string) string { return Fingerprint(FingerprintInput{SurveyID: label}) }

// seed stores a pending response directly, bypassing the submission path.
func seed(t *testing.T, store ResponseStore, id string, mutate func(*models.Response)) *models.Response {
	t.Helper()
	r := &models.Response{
		ID:             id,
		SurveyID:       "survey-1",
		CompanyID:      "acme",
		InterviewerID:  "int-7",
		InterviewMode:  models.ModeDevice,
		Status:         models.StatusPending,
		Answers:        completeAnswers(),
		ContentHash:    hashFor(id),
		TotalTimeSpent: 600,
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
	if mutate != nil {
		mutate(r)
	}
	require.NoError(t, store.Insert(context.Background(), r))
	return r
}

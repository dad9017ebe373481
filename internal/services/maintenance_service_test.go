package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/opine/internal/db"
	"github.com/soaringjerry/opine/internal/models"
)

func TestReevaluateRejectsFailingResponses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seed(t, env.store, "ok", nil)
	seed(t, env.store, "short", func(r *models.Response) { r.TotalTimeSpent = 45 })
	seed(t, env.store, "no-age", func(r *models.Response) { r.Answers = r.Answers[:1] })
	seed(t, env.store, "other", func(r *models.Response) { r.SurveyID = "survey-2"; r.TotalTimeSpent = 10 })

	report, err := env.maint.Reevaluate(ctx, "survey-1", BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Succeeded)
	assert.Zero(t, report.Failed)

	short, _ := env.store.Get(ctx, "short")
	assert.Equal(t, models.StatusRejected, short.Status)
	assert.Equal(t, []string{ReasonDurationTooShort}, short.VerificationData.AutoRejectionReasons)
	noAge, _ := env.store.Get(ctx, "no-age")
	assert.Contains(t, noAge.VerificationData.AutoRejectionReasons, ReasonMissingAge)
	ok, _ := env.store.Get(ctx, "ok")
	assert.Equal(t, models.StatusPending, ok.Status)
	other, _ := env.store.Get(ctx, "other")
	assert.Equal(t, models.StatusPending, other.Status)
}

func TestBulkReject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seed(t, env.store, "r1", nil)
	seed(t, env.store, "r2", nil)
	seed(t, env.store, "r3", func(r *models.Response) { r.Status = models.StatusApproved })

	report, err := env.maint.BulkReject(ctx, []BulkRejectItem{
		{ResponseID: "r1", Reason: "fabricated"},
		{ResponseID: " r2 "},
		{ResponseID: "r3"},
		{ResponseID: "ghost"},
		{ResponseID: ""},
	}, "ops", BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 3, report.Skipped)
	assert.Zero(t, report.Failed)

	reasons := map[string]string{}
	for _, it := range report.Items {
		reasons[it.ID] = it.Reason
	}
	assert.Equal(t, string(OutcomeIllegal), reasons["r3"])
	assert.Equal(t, string(OutcomeNotFound), reasons["ghost"])
	assert.Equal(t, "empty_id", reasons[""])

	r1, _ := env.store.Get(ctx, "r1")
	assert.Equal(t, models.StatusRejected, r1.Status)
	assert.Equal(t, "fabricated", r1.VerificationData.Feedback)
	assert.False(t, r1.VerificationData.AutoRejected)
	r2, _ := env.store.Get(ctx, "r2")
	assert.Equal(t, "Manual Rejection", r2.VerificationData.Feedback)

	audit, err := env.store.ListAudit(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "ops", audit[0].Actor)
}

func TestBulkRejectDryRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seed(t, env.store, "r1", nil)

	report, err := env.maint.BulkReject(ctx, []BulkRejectItem{{ResponseID: "r1"}}, "ops", BatchOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	r1, _ := env.store.Get(ctx, "r1")
	assert.Equal(t, models.StatusPending, r1.Status)
	audit, _ := env.store.ListAudit(ctx, "r1")
	assert.Empty(t, audit)
}

func TestRepairInvariants(t *testing.T) {
	conn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.RunMigrations(conn, ""))
	store, err := db.NewSQLiteStore(conn, discardLogger())
	require.NoError(t, err)
	env := newTestEnvWithStore(t, store)
	ctx := context.Background()

	seed(t, store, "broken", func(r *models.Response) { r.AbandonedReason = "Respondent refused" })
	seed(t, store, "placeholder", func(r *models.Response) { r.AbandonedReason = "N/A" })
	seed(t, store, "fine", nil)

	// Simulate a row written before the storage hook existed.
	_, err = conn.Exec(`UPDATE responses SET status = ?, doc = json_set(doc, '$.status', ?) WHERE id = ?`,
		string(models.StatusApproved), string(models.StatusApproved), "broken")
	require.NoError(t, err)
	before, err := store.Get(ctx, "broken")
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, before.Status)

	dry, err := env.maint.RepairInvariants(ctx, BatchOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, dry.Succeeded)
	still, _ := store.Get(ctx, "broken")
	assert.Equal(t, models.StatusApproved, still.Status)

	report, err := env.maint.RepairInvariants(ctx, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	fixed, err := store.Get(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAbandoned, fixed.Status)
	placeholder, _ := store.Get(ctx, "placeholder")
	assert.Equal(t, models.StatusPending, placeholder.Status)

	audit, err := store.ListAudit(ctx, "broken")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "repair_invariant", audit[0].Action)

	again, err := env.maint.RepairInvariants(ctx, BatchOptions{})
	require.NoError(t, err)
	assert.Zero(t, again.Succeeded)
}

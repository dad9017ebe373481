package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/opine/internal/db"
	"github.com/soaringjerry/opine/internal/models"
	"github.com/soaringjerry/opine/internal/services"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func legacyDoc(id string, created time.Time) *models.Response {
	return &models.Response{
		ID:             id,
		SurveyID:       "survey-1",
		InterviewerID:  "int-7",
		InterviewMode:  models.ModeDevice,
		Status:         models.StatusPending,
		Answers:        []models.Answer{{QuestionID: "q_age", QuestionText: "Age", Answer: "30"}},
		StartTime:      time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
		TotalTimeSpent: 600,
		CreatedAt:      created,
	}
}

func TestImportLegacySnapshotThenSweep(t *testing.T) {
	base := time.Date(2025, 5, 1, 10, 30, 0, 0, time.UTC)
	copyDoc := legacyDoc("b-copy", base.Add(10*time.Minute))
	orig := legacyDoc("a-orig", base)
	abandoned := legacyDoc("c-abandoned", base.Add(time.Minute))
	abandoned.AbandonedReason = "Respondent refused"
	abandoned.Answers = nil
	broken := legacyDoc("d-broken", base)
	broken.InterviewMode = "fax"

	raw, err := json.Marshal(legacySnapshot{Responses: []*models.Response{copyDoc, orig, abandoned, broken}})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	store := db.NewMemoryStore(quiet)
	ctx := context.Background()
	require.NoError(t, ImportLegacySnapshot(ctx, path, store, quiet))

	gotCopy, err := store.Get(ctx, "b-copy")
	require.NoError(t, err)
	require.NotNil(t, gotCopy)
	assert.Equal(t, "a-orig", gotCopy.DuplicateOf)
	assert.Equal(t, models.StatusPending, gotCopy.Status, "the sweep decides, not the importer")
	gotAbandoned, _ := store.Get(ctx, "c-abandoned")
	assert.Equal(t, models.StatusAbandoned, gotAbandoned.Status)
	missing, _ := store.Get(ctx, "d-broken")
	assert.Nil(t, missing)

	stats, err := importResponses(ctx, store, []*models.Response{legacyDoc("a-orig", base)}, quiet)
	require.NoError(t, err)
	assert.Equal(t, importStats{Existing: 1}, stats)

	rules := services.DefaultAutoRejectRules()
	lc := services.NewLifecycle(store, quiet)
	dedup := services.NewDuplicateIndex(store, lc, services.DefaultSweepPolicy(), rules, quiet)
	ev := services.NewAutoRejectionEvaluator(rules, dedup, quiet)
	maint := services.NewMaintenanceService(store, lc, dedup, ev, services.BatchOptions{}, quiet)
	report, err := maint.DedupSweep(ctx, services.BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	gotCopy, _ = store.Get(ctx, "b-copy")
	assert.Equal(t, models.StatusRejected, gotCopy.Status)
	assert.Contains(t, gotCopy.VerificationData.Feedback, "a-orig")
}

func TestImportLegacySnapshotMissingFile(t *testing.T) {
	store := db.NewMemoryStore(quiet)
	assert.NoError(t, ImportLegacySnapshot(context.Background(), filepath.Join(t.TempDir(), "none.json"), store, quiet))
}

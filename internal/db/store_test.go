package db

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/opine/internal/models"
)

// storeUnderTest is the method set both stores share.
type storeUnderTest interface {
	Insert(ctx context.Context, r *models.Response) error
	Get(ctx context.Context, id string) (*models.Response, error)
	Replace(ctx context.Context, r *models.Response) error
	Update(ctx context.Context, id string, fn func(*models.Response) error) (*models.Response, error)
	FindByDedupKey(ctx context.Context, hash string) (*models.Response, error)
	ListByContentHash(ctx context.Context, hash string) ([]*models.Response, error)
	ListDuplicateHashes(ctx context.Context, after string, limit int) ([]string, error)
	ListActiveByPhone(ctx context.Context, surveyID, phone string) ([]*models.Response, error)
	Scan(ctx context.Context, f ScanFilter, after string, limit int) ([]*models.Response, error)
	AddAudit(ctx context.Context, e models.AuditEntry) error
	ListAudit(ctx context.Context, target string) ([]models.AuditEntry, error)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newSQLiteForTest(t *testing.T) *SQLiteStore {
	t.Helper()
	conn, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, RunMigrations(conn, ""))
	st, err := NewSQLiteStore(conn, quietLogger())
	require.NoError(t, err)
	return st
}

func eachStore(t *testing.T, fn func(t *testing.T, st storeUnderTest)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore(quietLogger())) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteForTest(t)) })
}

var baseTime = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func hashOf(c string) string { return strings.Repeat(c, 64) }

func newDoc(id, hash string) *models.Response {
	return &models.Response{
		ID:            id,
		SurveyID:      "s1",
		CompanyID:     "c1",
		InterviewMode: models.ModeDevice,
		Status:        models.StatusPending,
		ContentHash:   hash,
		Answers:       []models.Answer{{QuestionID: "q1", Answer: "yes"}},
		CreatedAt:     baseTime,
		UpdatedAt:     baseTime,
	}
}

func TestStoreInsertAndGet(t *testing.T) {
	eachStore(t, func(t *testing.T, st storeUnderTest) {
		ctx := context.Background()
		doc := newDoc("r1", hashOf("a"))
		doc.Answers = append(doc.Answers, models.Answer{QuestionID: "q2", Answer: 42})
		require.NoError(t, st.Insert(ctx, doc))

		got, err := st.Get(ctx, "r1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Equal(t, float64(42), got.Answers[1].Answer)
		assert.True(t, baseTime.Equal(got.CreatedAt))

		missing, err := st.Get(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestStoreContentKeyUniqueness(t *testing.T) {
	eachStore(t, func(t *testing.T, st storeUnderTest) {
		ctx := context.Background()
		require.NoError(t, st.Insert(ctx, newDoc("r1", hashOf("a"))))

		err := st.Insert(ctx, newDoc("r2", hashOf("a")))
		require.ErrorIs(t, err, ErrDuplicateContent)

		dup := newDoc("r2", hashOf("a"))
		dup.Status = models.StatusRejected
		dup.DuplicateOf = "r1"
		require.NoError(t, st.Insert(ctx, dup))

		abandoned := newDoc("r3", hashOf("a"))
		abandoned.Status = models.StatusAbandoned
		abandoned.AbandonedReason = "Respondent refused"
		require.NoError(t, st.Insert(ctx, abandoned))

		holder, err := st.FindByDedupKey(ctx, hashOf("a"))
		require.NoError(t, err)
		require.NotNil(t, holder)
		assert.Equal(t, "r1", holder.ID)

		group, err := st.ListByContentHash(ctx, hashOf("a"))
		require.NoError(t, err)
		assert.Len(t, group, 2, "abandoned records are not active")

		hashes, err := st.ListDuplicateHashes(ctx, "", 10)
		require.NoError(t, err)
		assert.Equal(t, []string{hashOf("a")}, hashes)
	})
}

func TestStoreAbandonReleasesContentKey(t *testing.T) {
	eachStore(t, func(t *testing.T, st storeUnderTest) {
		ctx := context.Background()
		require.NoError(t, st.Insert(ctx, newDoc("r1", hashOf("b"))))
		_, err := st.Update(ctx, "r1", func(d *models.Response) error {
			d.Status = models.StatusAbandoned
			d.AbandonedReason = "Call dropped"
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, st.Insert(ctx, newDoc("r2", hashOf("b"))))
		holder, err := st.FindByDedupKey(ctx, hashOf("b"))
		require.NoError(t, err)
		assert.Equal(t, "r2", holder.ID)
	})
}

func TestStoreForcesAbandonedStatusOnEveryWrite(t *testing.T) {
	eachStore(t, func(t *testing.T, st storeUnderTest) {
		ctx := context.Background()

		doc := newDoc("r1", hashOf("c"))
		doc.AbandonedReason = "Respondent refused"
		require.NoError(t, st.Insert(ctx, doc))
		assert.Equal(t, models.StatusAbandoned, doc.Status)

		_, err := st.Update(ctx, "r1", func(d *models.Response) error {
			d.Status = models.StatusPending
			return nil
		})
		require.NoError(t, err)
		got, err := st.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusAbandoned, got.Status)

		got.Status = models.StatusPending
		require.NoError(t, st.Replace(ctx, got))
		again, err := st.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusAbandoned, again.Status)
	})
}

func TestStoreFreezesTerminalContent(t *testing.T) {
	eachStore(t, func(t *testing.T, st storeUnderTest) {
		ctx := context.Background()
		doc := newDoc("r1", hashOf("d"))
		doc.Status = models.StatusApproved
		require.NoError(t, st.Insert(ctx, doc))

		updated, err := st.Update(ctx, "r1", func(d *models.Response) error {
			d.Answers = []models.Answer{{QuestionID: "q1", Answer: "no"}}
			d.VerificationData.Feedback = "checked twice"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "yes", updated.Answers[0].Answer)
		assert.Equal(t, "checked twice", updated.VerificationData.Feedback)
	})
}

func TestStoreKeepsReviewHistoryAppendOnly(t *testing.T) {
	eachStore(t, func(t *testing.T, st storeUnderTest) {
		ctx := context.Background()
		doc := newDoc("r1", hashOf("e"))
		doc.VerificationData.ReviewHistory = []models.ReviewEntry{{Reviewer: "a", ReviewedAt: baseTime, Status: models.StatusPending, Decision: "claimed"}}
		require.NoError(t, st.Insert(ctx, doc))

		updated, err := st.Update(ctx, "r1", func(d *models.Response) error {
			d.VerificationData.ReviewHistory = nil
			return nil
		})
		require.NoError(t, err)
		require.Len(t, updated.VerificationData.ReviewHistory, 1)
		assert.Equal(t, "a", updated.VerificationData.ReviewHistory[0].Reviewer)
	})
}

func TestStoreUpdateSkipAndMissing(t *testing.T) {
	eachStore(t, func(t *testing.T, st storeUnderTest) {
		ctx := context.Background()
		require.NoError(t, st.Insert(ctx, newDoc("r1", hashOf("f"))))

		got, err := st.Update(ctx, "r1", func(d *models.Response) error {
			d.Status = models.StatusApproved
			return ErrSkipWrite
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, got.Status)

		missing, err := st.Update(ctx, "nope", func(d *models.Response) error { return nil })
		require.NoError(t, err)
		assert.Nil(t, missing)

		err = st.Replace(ctx, newDoc("nope", hashOf("9")))
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreRejectsInvalidDocuments(t *testing.T) {
	eachStore(t, func(t *testing.T, st storeUnderTest) {
		doc := newDoc("r1", "not-a-hash")
		err := st.Insert(context.Background(), doc)
		require.ErrorIs(t, err, ErrInvalidDocument)
	})
}

func TestStoreScanFilters(t *testing.T) {
	eachStore(t, func(t *testing.T, st storeUnderTest) {
		ctx := context.Background()
		for i, c := range []string{"1", "2", "3", "4"} {
			d := newDoc("r"+c, hashOf(c))
			d.CreatedAt = baseTime.Add(time.Duration(i) * time.Hour)
			d.RespondentPhone = "9876543210"
			if c == "2" {
				d.Status = models.StatusApproved
				d.VerificationData.Reviewer = "b"
				d.VerificationData.ReviewHistory = []models.ReviewEntry{{Reviewer: "a", ReviewedAt: baseTime, Status: models.StatusPending, Decision: "claimed"}}
			}
			require.NoError(t, st.Insert(ctx, d))
		}

		page, err := st.Scan(ctx, ScanFilter{Statuses: []models.Status{models.StatusPending}}, "", 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "r1", page[0].ID)
		assert.Equal(t, "r3", page[1].ID)

		page, err = st.Scan(ctx, ScanFilter{Statuses: []models.Status{models.StatusPending}}, "r3", 2)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "r4", page[0].ID)

		hist, err := st.Scan(ctx, ScanFilter{HistoryReviewer: "a"}, "", 0)
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.Equal(t, "r2", hist[0].ID)

		windowed, err := st.Scan(ctx, ScanFilter{CreatedFrom: baseTime.Add(time.Hour), CreatedTo: baseTime.Add(3 * time.Hour)}, "", 0)
		require.NoError(t, err)
		assert.Len(t, windowed, 2)

		unassigned, err := st.Scan(ctx, ScanFilter{Unassigned: true}, "", 0)
		require.NoError(t, err)
		assert.Len(t, unassigned, 3)

		phones, err := st.ListActiveByPhone(ctx, "s1", "9876543210")
		require.NoError(t, err)
		assert.Len(t, phones, 4)
	})
}

func TestStoreAudit(t *testing.T) {
	eachStore(t, func(t *testing.T, st storeUnderTest) {
		ctx := context.Background()
		require.NoError(t, st.AddAudit(ctx, models.AuditEntry{Time: baseTime, Actor: "a", Action: "approve", Target: "r1"}))
		require.NoError(t, st.AddAudit(ctx, models.AuditEntry{Time: baseTime, Actor: "a", Action: "approve", Target: "r2"}))
		entries, err := st.ListAudit(ctx, "r1")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "approve", entries[0].Action)
		assert.True(t, baseTime.Equal(entries[0].Time))
	})
}

func TestRunMigrationsIsRepeatable(t *testing.T) {
	conn, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, RunMigrations(conn, ""))
	require.NoError(t, RunMigrations(conn, ""))
	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRunMigrationsFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002_extra.sql"), []byte(`CREATE TABLE extra (id TEXT PRIMARY KEY);`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_empty.sql"), []byte("  \n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	conn, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, RunMigrations(conn, dir))

	var names []string
	rows, err := conn.Query(`SELECT name FROM schema_migrations ORDER BY name`)
	require.NoError(t, err)
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}
	require.NoError(t, rows.Close())
	assert.Equal(t, []string{"002_extra.sql"}, names)

	missing := filepath.Join(dir, "absent")
	require.NoError(t, RunMigrations(conn, missing), "missing directory falls back to embedded files")
	file := filepath.Join(dir, "notes.txt")
	assert.Error(t, RunMigrations(conn, file))
}

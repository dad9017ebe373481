package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/soaringjerry/opine/internal/models"
)

// SQLiteStore keeps each response as a JSON document next to the columns
// the queue and sweeps filter on. The partial unique index on dedup_key is
// the only arbiter between concurrent duplicate submissions.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens path with a busy timeout and immediate write transactions.
// In-memory databases are pinned to one connection so every query sees them.
func OpenSQLite(path string) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", path+sep+"_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if strings.Contains(path, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

func NewSQLiteStore(db *sql.DB, logger *slog.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if logger == nil {
		logger = slog.Default()
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for migrations and maintenance.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

const responseColumns = `id, survey_id, company_id, status, content_hash, dedup_key,
	respondent_phone, reviewer, abandoned_reason, created_at, updated_at, doc`

func (s *SQLiteStore) Insert(ctx context.Context, r *models.Response) error {
	next := r.Clone()
	if err := prepareWrite(s.logger, nil, next); err != nil {
		return err
	}
	raw, stored, err := encodeDoc(next)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO responses (`+responseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, rowArgs(stored, raw)...)
	if err != nil {
		return mapWriteErr(err, "insert", r.ID)
	}
	*r = *stored
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Response, error) {
	return getDoc(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDoc(ctx context.Context, q queryRower, id string) (*models.Response, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT doc FROM responses WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get response %s: %w", id, err)
	}
	return decodeDoc([]byte(raw))
}

func (s *SQLiteStore) Replace(ctx context.Context, r *models.Response) error {
	stored, err := s.update(ctx, r.ID, func(doc *models.Response) error {
		*doc = *r.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("replace response %s: %w", r.ID, ErrNotFound)
	}
	*r = *stored
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*models.Response) error) (*models.Response, error) {
	return s.update(ctx, id, fn)
}

func (s *SQLiteStore) update(ctx context.Context, id string, fn func(*models.Response) error) (*models.Response, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := getDoc(ctx, tx, id)
	if err != nil || prev == nil {
		return nil, err
	}
	next := prev.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrSkipWrite) {
			return prev, nil
		}
		return nil, err
	}
	next.ID = id
	if err := prepareWrite(s.logger, prev, next); err != nil {
		return nil, err
	}
	raw, stored, err := encodeDoc(next)
	if err != nil {
		return nil, err
	}
	args := rowArgs(stored, raw)
	_, err = tx.ExecContext(ctx, `UPDATE responses SET survey_id = ?, company_id = ?, status = ?,
		content_hash = ?, dedup_key = ?, respondent_phone = ?, reviewer = ?, abandoned_reason = ?,
		created_at = ?, updated_at = ?, doc = ? WHERE id = ?`, append(args[1:], id)...)
	if err != nil {
		return nil, mapWriteErr(err, "update", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapWriteErr(err, "commit", id)
	}
	return stored, nil
}

func rowArgs(r *models.Response, raw []byte) []any {
	var key any
	if k := r.DedupKey(); k != "" {
		key = k
	}
	return []any{
		r.ID, r.SurveyID, r.CompanyID, string(r.Status), r.ContentHash, key,
		r.RespondentPhone, r.VerificationData.Reviewer, r.AbandonedReason,
		unixNano(r.CreatedAt), unixNano(r.UpdatedAt), string(raw),
	}
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func mapWriteErr(err error, op, id string) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(se.Error(), "dedup_key") {
		return ErrDuplicateContent
	}
	return fmt.Errorf("%s response %s: %w", op, id, err)
}

func (s *SQLiteStore) FindByDedupKey(ctx context.Context, hash string) (*models.Response, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM responses WHERE dedup_key = ?`, hash).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find dedup key: %w", err)
	}
	return decodeDoc([]byte(raw))
}

func (s *SQLiteStore) ListByContentHash(ctx context.Context, hash string) ([]*models.Response, error) {
	return s.queryDocs(ctx, `SELECT doc FROM responses WHERE content_hash = ? AND status IN (?, ?, ?) ORDER BY id`,
		hash, models.StatusPending, models.StatusApproved, models.StatusRejected)
}

func (s *SQLiteStore) ListDuplicateHashes(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT content_hash FROM responses
		WHERE status IN (?, ?, ?) AND content_hash > ?
		GROUP BY content_hash HAVING COUNT(1) > 1
		ORDER BY content_hash LIMIT ?`,
		models.StatusPending, models.StatusApproved, models.StatusRejected, after, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list duplicate hashes: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListActiveByPhone(ctx context.Context, surveyID, phone string) ([]*models.Response, error) {
	return s.queryDocs(ctx, `SELECT doc FROM responses
		WHERE survey_id = ? AND respondent_phone = ? AND status IN (?, ?, ?) ORDER BY id`,
		surveyID, phone, models.StatusPending, models.StatusApproved, models.StatusRejected)
}

func (s *SQLiteStore) Scan(ctx context.Context, f ScanFilter, after string, limit int) ([]*models.Response, error) {
	where := []string{"id > ?"}
	args := []any{after}
	if f.SurveyID != "" {
		where = append(where, "survey_id = ?")
		args = append(args, f.SurveyID)
	}
	if f.CompanyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, f.CompanyID)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ",")+")")
	}
	if f.Reviewer != "" {
		where = append(where, "reviewer = ?")
		args = append(args, f.Reviewer)
	}
	if f.Unassigned {
		where = append(where, "reviewer = ''")
	}
	if f.HistoryReviewer != "" {
		where = append(where, `EXISTS (SELECT 1 FROM json_each(doc, '$.verificationData.reviewHistory') h
			WHERE json_extract(h.value, '$.reviewer') = ?)`)
		args = append(args, f.HistoryReviewer)
	}
	if f.AbandonedReasonSet {
		where = append(where, "abandoned_reason != ''")
	}
	if f.ExcludeStatus != "" {
		where = append(where, "status != ?")
		args = append(args, string(f.ExcludeStatus))
	}
	if !f.CreatedFrom.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.CreatedFrom.UnixNano())
	}
	if !f.CreatedTo.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, f.CreatedTo.UnixNano())
	}
	args = append(args, sqlLimit(limit))
	return s.queryDocs(ctx, `SELECT doc FROM responses WHERE `+strings.Join(where, " AND ")+` ORDER BY id LIMIT ?`, args...)
}

func (s *SQLiteStore) queryDocs(ctx context.Context, query string, args ...any) ([]*models.Response, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()
	var out []*models.Response
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		doc, err := decodeDoc([]byte(raw))
		if err != nil {
			// A malformed legacy row must not stop a scan.
			s.logger.Warn("skipping undecodable response row", "error", err)
			continue
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func (s *SQLiteStore) AddAudit(ctx context.Context, e models.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log (at, actor, action, target, note) VALUES (?, ?, ?, ?, ?)`,
		e.Time.UnixNano(), e.Actor, e.Action, e.Target, e.Note)
	if err != nil {
		return fmt.Errorf("add audit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAudit(ctx context.Context, target string) ([]models.AuditEntry, error) {
	query := `SELECT at, actor, action, target, note FROM audit_log`
	var args []any
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	var out []models.AuditEntry
	for rows.Next() {
		var (
			at int64
			e  models.AuditEntry
		)
		if err := rows.Scan(&at, &e.Actor, &e.Action, &e.Target, &e.Note); err != nil {
			return nil, err
		}
		e.Time = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

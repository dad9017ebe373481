package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/soaringjerry/opine/internal/models"
)

// MemoryStore is an in-process ResponseStore for development and tests. It
// enforces the same content-key uniqueness and write hooks as SQLiteStore.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]*models.Response
	keys   map[string]string
	audit  []models.AuditEntry
	logger *slog.Logger
}

func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		docs:   map[string]*models.Response{},
		keys:   map[string]string{},
		logger: logger,
	}
}

func (s *MemoryStore) Insert(ctx context.Context, r *models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[r.ID]; ok {
		return fmt.Errorf("insert response %s: id already exists", r.ID)
	}
	stored, err := s.write(nil, r.Clone())
	if err != nil {
		return err
	}
	*r = *stored.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[id].Clone(), nil
}

func (s *MemoryStore) Replace(ctx context.Context, r *models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.docs[r.ID]
	if !ok {
		return fmt.Errorf("replace response %s: %w", r.ID, ErrNotFound)
	}
	stored, err := s.write(prev, r.Clone())
	if err != nil {
		return err
	}
	*r = *stored.Clone()
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*models.Response) error) (*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	next := prev.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrSkipWrite) {
			return prev.Clone(), nil
		}
		return nil, err
	}
	stored, err := s.write(prev, next)
	if err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

// write must be called with mu held.
func (s *MemoryStore) write(prev, next *models.Response) (*models.Response, error) {
	if err := prepareWrite(s.logger, prev, next); err != nil {
		return nil, err
	}
	_, stored, err := encodeDoc(next)
	if err != nil {
		return nil, err
	}
	key := stored.DedupKey()
	if key != "" {
		if holder, ok := s.keys[key]; ok && holder != stored.ID {
			return nil, ErrDuplicateContent
		}
	}
	if prev != nil {
		if old := prev.DedupKey(); old != "" && old != key {
			delete(s.keys, old)
		}
	}
	if key != "" {
		s.keys[key] = stored.ID
	}
	s.docs[stored.ID] = stored
	return stored, nil
}

func (s *MemoryStore) FindByDedupKey(ctx context.Context, hash string) (*models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.keys[hash]
	if !ok {
		return nil, nil
	}
	return s.docs[id].Clone(), nil
}

func (s *MemoryStore) ListByContentHash(ctx context.Context, hash string) ([]*models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Response
	for _, d := range s.docs {
		if d.ContentHash == hash && d.Status.Active() {
			out = append(out, d.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

func (s *MemoryStore) ListDuplicateHashes(ctx context.Context, after string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[string]int{}
	for _, d := range s.docs {
		if d.ContentHash != "" && d.Status.Active() {
			counts[d.ContentHash]++
		}
	}
	var out []string
	for h, n := range counts {
		if n > 1 && h > after {
			out = append(out, h)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListActiveByPhone(ctx context.Context, surveyID, phone string) ([]*models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Response
	for _, d := range s.docs {
		if d.SurveyID == surveyID && d.RespondentPhone == phone && d.Status.Active() {
			out = append(out, d.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

func (s *MemoryStore) Scan(ctx context.Context, f ScanFilter, after string, limit int) ([]*models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Response
	for id, d := range s.docs {
		if id > after && f.matches(d) {
			out = append(out, d)
		}
	}
	sortByID(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i, d := range out {
		out[i] = d.Clone()
	}
	return out, nil
}

func (s *MemoryStore) AddAudit(ctx context.Context, e models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, target string) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AuditEntry
	for _, e := range s.audit {
		if target == "" || e.Target == target {
			out = append(out, e)
		}
	}
	return out, nil
}

func sortByID(rs []*models.Response) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}

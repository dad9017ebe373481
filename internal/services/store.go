package services

import (
	"context"

	"github.com/soaringjerry/opine/internal/db"
	"github.com/soaringjerry/opine/internal/models"
)

// ResponseStore persists response documents. Implementations run the write
// hooks (terminal content freeze, abandoned invariant, document validation)
// on every write; db.MemoryStore and db.SQLiteStore both satisfy it.
type ResponseStore interface {
	// Insert fails with db.ErrDuplicateContent when another record holds r's
	// content key. On success r holds the persisted version.
	Insert(ctx context.Context, r *models.Response) error
	// Get returns nil, nil when id does not exist.
	Get(ctx context.Context, id string) (*models.Response, error)
	Replace(ctx context.Context, r *models.Response) error
	// Update reads the freshest version, hands a copy to fn and writes it
	// back. fn may return db.ErrSkipWrite to leave the record untouched, in
	// which case the stored version is returned. Missing ids yield nil, nil.
	Update(ctx context.Context, id string, fn func(*models.Response) error) (*models.Response, error)

	FindByDedupKey(ctx context.Context, hash string) (*models.Response, error)
	// ListByContentHash returns active records sharing hash.
	ListByContentHash(ctx context.Context, hash string) ([]*models.Response, error)
	// ListDuplicateHashes pages through hashes shared by more than one active record.
	ListDuplicateHashes(ctx context.Context, after string, limit int) ([]string, error)
	ListActiveByPhone(ctx context.Context, surveyID, phone string) ([]*models.Response, error)
	// Scan pages through records ordered by id, starting after the given id.
	Scan(ctx context.Context, f db.ScanFilter, after string, limit int) ([]*models.Response, error)

	AddAudit(ctx context.Context, e models.AuditEntry) error
	ListAudit(ctx context.Context, target string) ([]models.AuditEntry, error)
}

// scanAll walks every page of a scan and calls fn per page.
func scanAll(ctx context.Context, store ResponseStore, f db.ScanFilter, pageSize int, fn func([]*models.Response) error) error {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := store.Scan(ctx, f, after, pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < pageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

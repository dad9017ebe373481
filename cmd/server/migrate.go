package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/soaringjerry/opine/internal/db"
	"github.com/soaringjerry/opine/internal/models"
	"github.com/soaringjerry/opine/internal/services"
)

// legacySnapshot is the JSON export of the previous document store.
type legacySnapshot struct {
	Responses []*models.Response `json:"responses"`
}

type importStats struct {
	Imported   int
	Existing   int
	Duplicates int
	Invalid    int
}

// ImportLegacySnapshot loads responses exported from the previous store. A
// missing file is not an error. Re-running the import skips ids that are
// already present.
func ImportLegacySnapshot(ctx context.Context, path string, store services.ResponseStore, logger *slog.Logger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read legacy snapshot: %w", err)
	}
	var snap legacySnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("parse legacy snapshot %s: %w", path, err)
	}
	logger.Info("importing legacy snapshot", "path", path, "responses", len(snap.Responses))
	stats, err := importResponses(ctx, store, snap.Responses, logger)
	if err != nil {
		return err
	}
	logger.Info("legacy import completed",
		"imported", stats.Imported,
		"existing", stats.Existing,
		"duplicates", stats.Duplicates,
		"invalid", stats.Invalid)
	return nil
}

// importResponses inserts docs oldest first. A document whose content key
// is already held is stored with duplicateOf pointing at the holder and its
// status untouched, so the dedup sweep adjudicates it later.
func importResponses(ctx context.Context, store services.ResponseStore, docs []*models.Response, logger *slog.Logger) (importStats, error) {
	var stats importStats
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	for _, doc := range docs {
		if doc == nil || doc.ID == "" {
			stats.Invalid++
			continue
		}
		existing, err := store.Get(ctx, doc.ID)
		if err != nil {
			return stats, fmt.Errorf("check %s: %w", doc.ID, err)
		}
		if existing != nil {
			stats.Existing++
			continue
		}
		if doc.ContentHash == "" {
			doc.ContentHash = services.FingerprintResponse(doc)
		}
		if doc.UpdatedAt.IsZero() {
			doc.UpdatedAt = doc.CreatedAt
		}
		err = store.Insert(ctx, doc)
		if errors.Is(err, db.ErrDuplicateContent) {
			holder, herr := store.FindByDedupKey(ctx, doc.ContentHash)
			if herr != nil {
				return stats, fmt.Errorf("find holder of %s: %w", doc.ID, herr)
			}
			if holder != nil {
				doc.DuplicateOf = holder.ID
			}
			stats.Duplicates++
			err = store.Insert(ctx, doc)
		}
		switch {
		case errors.Is(err, db.ErrInvalidDocument):
			stats.Invalid++
			logger.Warn("skipping invalid legacy response", "response_id", doc.ID, "error", err)
		case err != nil:
			return stats, fmt.Errorf("import %s: %w", doc.ID, err)
		default:
			stats.Imported++
		}
	}
	return stats, nil
}

package db

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/soaringjerry/opine/internal/metrics"
	"github.com/soaringjerry/opine/internal/models"
)

// prepareWrite runs the write hooks shared by every store on every write.
// prev is the stored version, nil on insert. next is corrected in place.
func prepareWrite(logger *slog.Logger, prev, next *models.Response) error {
	if models.PreserveTerminalContent(prev, next) {
		logger.Warn("terminal content change discarded", "response_id", next.ID, "status", prev.Status)
	}
	if models.PreserveReviewHistory(prev, next) {
		logger.Warn("review history rewrite discarded", "response_id", next.ID)
	}
	fixed, corrected := models.EnforceAbandonedInvariant(*next)
	if corrected {
		metrics.RecordGuardCorrection(metrics.GuardStorageHook)
		logger.Warn("status forced back to abandoned",
			"layer", metrics.GuardStorageHook,
			"response_id", next.ID,
			"attempted_status", next.Status,
			"abandoned_reason", next.AbandonedReason)
	}
	*next = fixed
	corrected, err := models.ValidateResponse(next)
	if corrected {
		metrics.RecordGuardCorrection(metrics.GuardValidationHook)
		logger.Warn("status forced back to abandoned", "layer", metrics.GuardValidationHook, "response_id", next.ID)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}

// encodeDoc serializes doc and decodes it again, so that callers observe
// the same value types regardless of which store persisted the document.
func encodeDoc(doc *models.Response) ([]byte, *models.Response, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("encode response %s: %w", doc.ID, err)
	}
	out, err := decodeDoc(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, out, nil
}

func decodeDoc(raw []byte) (*models.Response, error) {
	var out models.Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func activeStatuses() []models.Status {
	return []models.Status{models.StatusPending, models.StatusApproved, models.StatusRejected}
}

package db

import (
	"errors"
	"time"

	"github.com/soaringjerry/opine/internal/models"
)

var (
	// ErrDuplicateContent is returned by writes that collide on the sparse
	// content-hash key. DuplicateIndex consumes it as control flow.
	ErrDuplicateContent = errors.New("duplicate content hash")
	// ErrSkipWrite aborts an Update callback without writing.
	ErrSkipWrite = errors.New("skip write")
	// ErrInvalidDocument wraps validation hook failures.
	ErrInvalidDocument = errors.New("invalid response document")
	// ErrNotFound is returned by Replace when the id does not exist.
	ErrNotFound = errors.New("response not found")
)

// ScanFilter narrows Scan. Zero values match everything.
type ScanFilter struct {
	SurveyID        string
	CompanyID       string
	Statuses        []models.Status
	Reviewer        string
	HistoryReviewer string
	Unassigned      bool
	// AbandonedReasonSet matches documents with a non-empty abandonedReason.
	AbandonedReasonSet bool
	ExcludeStatus      models.Status
	CreatedFrom        time.Time
	CreatedTo          time.Time
}

func (f ScanFilter) matches(r *models.Response) bool {
	if f.SurveyID != "" && r.SurveyID != f.SurveyID {
		return false
	}
	if f.CompanyID != "" && r.CompanyID != f.CompanyID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Reviewer != "" && r.VerificationData.Reviewer != f.Reviewer {
		return false
	}
	if f.Unassigned && r.VerificationData.Reviewer != "" {
		return false
	}
	if f.HistoryReviewer != "" {
		found := false
		for _, e := range r.VerificationData.ReviewHistory {
			if e.Reviewer == f.HistoryReviewer {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.AbandonedReasonSet && r.AbandonedReason == "" {
		return false
	}
	if f.ExcludeStatus != "" && r.Status == f.ExcludeStatus {
		return false
	}
	if !f.CreatedFrom.IsZero() && r.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && !r.CreatedAt.Before(f.CreatedTo) {
		return false
	}
	return true
}

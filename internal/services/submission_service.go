package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/soaringjerry/opine/internal/db"
	"github.com/soaringjerry/opine/internal/metrics"
	"github.com/soaringjerry/opine/internal/models"
)

// submissionValidate checks inbound payloads. Initialized in init().
var submissionValidate *validator.Validate

func init() {
	submissionValidate = validator.New()
}

// SubmissionRequest is what an interviewer device or the telephony client
// posts when an interview ends.
type SubmissionRequest struct {
	SurveyID        string               `json:"surveyId" validate:"required,max=128"`
	CompanyID       string               `json:"companyId" validate:"max=128"`
	InterviewerID   string               `json:"interviewerId" validate:"max=128"`
	InterviewMode   models.InterviewMode `json:"interviewMode" validate:"required,oneof=CAPI CATI online"`
	Answers         []models.Answer      `json:"responses" validate:"max=2000,dive"`
	StartTime       time.Time            `json:"startTime" validate:"required"`
	EndTime         time.Time            `json:"endTime" validate:"required,gtefield=StartTime"`
	TotalTimeSpent  *int                 `json:"totalTimeSpent" validate:"omitempty,gte=0"`
	SelectedAC      string               `json:"selectedAC"`
	Location        *models.Location     `json:"location"`
	CallID          string               `json:"callId"`
	CallStatus      string               `json:"callStatus"`
	Metadata        map[string]any       `json:"metadata"`
	AbandonedReason string               `json:"abandonedReason"`
	SetNumber       int                  `json:"setNumber" validate:"gte=0"`
}

func (r *SubmissionRequest) Validate() error {
	return submissionValidate.Struct(r)
}

type SubmissionResult struct {
	Response   *models.Response `json:"response"`
	Duplicate  bool             `json:"duplicate"`
	OriginalID string           `json:"originalId,omitempty"`
}

// SubmissionService runs the live ingestion path: fingerprint, abandonment
// classification, auto-rejection and the synchronous duplicate admit.
type SubmissionService struct {
	store       ResponseStore
	evaluator   *AutoRejectionEvaluator
	dedup       *DuplicateIndex
	lifecycle   *Lifecycle
	matchers    FieldMatchers
	now         func() time.Time
	idGenerator func() string
	logger      *slog.Logger
}

func NewSubmissionService(store ResponseStore, evaluator *AutoRejectionEvaluator, dedup *DuplicateIndex, lifecycle *Lifecycle, rules AutoRejectRules, logger *slog.Logger) *SubmissionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmissionService{
		store:       store,
		evaluator:   evaluator,
		dedup:       dedup,
		lifecycle:   lifecycle,
		matchers:    NewFieldMatchers(rules),
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: defaultResponseID,
		logger:      logger,
	}
}

// defaultResponseID returns a time-ordered id so id-cursor scans roughly
// follow submission order.
func defaultResponseID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Submit stores a new response. Malformed payloads fail with an invalid
// ServiceError and nothing is stored; duplicates are stored as automatic
// rejections and reported in the result.
func (s *SubmissionService) Submit(ctx context.Context, req SubmissionRequest, locale string) (*SubmissionResult, error) {
	if s.store == nil {
		return nil, errors.New("submission service store is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, NewInvalidError(validationMessage(err))
	}

	now := s.now()
	doc := &models.Response{
		ID:            s.idGenerator(),
		SurveyID:      strings.TrimSpace(req.SurveyID),
		CompanyID:     strings.TrimSpace(req.CompanyID),
		InterviewerID: strings.TrimSpace(req.InterviewerID),
		InterviewMode: req.InterviewMode,
		Status:        models.StatusPending,
		Answers:       req.Answers,
		StartTime:     req.StartTime.UTC(),
		EndTime:       req.EndTime.UTC(),
		SelectedAC:    strings.TrimSpace(req.SelectedAC),
		Location:      req.Location,
		CallID:        strings.TrimSpace(req.CallID),
		CallStatus:    strings.TrimSpace(req.CallStatus),
		Metadata:      req.Metadata,
		SetNumber:     req.SetNumber,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.TotalTimeSpent != nil {
		doc.TotalTimeSpent = *req.TotalTimeSpent
	} else {
		doc.TotalTimeSpent = int(doc.EndTime.Sub(doc.StartTime) / time.Second)
	}
	doc.ContentHash = FingerprintResponse(doc)
	if phone, ok := s.matchers.ExtractPhone(doc.Answers); ok {
		doc.RespondentPhone = phone
	}

	if reason := s.abandonReason(req); reason != "" {
		doc.AbandonedReason = reason
		doc.Status = models.StatusAbandoned
	} else {
		ev, err := s.evaluator.Evaluate(ctx, doc)
		if err != nil {
			return nil, err
		}
		if doc.SelectedAC == "" {
			doc.SelectedAC = ev.AC
		}
		if ev.Rejected() {
			ApplyAutoRejection(doc, AutoRejection{Reasons: ev.Reasons, OriginalID: ev.DuplicatePhoneOf}, locale)
		}
	}

	admitted, err := s.dedup.Admit(ctx, doc, locale)
	if err != nil {
		if errors.Is(err, db.ErrInvalidDocument) {
			return nil, NewInvalidError(err.Error())
		}
		return nil, err
	}
	stored := admitted.Response
	metrics.RecordSubmission(string(stored.Status))
	if stored.VerificationData.AutoRejected {
		metrics.RecordAutoRejection(stored.VerificationData.AutoRejectionReasons...)
	}
	s.logger.Info("response submitted",
		"response_id", stored.ID,
		"survey_id", stored.SurveyID,
		"status", stored.Status,
		"duplicate", admitted.Duplicate,
		"reasons", stored.VerificationData.AutoRejectionReasons)
	return &SubmissionResult{Response: stored, Duplicate: admitted.Duplicate, OriginalID: admitted.OriginalID}, nil
}

// abandonReason picks the explicit reason when it is meaningful, otherwise
// the reason implied by a telephone call status.
func (s *SubmissionService) abandonReason(req SubmissionRequest) string {
	if models.IsMeaningfulAbandonReason(req.AbandonedReason) {
		return strings.TrimSpace(req.AbandonedReason)
	}
	if req.InterviewMode == models.ModeTelephone && req.CallStatus != "" {
		if reason, ok := AbandonReasonForCallStatus(req.CallStatus); ok {
			return reason
		}
	}
	return ""
}

// CallStatusUpdate is a call-status event from the telephony layer.
type CallStatusUpdate struct {
	ResponseID string `json:"responseId" validate:"required"`
	Status     string `json:"status" validate:"required"`
}

// ApplyCallStatus records a call status on a response. Codes that end an
// interview abandon it through the state machine.
func (s *SubmissionService) ApplyCallStatus(ctx context.Context, upd CallStatusUpdate) (TransitionResult, error) {
	if err := submissionValidate.Struct(upd); err != nil {
		return TransitionResult{}, NewInvalidError(validationMessage(err))
	}
	setStatus := func(r *models.Response) { r.CallStatus = upd.Status }
	if reason, ok := AbandonReasonForCallStatus(upd.Status); ok {
		return s.lifecycle.MarkAbandoned(ctx, upd.ResponseID, reason, TransitionOptions{Annotate: setStatus})
	}
	updated, err := s.store.Update(ctx, upd.ResponseID, func(r *models.Response) error {
		if r.CallStatus == upd.Status {
			return db.ErrSkipWrite
		}
		setStatus(r)
		r.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return TransitionResult{}, fmt.Errorf("record call status: %w", err)
	}
	if updated == nil {
		return TransitionResult{Outcome: OutcomeNotFound}, NewNotFoundError("response not found")
	}
	return TransitionResult{Outcome: OutcomeNoop, From: updated.Status, To: updated.Status, Response: updated}, nil
}

// Get returns one response.
func (s *SubmissionService) Get(ctx context.Context, id string) (*models.Response, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, NewNotFoundError("response not found")
	}
	return r, nil
}

// Abandon marks a response abandoned on behalf of an interviewer or operator.
func (s *SubmissionService) Abandon(ctx context.Context, id, reason string) (TransitionResult, error) {
	return s.lifecycle.MarkAbandoned(ctx, id, reason, TransitionOptions{})
}

// Terminate closes a pending response that ended early for a reason other
// than abandonment, such as a respondent screened out by quota.
func (s *SubmissionService) Terminate(ctx context.Context, id, reason string) (TransitionResult, error) {
	if strings.TrimSpace(reason) == "" {
		return TransitionResult{}, NewInvalidError("terminate reason is required")
	}
	return s.lifecycle.Terminate(ctx, id, strings.TrimSpace(reason), TransitionOptions{})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return "invalid submission: " + strings.Join(parts, ", ")
}

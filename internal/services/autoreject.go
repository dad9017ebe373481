package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/soaringjerry/opine/internal/models"
	"github.com/soaringjerry/opine/internal/utils"
)

// Auto-rejection reason codes.
const (
	ReasonDurationTooShort = "duration_too_short"
	ReasonMissingAC        = "missing_ac"
	ReasonMissingGender    = "missing_gender"
	ReasonMissingAge       = "missing_age"
	ReasonDuplicatePhone   = "duplicate_phone"
	ReasonDuplicateContent = "duplicate_content"
)

// AutoRejectRules configures the evaluator. Question ids are matched
// exactly (case-insensitive); phrases are matched on word boundaries in the
// question text and may be given in any survey language.
type AutoRejectRules struct {
	MinDeviceDurationSeconds int  `yaml:"min_device_duration_seconds"`
	CheckDuration            bool `yaml:"check_duration"`
	CheckAC                  bool `yaml:"check_ac"`
	CheckGender              bool `yaml:"check_gender"`
	CheckAge                 bool `yaml:"check_age"`
	CheckDuplicatePhone      bool `yaml:"check_duplicate_phone"`

	GenderQuestionIDs  []string `yaml:"gender_question_ids"`
	GenderPhrases      []string `yaml:"gender_phrases"`
	GenderProxyPhrases []string `yaml:"gender_proxy_phrases"`
	AgeQuestionIDs     []string `yaml:"age_question_ids"`
	AgePhrases         []string `yaml:"age_phrases"`
	ACQuestionIDs      []string `yaml:"ac_question_ids"`
	ACPhrases          []string `yaml:"ac_phrases"`
	PhoneQuestionIDs   []string `yaml:"phone_question_ids"`
	PhonePhrases       []string `yaml:"phone_phrases"`
}

func DefaultAutoRejectRules() AutoRejectRules {
	return AutoRejectRules{
		MinDeviceDurationSeconds: 180,
		CheckDuration:            true,
		CheckAC:                  true,
		CheckGender:              true,
		CheckAge:                 true,
		CheckDuplicatePhone:      true,

		GenderQuestionIDs:  []string{"gender", "respondent_gender"},
		GenderPhrases:      []string{"gender", "sex", "लिंग"},
		GenderProxyPhrases: []string{"registered voter", "पंजीकृत मतदाता"},
		AgeQuestionIDs:     []string{"age", "respondent_age"},
		AgePhrases:         []string{"age", "आयु", "उम्र"},
		ACQuestionIDs:      []string{"ac", "assembly_constituency"},
		ACPhrases:          []string{"assembly constituency", "विधानसभा"},
		PhoneQuestionIDs:   []string{"phone", "mobile"},
		PhonePhrases:       []string{"phone number", "mobile number", "मोबाइल नंबर"},
	}
}

// PhoneDuplicateChecker reports an earlier active response in the same
// survey with the same respondent phone. DuplicateIndex implements it.
type PhoneDuplicateChecker interface {
	HasEarlierPhone(ctx context.Context, r *models.Response) (bool, string, error)
}

// Evaluation is the outcome of one evaluator run, including the field
// values the matchers resolved.
type Evaluation struct {
	Reasons          []string
	Gender           string
	Age              string
	AC               string
	Phone            string
	DuplicatePhoneOf string
}

func (e Evaluation) Rejected() bool { return len(e.Reasons) > 0 }

type AutoRejectionEvaluator struct {
	rules    AutoRejectRules
	matchers FieldMatchers
	phones   PhoneDuplicateChecker
	logger   *slog.Logger
}

func NewAutoRejectionEvaluator(rules AutoRejectRules, phones PhoneDuplicateChecker, logger *slog.Logger) *AutoRejectionEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoRejectionEvaluator{rules: rules, matchers: NewFieldMatchers(rules), phones: phones, logger: logger}
}

// Evaluate runs every enabled rule. Reasons accumulate and come back sorted.
// It does not modify r.
func (e *AutoRejectionEvaluator) Evaluate(ctx context.Context, r *models.Response) (Evaluation, error) {
	var ev Evaluation
	abandoned := r.Status == models.StatusAbandoned || models.IsMeaningfulAbandonReason(r.AbandonedReason)

	if e.rules.CheckDuration && r.InterviewMode == models.ModeDevice && !abandoned &&
		r.TotalTimeSpent < e.rules.MinDeviceDurationSeconds {
		ev.Reasons = append(ev.Reasons, ReasonDurationTooShort)
	}

	ev.AC = strings.TrimSpace(r.SelectedAC)
	if isPlaceholderValue(ev.AC) {
		ev.AC = ""
	}
	if ev.AC == "" {
		ev.AC, _ = FirstMatch(r.Answers, e.matchers.AC...)
	}
	if e.rules.CheckAC && r.InterviewMode == models.ModeTelephone && ev.AC == "" {
		ev.Reasons = append(ev.Reasons, ReasonMissingAC)
	}

	var ok bool
	if ev.Gender, ok = FirstMatch(r.Answers, e.matchers.Gender...); !ok && e.rules.CheckGender {
		ev.Reasons = append(ev.Reasons, ReasonMissingGender)
	}
	if ev.Age, ok = FirstMatch(r.Answers, e.matchers.Age...); !ok && e.rules.CheckAge {
		ev.Reasons = append(ev.Reasons, ReasonMissingAge)
	}

	ev.Phone = r.RespondentPhone
	if ev.Phone == "" {
		ev.Phone, _ = e.matchers.ExtractPhone(r.Answers)
	}
	if e.rules.CheckDuplicatePhone && e.phones != nil && ev.Phone != "" {
		probe := r
		if probe.RespondentPhone != ev.Phone {
			probe = r.Clone()
			probe.RespondentPhone = ev.Phone
		}
		dup, original, err := e.phones.HasEarlierPhone(ctx, probe)
		if err != nil {
			return ev, fmt.Errorf("duplicate phone check for %s: %w", r.ID, err)
		}
		if dup {
			ev.Reasons = append(ev.Reasons, ReasonDuplicatePhone)
			ev.DuplicatePhoneOf = original
		}
	}

	sort.Strings(ev.Reasons)
	if ev.Rejected() {
		e.logger.Debug("auto-rejection rules matched", "response_id", r.ID, "reasons", ev.Reasons)
	}
	return ev, nil
}

// AutoRejection describes an automatic rejection to apply to a document.
type AutoRejection struct {
	Reasons []string
	// OriginalID is the earlier response this one duplicates, if any.
	OriginalID string
	// ContentDuplicate gives up the record's claim on its content key.
	ContentDuplicate bool
}

// ApplyAutoRejection marks r as automatically rejected. Reasons merge with
// any already recorded. The reviewer is cleared: an empty reviewer is what
// tells an automatic rejection apart from a human one.
func ApplyAutoRejection(r *models.Response, ar AutoRejection, locale string) {
	reasons := mergeReasons(r.VerificationData.AutoRejectionReasons, ar.Reasons)
	r.Status = models.StatusRejected
	r.VerificationData.AutoRejected = true
	r.VerificationData.AutoRejectionReasons = reasons
	r.VerificationData.Reviewer = ""
	r.VerificationData.Feedback = FeedbackFor(locale, reasons, ar.OriginalID)
	if ar.ContentDuplicate && ar.OriginalID != "" {
		r.DuplicateOf = ar.OriginalID
	}
}

// FeedbackFor renders the human-readable rejection feedback.
func FeedbackFor(locale string, reasons []string, originalID string) string {
	parts := make([]string, 0, len(reasons))
	for _, r := range reasons {
		parts = append(parts, utils.T(locale, "reason."+r))
	}
	msg := utils.T(locale, "feedback.auto_rejected") + ": " + strings.Join(parts, "; ")
	if originalID != "" {
		msg += ". " + utils.T(locale, "feedback.duplicate_of") + " " + originalID
	}
	return msg
}

func mergeReasons(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, r := range list {
			if r == "" {
				continue
			}
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

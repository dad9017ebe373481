package models

import "time"

// Status is the lifecycle state of a submitted interview response.
type Status string

const (
	StatusPending    Status = "Pending_Approval"
	StatusApproved   Status = "Approved"
	StatusRejected   Status = "Rejected"
	StatusAbandoned  Status = "abandoned"
	StatusTerminated Status = "Terminated"
)

// Terminal reports whether content is frozen in this state.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusAbandoned, StatusTerminated:
		return true
	}
	return false
}

// Active statuses take part in duplicate reconciliation.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// InterviewMode distinguishes how the interview was conducted.
type InterviewMode string

const (
	ModeDevice    InterviewMode = "CAPI" // in-person, handheld device
	ModeTelephone InterviewMode = "CATI" // outbound phone call
	ModeOnline    InterviewMode = "online"
)

// Answer is one question/answer pair. Answer holds the JSON-decoded value
// (string, float64, bool, []any, map[string]any or nil).
type Answer struct {
	QuestionID   string `json:"questionId" validate:"required"`
	QuestionText string `json:"questionText,omitempty"`
	Answer       any    `json:"answer"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// ReviewEntry is an append-only row in a response's review history. Only
// ReplacedAt/ReplacedBy may be set after the entry is appended.
type ReviewEntry struct {
	Reviewer   string     `json:"reviewer"`
	ReviewedAt time.Time  `json:"reviewedAt"`
	Status     Status     `json:"status"`
	Decision   string     `json:"decision"`
	ReplacedAt *time.Time `json:"replacedAt,omitempty"`
	ReplacedBy string     `json:"replacedBy,omitempty"`
}

// VerificationData carries the QC outcome. An empty Reviewer on a rejected
// response is what marks the rejection as automatic.
type VerificationData struct {
	Reviewer             string        `json:"reviewer,omitempty"`
	ReviewedAt           *time.Time    `json:"reviewedAt,omitempty"`
	Feedback             string        `json:"feedback,omitempty"`
	AutoRejected         bool          `json:"autoRejected"`
	AutoRejectionReasons []string      `json:"autoRejectionReasons,omitempty"`
	ReviewHistory        []ReviewEntry `json:"reviewHistory,omitempty"`
}

// Response is the persisted interview response document.
type Response struct {
	ID               string           `json:"id" validate:"required"`
	SurveyID         string           `json:"surveyId" validate:"required"`
	CompanyID        string           `json:"companyId,omitempty"`
	InterviewerID    string           `json:"interviewerId,omitempty"`
	InterviewMode    InterviewMode    `json:"interviewMode" validate:"required,oneof=CAPI CATI online"`
	Status           Status           `json:"status" validate:"required,status"`
	Answers          []Answer         `json:"responses" validate:"dive"`
	ContentHash      string           `json:"contentHash" validate:"required,len=64,hexadecimal"`
	StartTime        time.Time        `json:"startTime"`
	EndTime          time.Time        `json:"endTime"`
	TotalTimeSpent   int              `json:"totalTimeSpent" validate:"gte=0"`
	SelectedAC       string           `json:"selectedAC,omitempty"`
	Location         *Location        `json:"location,omitempty"`
	CallID           string           `json:"callId,omitempty"`
	CallStatus       string           `json:"callStatus,omitempty"`
	RespondentPhone  string           `json:"respondentPhone,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	VerificationData VerificationData `json:"verificationData"`
	AbandonedReason  string           `json:"abandonedReason,omitempty"`
	SetNumber        int              `json:"setNumber,omitempty"`
	DuplicateOf      string           `json:"duplicateOf,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Clone returns a deep copy safe to mutate independently of r.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Answers = append([]Answer(nil), r.Answers...)
	if r.Location != nil {
		loc := *r.Location
		cp.Location = &loc
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	vd := r.VerificationData
	vd.AutoRejectionReasons = append([]string(nil), r.VerificationData.AutoRejectionReasons...)
	vd.ReviewHistory = append([]ReviewEntry(nil), r.VerificationData.ReviewHistory...)
	if r.VerificationData.ReviewedAt != nil {
		t := *r.VerificationData.ReviewedAt
		vd.ReviewedAt = &t
	}
	cp.VerificationData = vd
	return &cp
}

// DedupKey is the value the store places under the sparse unique index, or
// "" when the record does not claim its content hash.
func (r *Response) DedupKey() string {
	if r.Status == StatusAbandoned || r.DuplicateOf != "" || r.ContentHash == "" {
		return ""
	}
	return r.ContentHash
}

// AuditEntry is one row of the global audit log.
type AuditEntry struct {
	Time   time.Time `json:"time"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Note   string    `json:"note,omitempty"`
}

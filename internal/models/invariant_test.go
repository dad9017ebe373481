package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDoc() *Response {
	return &Response{
		ID:            "r1",
		SurveyID:      "s1",
		InterviewMode: ModeDevice,
		Status:        StatusPending,
		ContentHash:   strings.Repeat("a", 64),
		Answers:       []Answer{{QuestionID: "q1", Answer: "yes"}},
	}
}

func TestIsMeaningfulAbandonReason(t *testing.T) {
	for _, r := range []string{"", "  ", "No reason specified", "N/A", "null", "undefined", "NULL"} {
		assert.False(t, IsMeaningfulAbandonReason(r), "reason %q", r)
	}
	for _, r := range []string{"Respondent refused", "call_busy", "Not reachable"} {
		assert.True(t, IsMeaningfulAbandonReason(r), "reason %q", r)
	}
}

func TestEnforceAbandonedInvariant(t *testing.T) {
	doc := *validDoc()
	doc.AbandonedReason = "Respondent refused"

	fixed, corrected := EnforceAbandonedInvariant(doc)
	assert.True(t, corrected)
	assert.Equal(t, StatusAbandoned, fixed.Status)
	assert.Equal(t, StatusPending, doc.Status, "input must not be mutated")

	again, corrected := EnforceAbandonedInvariant(fixed)
	assert.False(t, corrected)
	assert.Equal(t, fixed, again)

	doc.AbandonedReason = "N/A"
	same, corrected := EnforceAbandonedInvariant(doc)
	assert.False(t, corrected)
	assert.Equal(t, StatusPending, same.Status)
}

func TestAbandonGuardBlocks(t *testing.T) {
	doc := validDoc()
	doc.Status = StatusAbandoned
	doc.AbandonedReason = "Respondent refused"
	assert.True(t, AbandonGuardBlocks(doc, StatusPending))
	assert.True(t, AbandonGuardBlocks(doc, StatusApproved))
	assert.False(t, AbandonGuardBlocks(doc, StatusAbandoned))

	doc.AbandonedReason = ""
	assert.False(t, AbandonGuardBlocks(doc, StatusApproved))
}

func TestPreserveTerminalContent(t *testing.T) {
	prev := validDoc()
	prev.Status = StatusApproved
	prev.TotalTimeSpent = 300
	prev.StartTime = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	next := prev.Clone()
	next.Answers = []Answer{{QuestionID: "q1", Answer: "no"}}
	next.TotalTimeSpent = 10
	next.VerificationData.Feedback = "audit note"

	assert.True(t, PreserveTerminalContent(prev, next))
	assert.Equal(t, prev.Answers, next.Answers)
	assert.Equal(t, 300, next.TotalTimeSpent)
	assert.Equal(t, "audit note", next.VerificationData.Feedback)

	prev.Status = StatusPending
	next.TotalTimeSpent = 10
	assert.False(t, PreserveTerminalContent(prev, next))
	assert.Equal(t, 10, next.TotalTimeSpent)
}

func TestValidateResponseCorrectsStatus(t *testing.T) {
	doc := validDoc()
	doc.AbandonedReason = "Respondent refused"

	corrected, err := ValidateResponse(doc)
	require.NoError(t, err)
	assert.True(t, corrected)
	assert.Equal(t, StatusAbandoned, doc.Status)
}

func TestValidateResponseRejectsMalformed(t *testing.T) {
	doc := validDoc()
	doc.Status = "Deleted"
	_, err := ValidateResponse(doc)
	require.Error(t, err)

	doc = validDoc()
	doc.ContentHash = "short"
	_, err = ValidateResponse(doc)
	require.Error(t, err)

	doc = validDoc()
	doc.Answers = append(doc.Answers, Answer{QuestionID: ""})
	_, err = ValidateResponse(doc)
	require.Error(t, err)
}

func TestDedupKey(t *testing.T) {
	doc := validDoc()
	assert.Equal(t, doc.ContentHash, doc.DedupKey())
	doc.Status = StatusRejected
	assert.Equal(t, doc.ContentHash, doc.DedupKey())
	doc.DuplicateOf = "r0"
	assert.Empty(t, doc.DedupKey())
	doc.DuplicateOf = ""
	doc.Status = StatusAbandoned
	assert.Empty(t, doc.DedupKey())
}

func TestCloneIsDeep(t *testing.T) {
	doc := validDoc()
	doc.Metadata = map[string]any{"device": "x"}
	doc.VerificationData.ReviewHistory = []ReviewEntry{{Reviewer: "a"}}
	cp := doc.Clone()
	cp.Metadata["device"] = "y"
	cp.VerificationData.ReviewHistory[0].Reviewer = "b"
	cp.Answers[0].Answer = "no"
	assert.Equal(t, "x", doc.Metadata["device"])
	assert.Equal(t, "a", doc.VerificationData.ReviewHistory[0].Reviewer)
	assert.Equal(t, "yes", doc.Answers[0].Answer)
}

func TestPreserveReviewHistory(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	prev := validDoc()
	prev.VerificationData.ReviewHistory = []ReviewEntry{
		{Reviewer: "a", ReviewedAt: at, Status: StatusPending, Decision: "claimed"},
	}

	t.Run("append and annotate allowed", func(t *testing.T) {
		next := prev.Clone()
		replacedAt := at.Add(time.Hour)
		next.VerificationData.ReviewHistory[0].ReplacedAt = &replacedAt
		next.VerificationData.ReviewHistory[0].ReplacedBy = "b"
		next.VerificationData.ReviewHistory = append(next.VerificationData.ReviewHistory,
			ReviewEntry{Reviewer: "b", ReviewedAt: replacedAt, Status: StatusPending, Decision: "reassigned"})

		assert.False(t, PreserveReviewHistory(prev, next))
		require.Len(t, next.VerificationData.ReviewHistory, 2)
		assert.Equal(t, "b", next.VerificationData.ReviewHistory[0].ReplacedBy)
	})

	t.Run("deletion restored", func(t *testing.T) {
		next := prev.Clone()
		next.VerificationData.ReviewHistory = nil
		assert.True(t, PreserveReviewHistory(prev, next))
		assert.Equal(t, prev.VerificationData.ReviewHistory, next.VerificationData.ReviewHistory)
	})

	t.Run("rewrite restored", func(t *testing.T) {
		next := prev.Clone()
		next.VerificationData.ReviewHistory[0].Reviewer = "mallory"
		assert.True(t, PreserveReviewHistory(prev, next))
		assert.Equal(t, "a", next.VerificationData.ReviewHistory[0].Reviewer)
	})
}

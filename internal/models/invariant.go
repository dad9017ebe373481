package models

import (
	"reflect"
	"strings"
)

// placeholderReasons are values clients send when no abandonment happened.
var placeholderReasons = map[string]struct{}{
	"no reason specified": {},
	"n/a":                 {},
	"na":                  {},
	"null":                {},
	"undefined":           {},
	"none":                {},
	"-":                   {},
}

// IsMeaningfulAbandonReason reports whether reason records a real abandonment.
func IsMeaningfulAbandonReason(reason string) bool {
	r := strings.ToLower(strings.TrimSpace(reason))
	if r == "" {
		return false
	}
	_, placeholder := placeholderReasons[r]
	return !placeholder
}

// EnforceAbandonedInvariant returns doc with status forced to abandoned when it
// carries a meaningful abandonment reason. The bool reports a correction.
// Every write path calls this; it depends only on the document itself.
func EnforceAbandonedInvariant(doc Response) (Response, bool) {
	if !IsMeaningfulAbandonReason(doc.AbandonedReason) || doc.Status == StatusAbandoned {
		return doc, false
	}
	doc.Status = StatusAbandoned
	return doc, true
}

// AbandonGuardBlocks reports whether moving current to target would be undone
// by EnforceAbandonedInvariant.
func AbandonGuardBlocks(current *Response, target Status) bool {
	if current == nil {
		return false
	}
	probe := *current
	probe.Status = target
	_, corrected := EnforceAbandonedInvariant(probe)
	return corrected
}

// PreserveTerminalContent restores the content fields of next from prev when
// prev had already reached a terminal status. It reports whether anything
// had to be restored.
func PreserveTerminalContent(prev, next *Response) bool {
	if prev == nil || next == nil || !prev.Status.Terminal() {
		return false
	}
	changed := false
	if !answersEqual(prev.Answers, next.Answers) {
		next.Answers = append([]Answer(nil), prev.Answers...)
		changed = true
	}
	if prev.ContentHash != next.ContentHash {
		next.ContentHash = prev.ContentHash
		changed = true
	}
	if !prev.StartTime.Equal(next.StartTime) || !prev.EndTime.Equal(next.EndTime) {
		next.StartTime, next.EndTime = prev.StartTime, prev.EndTime
		changed = true
	}
	if prev.TotalTimeSpent != next.TotalTimeSpent {
		next.TotalTimeSpent = prev.TotalTimeSpent
		changed = true
	}
	if prev.InterviewMode != next.InterviewMode || prev.SurveyID != next.SurveyID || prev.InterviewerID != next.InterviewerID {
		next.InterviewMode, next.SurveyID, next.InterviewerID = prev.InterviewMode, prev.SurveyID, prev.InterviewerID
		changed = true
	}
	return changed
}

// PreserveReviewHistory keeps next's review history append-only relative to
// prev. Existing entries are restored from prev; the only accepted change to
// an existing entry is a first-time replacedAt/replacedBy annotation.
func PreserveReviewHistory(prev, next *Response) bool {
	if prev == nil || next == nil {
		return false
	}
	old := prev.VerificationData.ReviewHistory
	cur := next.VerificationData.ReviewHistory
	changed := false
	merged := make([]ReviewEntry, 0, len(old)+len(cur))
	for i, e := range old {
		if i >= len(cur) || !sameEntry(e, cur[i]) {
			changed = true
			merged = append(merged, e)
			continue
		}
		if e.ReplacedBy == "" && cur[i].ReplacedBy != "" {
			e.ReplacedBy = cur[i].ReplacedBy
			e.ReplacedAt = cur[i].ReplacedAt
		}
		merged = append(merged, e)
	}
	if len(cur) > len(old) {
		merged = append(merged, cur[len(old):]...)
	}
	if len(merged) == 0 {
		merged = nil
	}
	next.VerificationData.ReviewHistory = merged
	return changed
}

func answersEqual(a, b []Answer) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func sameEntry(a, b ReviewEntry) bool {
	if a.Reviewer != b.Reviewer || a.Status != b.Status || a.Decision != b.Decision || !a.ReviewedAt.Equal(b.ReviewedAt) {
		return false
	}
	return a.ReplacedBy == "" || a.ReplacedBy == b.ReplacedBy
}

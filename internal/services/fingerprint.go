package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/soaringjerry/opine/internal/models"
)

// noInterviewer stands in for a missing interviewer so anonymous submissions
// still hash the same way every time.
const noInterviewer = "__no_interviewer__"

// FingerprintContext holds the distinguishing context fields. Storage-side
// details (save time, device id, metadata) are deliberately absent.
type FingerprintContext struct {
	InterviewMode  models.InterviewMode
	Location       *models.Location
	CallID         string
	EndTime        time.Time
	TotalTimeSpent int
}

type FingerprintInput struct {
	InterviewerID string
	SurveyID      string
	StartTime     time.Time
	Answers       []models.Answer
	Context       FingerprintContext
}

// Fingerprint returns the hex SHA-256 of the canonical form of in. Answer
// order does not matter; any change to an answer value does.
func Fingerprint(in FingerprintInput) string {
	sum := sha256.Sum256([]byte(CanonicalForm(in)))
	return hex.EncodeToString(sum[:])
}

// FingerprintResponse fingerprints a stored or incoming document.
func FingerprintResponse(r *models.Response) string {
	return Fingerprint(FingerprintInput{
		InterviewerID: r.InterviewerID,
		SurveyID:      r.SurveyID,
		StartTime:     r.StartTime,
		Answers:       r.Answers,
		Context: FingerprintContext{
			InterviewMode:  r.InterviewMode,
			Location:       r.Location,
			CallID:         r.CallID,
			EndTime:        r.EndTime,
			TotalTimeSpent: r.TotalTimeSpent,
		},
	})
}

// CanonicalForm renders the string that Fingerprint hashes.
func CanonicalForm(in FingerprintInput) string {
	interviewer := strings.TrimSpace(in.InterviewerID)
	if interviewer == "" {
		interviewer = noInterviewer
	}

	type canonAnswer struct{ id, value string }
	answers := make([]canonAnswer, 0, len(in.Answers))
	for _, a := range in.Answers {
		answers = append(answers, canonAnswer{id: strings.TrimSpace(a.QuestionID), value: CanonicalValue(a.Answer)})
	}
	sort.SliceStable(answers, func(i, j int) bool {
		if answers[i].id != answers[j].id {
			return answers[i].id < answers[j].id
		}
		return answers[i].value < answers[j].value
	})

	var b strings.Builder
	writeField(&b, "interviewer", interviewer)
	writeField(&b, "survey", strings.TrimSpace(in.SurveyID))
	writeField(&b, "start", canonicalTime(in.StartTime))
	writeField(&b, "answers", strconv.Itoa(len(answers)))
	for _, a := range answers {
		writeField(&b, "q", a.id)
		writeField(&b, "a", a.value)
	}
	writeField(&b, "mode", string(in.Context.InterviewMode))
	writeField(&b, "location", canonicalLocation(in.Context.Location))
	writeField(&b, "call", strings.TrimSpace(in.Context.CallID))
	writeField(&b, "end", canonicalTime(in.Context.EndTime))
	writeField(&b, "duration", strconv.Itoa(in.Context.TotalTimeSpent))
	return b.String()
}

// writeField length-prefixes every value so adjacent fields cannot run together.
func writeField(b *strings.Builder, name, value string) {
	fmt.Fprintf(b, "%s:%d:%s;", name, len(value), value)
}

func canonicalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func canonicalLocation(loc *models.Location) string {
	if loc == nil {
		return ""
	}
	return strconv.FormatFloat(round6(loc.Latitude), 'f', -1, 64) + "," + strconv.FormatFloat(round6(loc.Longitude), 'f', -1, 64)
}

func round6(f float64) float64 { return math.Round(f*1e6) / 1e6 }

// CanonicalValue renders an answer value deterministically: strings are
// trimmed, numbers use their shortest form, arrays are flattened element-wise
// in their original order, maps are written with sorted keys.
func CanonicalValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return "s" + strconv.Quote(strings.TrimSpace(x))
	case bool:
		return "b" + strconv.FormatBool(x)
	case float64:
		return "n" + strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return "n" + strconv.FormatFloat(float64(x), 'f', -1, 64)
	case int:
		return "n" + strconv.Itoa(x)
	case int64:
		return "n" + strconv.FormatInt(x, 10)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return "n" + strconv.FormatFloat(f, 'f', -1, 64)
		}
		return "s" + strconv.Quote(x.String())
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		return CanonicalValue(items)
	case []any:
		// Element order is content: ranking answers differ when reordered.
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = CanonicalValue(e)
		}
		return "a[" + strings.Join(parts, ",") + "]"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = strconv.Quote(k) + "=" + CanonicalValue(x[k])
		}
		return "m{" + strings.Join(parts, ",") + "}"
	default:
		// json.Marshal sorts map keys, which keeps unknown shapes stable.
		b, err := json.Marshal(x)
		if err != nil {
			return "x" + strconv.Quote(fmt.Sprint(x))
		}
		var decoded any
		if err := json.Unmarshal(b, &decoded); err == nil {
			return CanonicalValue(decoded)
		}
		return "j" + string(b)
	}
}

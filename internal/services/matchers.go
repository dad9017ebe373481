package services

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/soaringjerry/opine/internal/models"
)

// Matcher extracts one field from an answer list. Matchers are tried in
// priority order; the first one that resolves wins.
type Matcher func(answers []models.Answer) (string, bool)

// FirstMatch runs the chain in order and returns the first resolved value.
func FirstMatch(answers []models.Answer, chain ...Matcher) (string, bool) {
	for _, m := range chain {
		if m == nil {
			continue
		}
		if v, ok := m(answers); ok {
			return v, true
		}
	}
	return "", false
}

// Normalizer accepts and canonicalizes one candidate answer value.
type Normalizer func(string) (string, bool)

// firstAccepted returns the first answer picked by match whose value norm
// accepts. A candidate norm rejects does not stop the search, so an earlier
// question that only looks similar cannot hide the real one. A nil norm
// accepts any non-empty value.
func firstAccepted(answers []models.Answer, match func(models.Answer) bool, norm Normalizer) (string, bool) {
	for _, a := range answers {
		if !match(a) {
			continue
		}
		v := CanonicalAnswerText(a.Answer)
		if v == "" {
			continue
		}
		if norm == nil {
			return v, true
		}
		if n, ok := norm(v); ok {
			return n, true
		}
	}
	return "", false
}

// QuestionIDMatcher resolves the first question whose id equals one of ids
// (case-insensitive) and whose answer norm accepts.
func QuestionIDMatcher(norm Normalizer, ids ...string) Matcher {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[strings.ToLower(strings.TrimSpace(id))] = struct{}{}
	}
	match := func(a models.Answer) bool {
		_, ok := want[strings.ToLower(strings.TrimSpace(a.QuestionID))]
		return ok
	}
	return func(answers []models.Answer) (string, bool) {
		return firstAccepted(answers, match, norm)
	}
}

// PhraseMatcher resolves the first question whose text contains one of
// phrases and whose answer norm accepts. Matching is case-insensitive over
// Unicode, so phrases may be given in any of the survey's languages.
func PhraseMatcher(norm Normalizer, phrases ...string) Matcher {
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	match := func(a models.Answer) bool {
		text := strings.ToLower(a.QuestionText)
		for _, p := range lowered {
			if containsPhrase(text, p) {
				return true
			}
		}
		return false
	}
	return func(answers []models.Answer) (string, bool) {
		return firstAccepted(answers, match, norm)
	}
}

// containsPhrase matches phrase only on word boundaries, so "age" does not
// hit "language".
func containsPhrase(text, phrase string) bool {
	for start := 0; start <= len(text); {
		i := strings.Index(text[start:], phrase)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(phrase)
		before, _ := utf8.DecodeLastRuneInString(text[:i])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if (i == 0 || !isWordRune(before)) && (end == len(text) || !isWordRune(after)) {
			return true
		}
		start = i + 1
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// CanonicalAnswerText turns an answer value into plain text. Bilingual
// option labels of the form "Male_{पुरुष}" collapse to the part before "_{".
func CanonicalAnswerText(v any) string {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if i := strings.Index(s, "_{"); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		if isPlaceholderValue(s) {
			return ""
		}
		return s
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case []any:
		for _, e := range x {
			if s := CanonicalAnswerText(e); s != "" {
				return s
			}
		}
	case []string:
		for _, e := range x {
			if s := CanonicalAnswerText(e); s != "" {
				return s
			}
		}
	case map[string]any:
		for _, k := range []string{"value", "label", "text"} {
			if s := CanonicalAnswerText(x[k]); s != "" {
				return s
			}
		}
	}
	return ""
}

func isPlaceholderValue(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "n/a", "na", "null", "undefined", "none", "-", "select", "--select--":
		return true
	}
	return false
}

var genderSynonyms = map[string]string{
	"male": "male", "m": "male", "man": "male", "पुरुष": "male",
	"female": "female", "f": "female", "woman": "female", "महिला": "female", "स्त्री": "female",
	"other": "other", "third gender": "other", "transgender": "other", "अन्य": "other",
}

// NormalizeGender maps an answer to male, female or other.
func NormalizeGender(v string) (string, bool) {
	g, ok := genderSynonyms[strings.ToLower(strings.TrimSpace(v))]
	return g, ok
}

// genderToken finds a gender word inside free text, e.g. "Yes, female voter".
func genderToken(v string) (string, bool) {
	words := strings.FieldsFunc(strings.ToLower(v), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsMark(r)
	})
	for _, w := range words {
		if len(w) == 1 {
			continue
		}
		if g, ok := genderSynonyms[w]; ok {
			return g, true
		}
	}
	return "", false
}

// ParseAge reads the leading whole number of an answer ("34", "34 yrs",
// "34.0") and accepts it in [1, 149]. Ranges such as "18-25" are age groups,
// not ages, and do not resolve.
func ParseAge(v string) (string, bool) {
	v = strings.TrimSpace(v)
	end := 0
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	if end == 0 {
		return "", false
	}
	n, err := strconv.Atoi(v[:end])
	if err != nil || n < 1 || n > 149 {
		return "", false
	}
	rest := strings.TrimLeft(v[end:], " ")
	for _, sep := range []string{"-", "–", "to "} {
		if after, ok := strings.CutPrefix(rest, sep); ok {
			if after = strings.TrimSpace(after); after != "" && after[0] >= '0' && after[0] <= '9' {
				return "", false
			}
		}
	}
	return strconv.Itoa(n), true
}

// NormalizePhone keeps the last ten digits of a phone number.
func NormalizePhone(v string) (string, bool) {
	digits := make([]rune, 0, len(v))
	for _, r := range v {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) < 10 {
		return "", false
	}
	return string(digits[len(digits)-10:]), true
}

func acceptNonPlaceholder(v string) (string, bool) {
	if isPlaceholderValue(v) {
		return "", false
	}
	return v, true
}

// FieldMatchers bundles the extraction chains built from AutoRejectRules.
type FieldMatchers struct {
	Gender []Matcher
	Age    []Matcher
	AC     []Matcher
	Phone  []Matcher
}

// NewFieldMatchers builds the priority chains: question-id match first,
// phrase match second, proxy questions last.
func NewFieldMatchers(rules AutoRejectRules) FieldMatchers {
	return FieldMatchers{
		Gender: []Matcher{
			QuestionIDMatcher(NormalizeGender, rules.GenderQuestionIDs...),
			PhraseMatcher(NormalizeGender, rules.GenderPhrases...),
			PhraseMatcher(genderToken, rules.GenderProxyPhrases...),
		},
		Age: []Matcher{
			QuestionIDMatcher(ParseAge, rules.AgeQuestionIDs...),
			PhraseMatcher(ParseAge, rules.AgePhrases...),
		},
		AC: []Matcher{
			QuestionIDMatcher(acceptNonPlaceholder, rules.ACQuestionIDs...),
			PhraseMatcher(acceptNonPlaceholder, rules.ACPhrases...),
		},
		Phone: []Matcher{
			QuestionIDMatcher(NormalizePhone, rules.PhoneQuestionIDs...),
			PhraseMatcher(NormalizePhone, rules.PhonePhrases...),
		},
	}
}

// ExtractPhone returns the normalized respondent phone number of r, if any.
func (fm FieldMatchers) ExtractPhone(answers []models.Answer) (string, bool) {
	return FirstMatch(answers, fm.Phone...)
}

package services

import "strings"

// callStatusReasons maps telephony call-status codes that end an interview
// early onto the abandon reason recorded on the response.
var callStatusReasons = map[string]string{
	"busy":               "Call busy",
	"no_answer":          "No answer",
	"not_answered":       "No answer",
	"switched_off":       "Phone switched off",
	"not_reachable":      "Number not reachable",
	"unreachable":        "Number not reachable",
	"invalid_number":     "Invalid number",
	"wrong_number":       "Wrong number",
	"call_dropped":       "Call disconnected",
	"disconnected":       "Call disconnected",
	"respondent_refused": "Respondent refused",
	"refused":            "Respondent refused",
	"call_back_later":    "Respondent asked to call back later",
	"language_barrier":   "Language barrier",
	"failed":             "Call failed",
}

// AbandonReasonForCallStatus returns the abandon reason for a call-status
// code, or false when the code does not end the interview (for example
// "completed"). Codes are matched case-insensitively; "-" and " " count as "_".
func AbandonReasonForCallStatus(code string) (string, bool) {
	norm := strings.ToLower(strings.TrimSpace(code))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	reason, ok := callStatusReasons[norm]
	return reason, ok
}

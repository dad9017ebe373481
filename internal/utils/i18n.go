package utils

import "strings"

// Minimal server-side i18n for fixed keys: QC feedback and health text.
// Review UI strings live in the frontend.

var translations = map[string]map[string]string{
	"en": {
		"health.ok":                   "ok",
		"reason.duration_too_short":   "Interview duration below the minimum",
		"reason.missing_ac":           "Administrative area not recorded",
		"reason.missing_gender":       "Respondent gender not recorded",
		"reason.missing_age":          "Respondent age missing or invalid",
		"reason.duplicate_phone":      "Phone number already interviewed in this survey",
		"reason.duplicate_content":    "Duplicate submission",
		"feedback.auto_rejected":      "Auto-rejected",
		"feedback.duplicate_of":       "Duplicate of response",
		"feedback.manual_rejection":   "Manual Rejection",
		"feedback.invariant_repaired": "Status restored to abandoned",
	},
	"hi": {
		"health.ok":                 "ठीक है",
		"reason.duration_too_short": "साक्षात्कार की अवधि न्यूनतम से कम",
		"reason.missing_ac":         "विधानसभा क्षेत्र दर्ज नहीं",
		"reason.missing_gender":     "उत्तरदाता का लिंग दर्ज नहीं",
		"reason.missing_age":        "उत्तरदाता की आयु अनुपलब्ध या अमान्य",
		"reason.duplicate_phone":    "इस सर्वे में यह फ़ोन नंबर पहले से दर्ज है",
		"reason.duplicate_content":  "दोहराया गया उत्तर",
		"feedback.auto_rejected":    "स्वतः अस्वीकृत",
		"feedback.duplicate_of":     "उत्तर की प्रतिलिपि",
	},
}

// SupportedLocales lists locales with server-side translations.
var SupportedLocales = []string{"en", "hi"}

// T returns the translated string for key in locale; falls back to English.
func T(locale, key string) string {
	if m, ok := translations[strings.ToLower(locale)]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if m, ok := translations["en"]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return key
}

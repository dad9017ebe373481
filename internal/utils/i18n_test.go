package utils

import "testing"

func TestT_Fallback(t *testing.T) {
	if got := T("fr", "health.ok"); got != "ok" {
		t.Fatalf("fallback to en failed: %s", got)
	}
}

func TestT_HindiReason(t *testing.T) {
	if got := T("hi", "reason.missing_age"); got == "reason.missing_age" || got == T("en", "reason.missing_age") {
		t.Fatalf("expected hindi text, got %s", got)
	}
	// keys missing in hi fall back to en
	if got := T("HI", "feedback.manual_rejection"); got != "Manual Rejection" {
		t.Fatalf("fallback failed: %s", got)
	}
}

func TestT_UnknownKey(t *testing.T) {
	if got := T("en", "nope"); got != "nope" {
		t.Fatalf("want key echoed, got %s", got)
	}
}

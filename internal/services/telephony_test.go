package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAbandonReasonForCallStatus(t *testing.T) {
	cases := []struct {
		code   string
		reason string
		ok     bool
	}{
		{"busy", "Call busy", true},
		{"NO-ANSWER", "No answer", true},
		{" switched off ", "Phone switched off", true},
		{"refused", "Respondent refused", true},
		{"completed", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		reason, ok := AbandonReasonForCallStatus(tc.code)
		assert.Equal(t, tc.ok, ok, tc.code)
		assert.Equal(t, tc.reason, reason, tc.code)
	}
}

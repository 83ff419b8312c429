package threat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bastion/internal/event"
)

func Test_Classify(t *testing.T) {
	detector := NewDetector()

	cases := []struct {
		name         string
		payload      string
		flagged      bool
		severity     event.Severity
		eventType    event.Type
		wantPatterns []string
	}{
		{
			name:    "benign contact message",
			payload: `{"name":"Dana","message":"Looking for algebra help for my daughter."}`,
			flagged: false,
		},
		{
			name:    "benign prose with dashes and keywords",
			payload: "Lesson three -- please pick a time from the calendar and update me",
			flagged: false,
		},
		{
			name:         "classic boolean injection",
			payload:      `' OR 1=1 --`,
			flagged:      true,
			severity:     event.SeverityCritical,
			eventType:    event.TypeSQLInjectionAttempt,
			wantPatterns: []string{"sql_comment_terminator", "sql_boolean_injection"},
		},
		{
			name:         "union select probe",
			payload:      `q=1 UNION SELECT username, password FROM users`,
			flagged:      true,
			severity:     event.SeverityCritical,
			eventType:    event.TypeSQLInjectionAttempt,
			wantPatterns: []string{"sql_control_keywords"},
		},
		{
			name:         "stacked drop statement",
			payload:      `name=x'; DROP TABLE students`,
			flagged:      true,
			severity:     event.SeverityCritical,
			eventType:    event.TypeSQLInjectionAttempt,
			wantPatterns: []string{"sql_control_keywords", "sql_comment_terminator"},
		},
		{
			name:         "script tag",
			payload:      `{"message":"<script>alert(1)</script>"}`,
			flagged:      true,
			severity:     event.SeverityHigh,
			eventType:    event.TypeSuspiciousInput,
			wantPatterns: []string{"markup_injection"},
		},
		{
			name:         "event handler attribute",
			payload:      `<img src=x onerror=fetch('//evil')>`,
			flagged:      true,
			severity:     event.SeverityHigh,
			eventType:    event.TypeSuspiciousInput,
			wantPatterns: []string{"script_event_handler"},
		},
		{
			name:         "javascript url",
			payload:      `link=javascript:stealCookies()`,
			flagged:      true,
			severity:     event.SeverityHigh,
			eventType:    event.TypeSuspiciousInput,
			wantPatterns: []string{"markup_injection"},
		},
		{
			name:         "mixed sql and markup reports all matches",
			payload:      `<script>fetch('/x?q=' + "' OR 1=1 --")</script>`,
			flagged:      true,
			severity:     event.SeverityCritical,
			eventType:    event.TypeSQLInjectionAttempt,
			wantPatterns: []string{"sql_comment_terminator", "sql_boolean_injection", "markup_injection"},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			c := detector.Classify(tt.payload)
			assert.Equal(t, tt.flagged, c.Flagged)
			if !tt.flagged {
				assert.Empty(t, c.MatchedPatterns)
				return
			}
			assert.Equal(t, tt.severity, c.Severity)
			assert.Equal(t, tt.eventType, c.EventType)
			assert.Equal(t, tt.wantPatterns, c.MatchedPatterns,
				"matches come back in signature order")
		})
	}
}

func Test_Classify_Deterministic(t *testing.T) {
	detector := NewDetector()
	payload := `<script>document.write("' OR '1'='1")</script>`

	first := detector.Classify(payload)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, detector.Classify(payload))
	}
}

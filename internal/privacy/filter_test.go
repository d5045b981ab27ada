package privacy

import (
	"strings"
	"testing"
)

func TestRedactRestoreRoundTrip(t *testing.T) {
	s := NewSession()
	in := "Contact john@example.com or call 555-123-4567 about MRN: 8675309."

	redacted := s.Redact(in, LevelStandard)
	if strings.Contains(redacted, "john@example.com") {
		t.Errorf("email survived redaction: %q", redacted)
	}
	if strings.Contains(redacted, "8675309") {
		t.Errorf("MRN survived redaction: %q", redacted)
	}
	if !strings.Contains(redacted, "[EMAIL_REDACTED]_") {
		t.Errorf("missing email placeholder: %q", redacted)
	}

	if got := s.Restore(redacted); got != in {
		t.Errorf("round trip mismatch:\n got  %q\n want %q", got, in)
	}
}

func TestRedactSamePlaceholderForRepeatedOriginal(t *testing.T) {
	s := NewSession()
	first := s.Redact("mail a@b.com now", LevelBasic)
	second := s.Redact("again: a@b.com", LevelBasic)

	ph := strings.TrimPrefix(first, "mail ")
	ph = strings.TrimSuffix(ph, " now")
	if !strings.Contains(second, ph) {
		t.Errorf("repeated original got a different placeholder: %q vs %q", first, second)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestRedactMultipleMatchesSameLine(t *testing.T) {
	s := NewSession()
	out := s.Redact("a@b.com wrote to c@d.com", LevelBasic)
	if strings.Contains(out, "a@b.com") || strings.Contains(out, "c@d.com") {
		t.Fatalf("not all matches redacted: %q", out)
	}
	if got := s.Restore(out); got != "a@b.com wrote to c@d.com" {
		t.Errorf("restore mismatch: %q", got)
	}
}

func TestPlaceholdersNumberInTextOrder(t *testing.T) {
	s := NewSession()

	redacted := s.Redact("Call me at 555-123-4567, email a@b.com", LevelStandard)
	want := "Call me at [PHONE_REDACTED]_0, email [EMAIL_REDACTED]_1"
	if redacted != want {
		t.Fatalf("redacted = %q, want %q", redacted, want)
	}

	// A reply referencing the placeholders restores both originals.
	got := s.Restore("I'll call [PHONE_REDACTED]_0 about [EMAIL_REDACTED]_1")
	if got != "I'll call 555-123-4567 about a@b.com" {
		t.Errorf("restore = %q", got)
	}
}

func TestLevelSubsets(t *testing.T) {
	tests := []struct {
		name     string
		level    Level
		text     string
		redacted bool
	}{
		{"email at basic", LevelBasic, "hit x@y.io today", true},
		{"ip not at basic", LevelBasic, "server 10.0.0.1 down", false},
		{"ip at standard", LevelStandard, "server 10.0.0.1 down", true},
		{"name not at standard", LevelStandard, "tell Jane Porter", false},
		{"name at strict", LevelStrict, "tell Jane Porter", true},
		{"nothing at off", LevelOff, "x@y.io and 10.0.0.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession()
			out := s.Redact(tt.text, tt.level)
			if got := out != tt.text; got != tt.redacted {
				t.Errorf("Redact(%q, %v) = %q, redacted=%v want %v",
					tt.text, tt.level, out, got, tt.redacted)
			}
		})
	}
}

func TestRestoreLongestPlaceholderFirst(t *testing.T) {
	s := NewSession()
	// Mint enough placeholders that _1 and _12 coexist.
	var text strings.Builder
	for i := 0; i < 13; i++ {
		text.WriteString("u")
		text.WriteString(string(rune('a' + i)))
		text.WriteString("@ex.com ")
	}
	redacted := s.Redact(text.String(), LevelBasic)
	if got := s.Restore(redacted); got != text.String() {
		t.Errorf("restore clipped a placeholder:\n got  %q\n want %q", got, text.String())
	}
}

func TestClear(t *testing.T) {
	s := NewSession()
	redacted := s.Redact("a@b.com", LevelBasic)
	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len() after Clear = %d", s.Len())
	}
	// Placeholders from before the clear stay visible.
	if got := s.Restore(redacted); got != redacted {
		t.Errorf("Restore after Clear resolved a dropped mapping: %q", got)
	}
}

func TestRedactorFor(t *testing.T) {
	s := NewSession()
	if s.RedactorFor(LevelOff) != nil {
		t.Error("RedactorFor(LevelOff) should be nil")
	}
	fn := s.RedactorFor(LevelBasic)
	if fn == nil {
		t.Fatal("RedactorFor(LevelBasic) is nil")
	}
	if out := fn("a@b.com"); strings.Contains(out, "a@b.com") {
		t.Errorf("redactor left original in place: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"off", LevelOff},
		{"basic", LevelBasic},
		{"standard", LevelStandard},
		{"strict", LevelStrict},
		{"STRICT", LevelStrict},
		{"bogus", LevelStandard},
		{"", LevelStandard},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

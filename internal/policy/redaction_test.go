package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestPreviewText(t *testing.T) {
	got := PreviewText("hello\n\n  there   sam@example.com", 100)
	if got != "hello there [REDACTED_EMAIL]" {
		t.Fatalf("PreviewText() = %q", got)
	}
	if got := PreviewText("ünïcödé text here", 5); got != "ünïcö…" {
		t.Fatalf("PreviewText() truncated = %q", got)
	}
}

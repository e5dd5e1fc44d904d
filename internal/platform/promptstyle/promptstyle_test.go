package promptstyle

import (
	"strings"
	"testing"
)

func TestApplySystemOnce(t *testing.T) {
	out := ApplySystem("Write opening lines.", "json")
	if !strings.HasPrefix(out, marker) || !strings.HasSuffix(out, "Write opening lines.") {
		t.Fatalf("unexpected block: %q", out)
	}
	if !strings.Contains(out, "JSON object") {
		t.Fatalf("json mode guidance missing")
	}
	if again := ApplySystem(out, "json"); again != out {
		t.Fatalf("block applied twice")
	}
	if ApplySystem("  ", "text") != "" {
		t.Fatalf("empty system prompt should stay empty")
	}
}

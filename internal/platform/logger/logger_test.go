package logger

import "testing"

func TestSanitizeValue(t *testing.T) {
	redactOnce.Do(func() { redactionEnabled = true })

	if got := sanitizeValue("openai_api_key", "sk-live"); got != "[REDACTED]" {
		t.Fatalf("api key: got %v", got)
	}
	got, _ := sanitizeValue("session_id", "abc").(string)
	if len(got) != len("hash:")+12 {
		t.Fatalf("session id hash: got %q", got)
	}
	if got := sanitizeValue("transcript", "hello there"); got != "[11 chars]" {
		t.Fatalf("transcript: got %v", got)
	}
	if got := sanitizeValue("inputs", map[string]string{"topic": "x", "position": "pro"}); got != "[2 fields]" {
		t.Fatalf("inputs: got %v", got)
	}
	if got := sanitizeValue("phase", "generating"); got != "generating" {
		t.Fatalf("plain value changed: %v", got)
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("warn").String() != "warn" {
		t.Fatalf("warn not parsed")
	}
	if parseLevel("").String() != "debug" {
		t.Fatalf("default should be debug")
	}
}

package util

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"aidispatch/internal/core"
)

func TestParseEnvList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", nil},
		{"single", "key1", []string{"key1"}},
		{"multiple", "key1,key2,key3", []string{"key1", "key2", "key3"}},
		{"spaces", "key1, key2 , key3", []string{"key1", "key2", "key3"}},
		{"empty items", "key1,,key2,", []string{"key1", "key2"}},
		{"only spaces", "  ,  ,  ", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseEnvList(tt.input)
			if tt.expected == nil {
				if result != nil {
					t.Errorf("expected nil, got %v", result)
				}
				return
			}
			if len(result) != len(tt.expected) {
				t.Fatalf("expected %d items, got %d", len(tt.expected), len(result))
			}
			for i, expected := range tt.expected {
				if result[i] != expected {
					t.Errorf("index %d: expected %q, got %q", i, expected, result[i])
				}
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		input, replacement, expected string
		prefixLen, suffixLen         int
	}{
		{"short", "...", "short", 3, 3},
		{"1234567890", "...", "123...890", 3, 3},
		{"1234567890", "...", "...7890", 0, 4},
	}
	for _, tt := range tests {
		if got := TruncateString(tt.input, tt.prefixLen, tt.suffixLen, tt.replacement); got != tt.expected {
			t.Errorf("TruncateString(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestPreviewSecret(t *testing.T) {
	if got := PreviewSecret("gsk_1234567890abcdef"); got != "gsk_123456..." {
		t.Errorf("PreviewSecret = %q", got)
	}
	if got := PreviewSecret("abcd"); got != "ab..." {
		t.Errorf("PreviewSecret short = %q", got)
	}
}

func TestPromptPreview(t *testing.T) {
	long := strings.Repeat("word ", 40)
	got := PromptPreview(long)
	if len([]rune(got)) != core.PromptPreviewLength+3 {
		t.Errorf("unexpected preview length %d", len([]rune(got)))
	}
	if PromptPreview("  hello\n\nworld ") != "hello world" {
		t.Error("whitespace should collapse")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "x")
	t.Setenv("TEST_FLOAT", "0.9")
	t.Setenv("TEST_DUR_SECS", "30")
	t.Setenv("TEST_DUR", "1m30s")
	t.Setenv("TEST_BOOL", "Yes")

	if n, err := GetEnvInt("TEST_INT", 1); err != nil || n != 42 {
		t.Errorf("GetEnvInt = %d, %v", n, err)
	}
	if n, err := GetEnvInt("TEST_BAD_INT", 7); err == nil || n != 7 {
		t.Errorf("GetEnvInt bad = %d, %v", n, err)
	}
	if n, _ := GetEnvInt("TEST_MISSING", 5); n != 5 {
		t.Errorf("GetEnvInt missing = %d", n)
	}
	if f, err := GetEnvFloat("TEST_FLOAT", 0); err != nil || f != 0.9 {
		t.Errorf("GetEnvFloat = %v, %v", f, err)
	}
	if d, err := GetEnvDuration("TEST_DUR_SECS", 0); err != nil || d != 30*time.Second {
		t.Errorf("GetEnvDuration secs = %v, %v", d, err)
	}
	if d, err := GetEnvDuration("TEST_DUR", 0); err != nil || d != 90*time.Second {
		t.Errorf("GetEnvDuration = %v, %v", d, err)
	}
	if !GetEnvBool("TEST_BOOL") || GetEnvBool("TEST_MISSING") {
		t.Error("GetEnvBool mismatch")
	}
	if GetEnvWithDefault("TEST_MISSING", "d") != "d" {
		t.Error("GetEnvWithDefault mismatch")
	}
}

func TestNewJSONRequest(t *testing.T) {
	req, err := NewJSONRequest(context.Background(), http.MethodPost, "http://example.com/v1", map[string]string{"a": "b"}, map[string]string{
		core.HeaderAuthorization: core.AuthBearerPrefix + "k",
	})
	if err != nil {
		t.Fatalf("NewJSONRequest: %v", err)
	}
	if req.Header.Get(core.HeaderContentType) != core.ContentTypeJSON {
		t.Error("missing content type")
	}
	if req.Header.Get(core.HeaderAuthorization) != "Bearer k" {
		t.Error("missing authorization")
	}
	if req.Body == nil {
		t.Error("expected body")
	}
}

func TestGenerateRequestID(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	if a == b || len(a) != 36 {
		t.Errorf("unexpected ids %q %q", a, b)
	}
}

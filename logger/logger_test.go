package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"disputeflow/config"
)

func TestContextHandler_AddsFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.Config{Env: "production"}, &buf)

	ctx := WithLogFields(context.Background(), LogFields{DisputeID: Ptr("d-1"), Component: "test"})
	ctx = WithLogFields(ctx, LogFields{UserID: Ptr("u-1")})
	log.InfoContext(ctx, "hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["dispute_id"] != "d-1" || line["user_id"] != "u-1" || line["component"] != "test" {
		t.Fatalf("expected merged context fields, got %v", line)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 3); got != "abc..." {
		t.Fatalf("expected abc..., got %q", got)
	}
	if got := Truncate("ab", 3); got != "ab" {
		t.Fatalf("expected ab, got %q", got)
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("a", 99) + "€ rest"

	got := Truncate(s, 100)
	if !utf8.ValidString(got) {
		t.Fatalf("expected valid UTF-8, got %q", got)
	}
	if got != strings.Repeat("a", 99)+"..." {
		t.Fatalf("expected cut before the euro sign, got %q", got)
	}
	if got := Prefix("€€", 4); got != "€" {
		t.Fatalf("expected one euro sign, got %q", got)
	}
}

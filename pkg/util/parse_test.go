package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2025-06-01T00:00:00Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("ParseTime(%q) not ok", s)
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnixSeconds(t *testing.T) {
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("unix seconds not ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %d", got.Unix())
	}
}

func TestParseTimeUnixMillis(t *testing.T) {
	ms := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	got, ok := ParseTime(strconv.FormatInt(ms, 10))
	if !ok {
		t.Fatalf("unix millis not ok")
	}
	if got.UnixMilli() != ms {
		t.Fatalf("unexpected millis %d", got.UnixMilli())
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if got := ParseTimeDefault("", def); !got.Equal(def) {
		t.Errorf("empty input: got %v, want default", got)
	}
	if got := ParseTimeDefault("garbage", def); !got.Equal(def) {
		t.Errorf("bad input: got %v, want default", got)
	}
}

func TestParseIntDefault(t *testing.T) {
	if got := ParseIntDefault("42", 7); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	if got := ParseIntDefault("", 7); got != 7 {
		t.Errorf("empty: got %d, want 7", got)
	}
	if got := ParseIntDefault("x", 7); got != 7 {
		t.Errorf("bad: got %d, want 7", got)
	}
}

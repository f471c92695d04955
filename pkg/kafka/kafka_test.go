package kafka

import (
	"testing"
	"time"
)

func TestBackoffJitterBounds(t *testing.T) {
	lo, hi := 50*time.Millisecond, 2*time.Second
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffJitter(lo, hi, attempt)
		if d <= 0 || d > hi {
			t.Fatalf("attempt %d: backoff %v out of (0, %v]", attempt, d, hi)
		}
	}
}

func TestEncodeValue(t *testing.T) {
	raw, err := encodeValue([]byte(`{"a":1}`))
	if err != nil || string(raw) != `{"a":1}` {
		t.Fatalf("bytes passthrough: %s, %v", raw, err)
	}

	raw, err = encodeValue(map[string]int{"bars": 3})
	if err != nil || string(raw) != `{"bars":3}` {
		t.Fatalf("json encode: %s, %v", raw, err)
	}

	if _, err := encodeValue(make(chan int)); err == nil {
		t.Fatal("expected error for unencodable value")
	}
}

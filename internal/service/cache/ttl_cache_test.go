package cache

import (
	"testing"
	"time"
)

func TestTTLCacheRoundTrip(t *testing.T) {
	c := NewTTLCache()
	c.Set("retclose#12", 0.012, time.Hour)

	v, ok := c.Get("retclose#12")
	if !ok {
		t.Fatal("entry missing after Set")
	}
	if v.(float64) != 0.012 {
		t.Fatalf("value = %v", v)
	}
	if _, ok := c.Get("retclose#99"); ok {
		t.Fatal("absent key reported present")
	}
}

func TestTTLCacheZeroTTLNeverExpires(t *testing.T) {
	c := NewTTLCache()
	c.Set("pinned", "v", 0)

	if dropped := c.Cleanup(); dropped != 0 {
		t.Fatalf("Cleanup dropped %d, want 0", dropped)
	}
	if _, ok := c.Get("pinned"); !ok {
		t.Fatal("zero-ttl entry expired")
	}
}

func TestTTLCacheExpiryIsLazy(t *testing.T) {
	c := NewTTLCache()
	c.Set("ephemeral", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	// Still counted until observed or swept.
	if c.Len() != 1 {
		t.Fatalf("Len = %d before Get", c.Len())
	}
	if _, ok := c.Get("ephemeral"); ok {
		t.Fatal("expired entry served")
	}
	if c.Len() != 0 {
		t.Fatalf("Len = %d after expired Get", c.Len())
	}
}

func TestTTLCacheCleanup(t *testing.T) {
	c := NewTTLCache()
	c.Set("short", 1, time.Millisecond)
	c.Set("pinned", 2, 0)
	c.Set("long", 3, time.Hour)
	time.Sleep(5 * time.Millisecond)

	if dropped := c.Cleanup(); dropped != 1 {
		t.Fatalf("Cleanup dropped %d, want 1", dropped)
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d after Cleanup, want 2", c.Len())
	}
}

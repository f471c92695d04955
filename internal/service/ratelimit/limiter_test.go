package ratelimit

import "testing"

func TestAllowDrainsBurst(t *testing.T) {
	l := New()
	// zero refill: exactly capacity requests pass
	for i := 0; i < 3; i++ {
		if !l.Allow("k", 3, 0) {
			t.Fatalf("request %d denied inside burst", i)
		}
	}
	if l.Allow("k", 3, 0) {
		t.Errorf("request beyond capacity allowed")
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	l := New()
	if !l.Allow("a", 1, 0) {
		t.Fatalf("first request on a denied")
	}
	if l.Allow("a", 1, 0) {
		t.Errorf("second request on a allowed")
	}
	if !l.Allow("b", 1, 0) {
		t.Errorf("fresh key b denied")
	}
}

func TestAllowZeroCapacity(t *testing.T) {
	l := New()
	if l.Allow("k", 0, 0) {
		t.Errorf("zero-capacity bucket allowed a request")
	}
}

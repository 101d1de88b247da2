package scoring

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestBucketCounterScores(t *testing.T) {
	c := NewBucketCounter(time.Second, 10, 3)

	// Three events in the current bucket, two in older ones.
	c.Add(t0, 1)
	c.Add(t0, 1)
	c.Add(t0.Add(4*time.Second), 1)
	c.Add(t0.Add(5*time.Second), 1)
	c.Add(t0.Add(5*time.Second), 1)

	now := t0.Add(5 * time.Second)
	if got := c.FullScore(now); got != 5 {
		t.Fatalf("FullScore = %v, want 5", got)
	}
	// Short horizon: buckets at 5s, 4s, 3s -> 2 + 1 + 0.
	if got := c.ShortScore(now); got != 3 {
		t.Fatalf("ShortScore = %v, want 3", got)
	}
}

func TestBucketCounterExpiry(t *testing.T) {
	c := NewBucketCounter(time.Second, 5, 2)
	c.Add(t0, 10)

	// Still inside the window.
	if got := c.FullScore(t0.Add(4 * time.Second)); got != 10 {
		t.Fatalf("FullScore before expiry = %v, want 10", got)
	}
	// Weight falls off once it ages past the full window.
	if got := c.FullScore(t0.Add(10 * time.Second)); got != 0 {
		t.Fatalf("FullScore after expiry = %v, want 0", got)
	}
}

func TestBucketCounterOutOfOrderAdd(t *testing.T) {
	c := NewBucketCounter(time.Second, 5, 2)
	c.Add(t0.Add(3*time.Second), 1)
	// An older timestamp lands in the newest bucket; history never reopens.
	c.Add(t0, 1)
	if got := c.ShortScore(t0.Add(3 * time.Second)); got != 2 {
		t.Fatalf("ShortScore = %v, want 2", got)
	}
}

func TestBucketCounterRates(t *testing.T) {
	c := NewBucketCounter(time.Second, 10, 5)
	for i := 0; i < 10; i++ {
		c.Add(t0.Add(time.Duration(i)*time.Second), 2)
	}
	now := t0.Add(9 * time.Second)
	if got := c.FullRate(now); got != 2 {
		t.Fatalf("FullRate = %v, want 2", got)
	}
	if got := c.ShortRate(now); got != 2 {
		t.Fatalf("ShortRate = %v, want 2", got)
	}
}

func TestBucketCounterRoundTrip(t *testing.T) {
	c := NewBucketCounter(time.Second, 5, 2)
	c.Add(t0, 3)
	c.Add(t0.Add(2*time.Second), 1)

	got := BucketCounterFromMap(c.ToMap(), time.Second, 5, 2)
	now := t0.Add(2 * time.Second)
	if got.FullScore(now) != c.FullScore(now) {
		t.Fatalf("restored FullScore = %v, want %v", got.FullScore(now), c.FullScore(now))
	}
	if got.ShortScore(now) != c.ShortScore(now) {
		t.Fatalf("restored ShortScore = %v, want %v", got.ShortScore(now), c.ShortScore(now))
	}
}

func TestBucketCounterFromMapDiscardsMismatch(t *testing.T) {
	c := NewBucketCounter(time.Second, 5, 2)
	c.Add(t0, 3)

	// Changed bucket width between deployments: history is discarded.
	fresh := BucketCounterFromMap(c.ToMap(), 2*time.Second, 5, 2)
	if got := fresh.FullScore(t0); got != 0 {
		t.Fatalf("FullScore after parameter change = %v, want 0", got)
	}

	// Nil and malformed maps yield fresh counters.
	if got := BucketCounterFromMap(nil, time.Second, 5, 2).FullScore(t0); got != 0 {
		t.Fatalf("FullScore from nil map = %v, want 0", got)
	}
	if got := BucketCounterFromMap(map[string]any{"buckets": "x"}, time.Second, 5, 2).FullScore(t0); got != 0 {
		t.Fatalf("FullScore from malformed map = %v, want 0", got)
	}
}

package scoring

import (
	"time"
)

// BucketCounter is a fixed-width time-bucket histogram used to estimate
// event rates over two horizons at once: the full window (all buckets) and
// a short-term window (the most recent few buckets). Buckets shift as time
// advances; weights older than the full window fall off the end.
//
// The zero bucket always covers the most recent timestamp the counter has
// seen. Adds with timestamps older than the current bucket are credited to
// it rather than re-opening history, since producers send batches roughly
// in timestamp order but the counter does not enforce sequencing.
type BucketCounter struct {
	bucketMS int64
	short    int
	buckets  []float64
	head     int64 // bucket index (unix ms / bucketMS) covered by buckets[0]
}

// NewBucketCounter creates a counter with total buckets of the given width,
// of which the first short buckets form the short-term horizon.
func NewBucketCounter(bucketWidth time.Duration, total, short int) *BucketCounter {
	if total < 1 {
		total = 1
	}
	if short < 1 {
		short = 1
	}
	if short > total {
		short = total
	}
	return &BucketCounter{
		bucketMS: bucketWidth.Milliseconds(),
		short:    short,
		buckets:  make([]float64, total),
	}
}

// shift advances the bucket window so buckets[0] covers ts. Never moves
// backwards.
func (c *BucketCounter) shift(ts time.Time) {
	idx := ts.UnixMilli() / c.bucketMS
	if c.head == 0 {
		c.head = idx
		return
	}
	d := idx - c.head
	if d <= 0 {
		return
	}
	if d >= int64(len(c.buckets)) {
		for i := range c.buckets {
			c.buckets[i] = 0
		}
	} else {
		copy(c.buckets[d:], c.buckets[:int64(len(c.buckets))-d])
		for i := int64(0); i < d; i++ {
			c.buckets[i] = 0
		}
	}
	c.head = idx
}

// Add credits weight to the bucket covering ts.
func (c *BucketCounter) Add(ts time.Time, weight float64) {
	c.shift(ts)
	c.buckets[0] += weight
}

// FullScore returns the sum over the full window as of now.
func (c *BucketCounter) FullScore(now time.Time) float64 {
	c.shift(now)
	var sum float64
	for _, w := range c.buckets {
		sum += w
	}
	return sum
}

// ShortScore returns the sum over the short-term window as of now.
func (c *BucketCounter) ShortScore(now time.Time) float64 {
	c.shift(now)
	var sum float64
	for _, w := range c.buckets[:c.short] {
		sum += w
	}
	return sum
}

// FullWindow is the span covered by all buckets.
func (c *BucketCounter) FullWindow() time.Duration {
	return time.Duration(c.bucketMS*int64(len(c.buckets))) * time.Millisecond
}

// ShortWindow is the span covered by the short-term buckets.
func (c *BucketCounter) ShortWindow() time.Duration {
	return time.Duration(c.bucketMS*int64(c.short)) * time.Millisecond
}

// FullRate normalizes the full score to events per second, for rate-based
// checks.
func (c *BucketCounter) FullRate(now time.Time) float64 {
	return c.FullScore(now) / c.FullWindow().Seconds()
}

// ShortRate normalizes the short-term score to events per second.
func (c *BucketCounter) ShortRate(now time.Time) float64 {
	return c.ShortScore(now) / c.ShortWindow().Seconds()
}

// ToMap serializes the counter for storage in a module state blob.
func (c *BucketCounter) ToMap() map[string]any {
	buckets := make([]any, len(c.buckets))
	for i, w := range c.buckets {
		buckets[i] = w
	}
	return map[string]any{
		"bucket_ms": c.bucketMS,
		"short":     c.short,
		"head":      c.head,
		"buckets":   buckets,
	}
}

// BucketCounterFromMap restores a counter serialized with ToMap. Numeric
// values may arrive as float64 after a JSON round trip. A nil or malformed
// map yields a fresh counter with the given parameters.
func BucketCounterFromMap(m map[string]any, bucketWidth time.Duration, total, short int) *BucketCounter {
	c := NewBucketCounter(bucketWidth, total, short)
	if m == nil {
		return c
	}
	raw, ok := m["buckets"].([]any)
	if !ok || len(raw) != len(c.buckets) {
		return c
	}
	if ms := asInt64(m["bucket_ms"]); ms != c.bucketMS {
		// Parameters changed between deployments; discard old history.
		return c
	}
	for i, v := range raw {
		c.buckets[i] = asFloat(v)
	}
	c.head = asInt64(m["head"])
	return c
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

package sequencer

import (
	"sync"
	"testing"
	"time"
)

func TestSequencerOrdersPerKey(t *testing.T) {
	s := New()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		s.Do("key", func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	s.Wait()

	if len(got) != 50 {
		t.Fatalf("ran %d functions, want 50", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("position %d ran function %d, out of order", i, v)
		}
	}
}

func TestSequencerKeysRunInParallel(t *testing.T) {
	s := New()

	release := make(chan struct{})
	otherRan := make(chan struct{})

	// Key a blocks until released; key b must not wait for it.
	s.Do("a", func() { <-release })
	s.Do("b", func() { close(otherRan) })

	select {
	case <-otherRan:
	case <-time.After(2 * time.Second):
		t.Fatal("independent key blocked behind a busy one")
	}
	close(release)
	s.Wait()
}

func TestSequencerReusesKeyAfterDrain(t *testing.T) {
	s := New()

	ran := 0
	s.Do("k", func() { ran++ })
	s.Wait()
	s.Do("k", func() { ran++ })
	s.Wait()

	if ran != 2 {
		t.Fatalf("ran = %d, want 2", ran)
	}
}

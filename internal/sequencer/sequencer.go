// Package sequencer provides per-key FIFO execution: functions submitted
// under the same key run strictly in submission order, while distinct keys
// run in parallel. It is the serialization layer behind the state store's
// last-write-wins contract: the dispatcher keys deliveries by
// (server, module) and module servers key check execution by server, so a
// state read-modify-write window never overlaps itself for one server's
// batches.
package sequencer

import "sync"

// Sequencer runs functions submitted under the same key strictly in
// submission order.
type Sequencer struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
}

func New() *Sequencer {
	return &Sequencer{queues: make(map[string][]func())}
}

// Do schedules fn under key. Returns immediately; fn runs on a per-key
// goroutine after every previously submitted fn for that key has finished.
func (s *Sequencer) Do(key string, fn func()) {
	s.mu.Lock()
	if q, ok := s.queues[key]; ok {
		s.queues[key] = append(q, fn)
		s.mu.Unlock()
		return
	}
	s.queues[key] = nil
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(key, fn)
}

func (s *Sequencer) run(key string, fn func()) {
	defer s.wg.Done()
	for {
		fn()

		s.mu.Lock()
		q := s.queues[key]
		if len(q) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		fn = q[0]
		s.queues[key] = q[1:]
		s.mu.Unlock()
	}
}

// Wait blocks until every scheduled function has finished. Callers must not
// submit concurrently with Wait.
func (s *Sequencer) Wait() {
	s.wg.Wait()
}

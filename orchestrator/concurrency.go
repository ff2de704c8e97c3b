package orchestrator

import "context"

// semaphore bounds the number of concurrent browser scans. It is the
// channel-based shape of the teacher's adaptive page pool, stripped down to
// just the concurrency-slot mechanism — this service runs a single shared
// browser and needs a scan-count bound, not page health scoring.
type semaphore struct {
	slots chan struct{}
}

func newSemaphore(n int) *semaphore {
	if n < 1 {
		n = 1
	}
	return &semaphore{slots: make(chan struct{}, n)}
}

// acquire blocks until a slot is free or ctx is done.
func (s *semaphore) acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *semaphore) release() {
	<-s.slots
}

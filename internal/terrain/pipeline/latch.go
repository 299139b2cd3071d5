package pipeline

import "sync"

// keyedLatch serializes artifact computation per store key within one
// process. The store itself is write-once, so the latch is not needed for
// correctness; it keeps a second concurrent run from recomputing an artifact
// the first is already writing.
type keyedLatch struct {
	mu    sync.Mutex
	inUse map[string]chan struct{}
}

func newKeyedLatch() *keyedLatch {
	return &keyedLatch{inUse: make(map[string]chan struct{})}
}

// acquire blocks until the key is free and claims it. The returned function
// releases the claim.
func (l *keyedLatch) acquire(key string) func() {
	for {
		l.mu.Lock()
		ch, held := l.inUse[key]
		if !held {
			done := make(chan struct{})
			l.inUse[key] = done
			l.mu.Unlock()
			return func() {
				l.mu.Lock()
				delete(l.inUse, key)
				l.mu.Unlock()
				close(done)
			}
		}
		l.mu.Unlock()
		<-ch
	}
}

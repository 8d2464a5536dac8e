package terminal

import "sync"

// replayBuffer keeps the most recent terminal output so a newly attached
// viewer can redraw the screen
type replayBuffer struct {
	data     []byte
	size     int
	writePos int
	count    int
	mu       sync.RWMutex
}

func newReplayBuffer(size int) *replayBuffer {
	if size <= 0 {
		size = 64 * 1024
	}
	return &replayBuffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends data, overwriting the oldest bytes once full
func (rb *replayBuffer) Write(p []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(p) >= rb.size {
		copy(rb.data, p[len(p)-rb.size:])
		rb.writePos = 0
		rb.count = rb.size
		return
	}

	n := copy(rb.data[rb.writePos:], p)
	if n < len(p) {
		copy(rb.data, p[n:])
	}
	rb.writePos = (rb.writePos + len(p)) % rb.size
	rb.count += len(p)
	if rb.count > rb.size {
		rb.count = rb.size
	}
}

// Snapshot returns the buffered bytes in the order they were written
func (rb *replayBuffer) Snapshot() []byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return nil
	}

	result := make([]byte, rb.count)
	if rb.count < rb.size {
		copy(result, rb.data[:rb.count])
		return result
	}

	// Full: oldest byte sits at writePos
	n := copy(result, rb.data[rb.writePos:])
	copy(result[n:], rb.data[:rb.writePos])
	return result
}

// Len returns the number of buffered bytes
func (rb *replayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

package jobs

import (
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/agentrun/agentrun/types"
)

// UserLimiter caps the number of pending interactive requests per user. The
// orchestrator releases the slot on every exit path, including the superseded
// short-circuit.
type UserLimiter struct {
	max  int64
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewUserLimiter creates a limiter allowing max concurrent pending requests
// per user. max <= 0 disables limiting.
func NewUserLimiter(max int) *UserLimiter {
	return &UserLimiter{
		max:  int64(max),
		sems: make(map[string]*semaphore.Weighted),
	}
}

// Acquire reserves a pending-request slot for the user. It never blocks; a
// user at the cap gets a TOO_MANY_REQUESTS error.
func (l *UserLimiter) Acquire(userID string) error {
	if l.max <= 0 {
		return nil
	}
	if !l.sem(userID).TryAcquire(1) {
		return types.NewError(types.ErrTooManyRequests, "too many pending requests").
			WithHTTPStatus(429).
			WithRetryable(true)
	}
	return nil
}

// Release frees a previously acquired slot.
func (l *UserLimiter) Release(userID string) {
	if l.max <= 0 {
		return
	}
	l.sem(userID).Release(1)
}

func (l *UserLimiter) sem(userID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[userID]
	if !ok {
		s = semaphore.NewWeighted(l.max)
		l.sems[userID] = s
	}
	return s
}

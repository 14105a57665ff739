package auth

import (
	"sync"
	"time"
)

// RevocationList holds the ids of tokens that were logged out before they
// expired. Entries are dropped once the token would have expired anyway.
// It is process-local; a restart forgets revocations, which the token TTL
// bounds.
type RevocationList struct {
	mu      sync.RWMutex
	entries map[string]time.Time // jti -> token expiry
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewRevocationList starts a list that sweeps expired entries every
// interval. Call Close to stop the sweeper.
func NewRevocationList(interval time.Duration) *RevocationList {
	l := &RevocationList{
		entries: make(map[string]time.Time),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if interval > 0 {
		go l.cleanupLoop(interval)
	}
	return l
}

// Revoke marks jti revoked until expiresAt.
func (l *RevocationList) Revoke(jti string, expiresAt time.Time) {
	if jti == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[jti] = expiresAt
}

// IsRevoked reports whether jti has been revoked.
func (l *RevocationList) IsRevoked(jti string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[jti]
	return ok
}

// Count returns the number of tracked revocations.
func (l *RevocationList) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Close stops the sweeper. Safe to call more than once.
func (l *RevocationList) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *RevocationList) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *RevocationList) cleanup() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for jti, exp := range l.entries {
		if now.After(exp) {
			delete(l.entries, jti)
		}
	}
}

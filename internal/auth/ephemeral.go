package auth

import (
	"sync"
	"time"
)

// sweepInterval is how often the ephemeral stores scan for expired
// entries. Expiry checks on the read path make precision unnecessary.
const sweepInterval = time.Minute

// RateLimiter tracks recently-used keys with idle expiry. An entry
// lives until it has gone unseen for the idle window; both Insert and
// a Contains hit refresh it.
//
// State is in-memory only. Loss on restart degrades to a reset rate
// limit, which is acceptable.
type RateLimiter struct {
	idle time.Duration

	mu      sync.Mutex
	entries map[string]time.Time // key -> last touch
	stop    chan struct{}
	done    chan struct{}
}

// NewRateLimiter creates a limiter with the given idle window and
// starts its background sweeper. Close must be called on shutdown.
func NewRateLimiter(idle time.Duration) *RateLimiter {
	rl := &RateLimiter{
		idle:    idle,
		entries: make(map[string]time.Time),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Contains reports whether key is present and not idle-expired. A hit
// refreshes the entry's idle timer.
func (rl *RateLimiter) Contains(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	touched, ok := rl.entries[key]
	if !ok {
		return false
	}
	if time.Since(touched) > rl.idle {
		delete(rl.entries, key)
		return false
	}
	rl.entries[key] = time.Now()
	return true
}

// Insert records key with a fresh idle timer.
func (rl *RateLimiter) Insert(key string) {
	rl.mu.Lock()
	rl.entries[key] = time.Now()
	rl.mu.Unlock()
}

// Close stops the background sweeper.
func (rl *RateLimiter) Close() {
	close(rl.stop)
	<-rl.done
}

func (rl *RateLimiter) sweep() {
	defer close(rl.done)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for key, touched := range rl.entries {
				if time.Since(touched) > rl.idle {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// CodeStore holds single-use verification codes with TTL expiry.
// Take atomically removes a code, so each code verifies at most once
// no matter how many requests race on it.
type CodeStore struct {
	ttl time.Duration

	mu    sync.Mutex
	codes map[string]codeEntry
	stop  chan struct{}
	done  chan struct{}
}

type codeEntry struct {
	userID  uint64
	expires time.Time
}

// NewCodeStore creates a store with the given code lifetime and starts
// its background sweeper. Close must be called on shutdown.
func NewCodeStore(ttl time.Duration) *CodeStore {
	cs := &CodeStore{
		ttl:   ttl,
		codes: make(map[string]codeEntry),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go cs.sweep()
	return cs
}

// Insert stores a code for the given account. A reissued code for the
// same account simply coexists with earlier ones until they expire.
func (cs *CodeStore) Insert(code string, userID uint64) {
	cs.mu.Lock()
	cs.codes[code] = codeEntry{userID: userID, expires: time.Now().Add(cs.ttl)}
	cs.mu.Unlock()
}

// Take removes and returns the account bound to code. The second
// return is false for an unknown or expired code, and for any
// subsequent Take of a code already consumed.
func (cs *CodeStore) Take(code string) (uint64, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	entry, ok := cs.codes[code]
	if !ok {
		return 0, false
	}
	delete(cs.codes, code)
	if time.Now().After(entry.expires) {
		return 0, false
	}
	return entry.userID, true
}

// Close stops the background sweeper.
func (cs *CodeStore) Close() {
	close(cs.stop)
	<-cs.done
}

func (cs *CodeStore) sweep() {
	defer close(cs.done)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.stop:
			return
		case <-ticker.C:
			cs.mu.Lock()
			now := time.Now()
			for code, entry := range cs.codes {
				if now.After(entry.expires) {
					delete(cs.codes, code)
				}
			}
			cs.mu.Unlock()
		}
	}
}

package router

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// actionKind distinguishes the three independent per-user cooldowns
type actionKind int

const (
	actionReply actionKind = iota
	actionDM
	actionZapThanks
)

func (k actionKind) String() string {
	switch k {
	case actionDM:
		return "dm"
	case actionZapThanks:
		return "zap_thanks"
	default:
		return "reply"
	}
}

// userThrottle tracks cooldown clocks and at most one pending deferred
// retry timer per action kind for a single user.
type userThrottle struct {
	mu          sync.Mutex
	lastReplyAt time.Time
	lastDMAt    time.Time
	lastZapAt   time.Time
	pending     [3]*time.Timer
}

// throttleTable holds per-user throttle state keyed by pubkey
type throttleTable struct {
	users    *xsync.MapOf[string, *userThrottle]
	cooldown [3]time.Duration
}

func newThrottleTable(replySec, dmSec, zapSec int) *throttleTable {
	return &throttleTable{
		users: xsync.NewMapOf[string, *userThrottle](),
		cooldown: [3]time.Duration{
			actionReply:     time.Duration(replySec) * time.Second,
			actionDM:        time.Duration(dmSec) * time.Second,
			actionZapThanks: time.Duration(zapSec) * time.Second,
		},
	}
}

func (t *throttleTable) get(pubkey string) *userThrottle {
	u, _ := t.users.LoadOrStore(pubkey, &userThrottle{})
	return u
}

// ready reports whether the user is past cooldown for the action, and if
// not, how long until they are.
func (t *throttleTable) ready(pubkey string, kind actionKind) (bool, time.Duration) {
	u := t.get(pubkey)
	u.mu.Lock()
	defer u.mu.Unlock()

	var last time.Time
	switch kind {
	case actionDM:
		last = u.lastDMAt
	case actionZapThanks:
		last = u.lastZapAt
	default:
		last = u.lastReplyAt
	}

	remaining := t.cooldown[kind] - time.Since(last)
	if remaining > 0 {
		return false, remaining
	}
	return true, 0
}

// mark records a completed action, starting the cooldown clock
func (t *throttleTable) mark(pubkey string, kind actionKind) {
	u := t.get(pubkey)
	u.mu.Lock()
	defer u.mu.Unlock()

	now := time.Now()
	switch kind {
	case actionDM:
		u.lastDMAt = now
	case actionZapThanks:
		u.lastZapAt = now
	default:
		u.lastReplyAt = now
	}
}

// schedule arms a single deferred retry for the user and kind. A second
// arrival while one is pending is a no-op; returns false in that case.
// The callback runs on its own goroutine and must re-validate all state.
func (t *throttleTable) schedule(pubkey string, kind actionKind, delay time.Duration, fn func()) bool {
	u := t.get(pubkey)
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.pending[kind] != nil {
		return false
	}

	u.pending[kind] = time.AfterFunc(delay, func() {
		u.mu.Lock()
		u.pending[kind] = nil
		u.mu.Unlock()
		fn()
	})
	return true
}

// cancelPending stops a pending deferred retry, if any. A zap receipt uses
// this to pre-empt the user's scheduled mention reply.
func (t *throttleTable) cancelPending(pubkey string, kind actionKind) bool {
	u, ok := t.users.Load(pubkey)
	if !ok {
		return false
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.pending[kind] == nil {
		return false
	}
	u.pending[kind].Stop()
	u.pending[kind] = nil
	return true
}

// stopAll cancels every pending timer. Called on shutdown.
func (t *throttleTable) stopAll() {
	t.users.Range(func(_ string, u *userThrottle) bool {
		u.mu.Lock()
		for i, timer := range u.pending {
			if timer != nil {
				timer.Stop()
				u.pending[i] = nil
			}
		}
		u.mu.Unlock()
		return true
	})
}

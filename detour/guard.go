package detour

import (
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// Guard is the per-thread reentrancy flag. Hook internals (allocating,
// logging, resolving the channel) themselves invoke entry points that
// are hooked; while a thread holds a token, any interception on that
// thread must short-circuit to Bypass(Reentrant) or the process would
// recurse into its own hooks.
//
// The flag is strictly per OS thread; concurrent calls on different
// threads are independent.
type Guard struct {
	mu   sync.Mutex
	held map[int]struct{} // keyed by tid
}

// NewGuard creates an empty guard
func NewGuard() *Guard {
	return &Guard{held: make(map[int]struct{})}
}

// Enter acquires the flag for the calling thread. The goroutine is
// pinned to its OS thread for the lifetime of the token so the tid
// stays meaningful. Returns false if the flag is already held, in
// which case nothing was acquired.
func (g *Guard) Enter() (*Token, bool) {
	runtime.LockOSThread()
	tid := unix.Gettid()

	g.mu.Lock()
	_, reentrant := g.held[tid]
	if !reentrant {
		g.held[tid] = struct{}{}
	}
	g.mu.Unlock()

	if reentrant {
		runtime.UnlockOSThread()
		return nil, false
	}
	return &Token{guard: g, tid: tid}, true
}

// Held reports whether the calling thread currently holds the flag
func (g *Guard) Held() bool {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	tid := unix.Gettid()

	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[tid]
	return ok
}

// Token is the scoped acquisition of the guard. Exit must run on every
// path out of the guarded region; it is idempotent so `defer tok.Exit()`
// is always safe.
type Token struct {
	guard *Guard
	tid   int
	done  bool
}

// Exit restores the thread's flag and unpins the goroutine
func (t *Token) Exit() {
	if t == nil || t.done {
		return
	}
	t.done = true

	t.guard.mu.Lock()
	delete(t.guard.held, t.tid)
	t.guard.mu.Unlock()

	runtime.UnlockOSThread()
}

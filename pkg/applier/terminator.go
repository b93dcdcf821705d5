package applier

import "sync"

// Terminator is a process-wide "block exit" flag: engaging it signals that
// the process must not be interrupted, and callers waiting to shut down
// cleanly must block until every engagement has been released. It guards
// non-idempotent operation dispatch and the checkpoint persistence that
// follows it.
type Terminator struct {
	mu      sync.Mutex
	cond    *sync.Cond
	engaged int
}

// NewTerminator creates a Terminator with no active engagements.
func NewTerminator() *Terminator {
	t := &Terminator{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Engage marks the start of a critical section that must not be interrupted.
// Multiple engagements nest; the process is considered blocked from exiting
// as long as at least one is outstanding.
func (t *Terminator) Engage() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.engaged++
}

// Release ends one engagement. It panics if called without a matching
// Engage, since that indicates a bug in the engine's step accounting.
func (t *Terminator) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.engaged == 0 {
		panic("terminator released without a matching engagement")
	}
	t.engaged--
	if t.engaged == 0 {
		t.cond.Broadcast()
	}
}

// WaitUntilSafeToExit blocks until no engagements are outstanding. It is the
// hook a host shutdown path calls before actually exiting the process.
func (t *Terminator) WaitUntilSafeToExit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.engaged > 0 {
		t.cond.Wait()
	}
}

// Engaged reports whether the terminator currently has an outstanding
// engagement, for tests and diagnostics.
func (t *Terminator) Engaged() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.engaged > 0
}

// File: reactor/scope.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "sync/atomic"

// Scope is the cancellation root for continuations spawned onto a
// Poller. Operations and loop re-entries consult StopRequested before
// arming; once a stop is requested the poller drops in-flight interests
// so that Wait returns false in bounded time.
type Scope struct {
	p    *Poller
	stop atomic.Bool
}

// NewScope binds a scope to the poller it governs.
func NewScope(p *Poller) *Scope {
	return &Scope{p: p}
}

// Spawn schedules fn onto the poller's completion queue. It runs on the
// loop thread during a subsequent Wait step.
func (s *Scope) Spawn(fn func()) {
	s.p.post(fn)
}

// RequestStop triggers the scope's stop token and cancels the poller.
// Idempotent.
func (s *Scope) RequestStop() {
	if !s.stop.Swap(true) {
		s.p.cancel()
	}
}

// StopRequested reports whether RequestStop has been called.
func (s *Scope) StopRequested() bool {
	return s.stop.Load()
}

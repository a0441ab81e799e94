// File: service/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The asynchronous context: scope, poller, stop latch, pending-signal
// mask and the event-loop interrupt cell.

package service

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/momentics/segbus/reactor"
)

// Signal is a numeric control event delivered from outside the worker
// thread into the event loop.
type Signal int

// Valid signals. sigEnd is the exclusive upper bound.
const (
	Terminate Signal = iota
	User1
	sigEnd
)

// Interrupt is a thread-safe, replaceable callable used to wake the
// event loop. It is shared between a single producer (the thread issuing
// signals) and a single consumer (the loop thread).
type Interrupt struct {
	mu sync.Mutex
	fn func()
}

// Assign replaces the stored callable. Assigning nil clears the cell.
func (i *Interrupt) Assign(fn func()) {
	i.mu.Lock()
	i.fn = fn
	i.mu.Unlock()
}

// Present reports whether a callable is installed.
func (i *Interrupt) Present() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fn != nil
}

// Invoke snapshots the callable under the lock and calls the snapshot
// outside it, so the callable may safely reassign or clear the cell.
// Invoking an empty cell is a programmer error; callers must check
// Present first.
func (i *Interrupt) Invoke() {
	i.mu.Lock()
	fn := i.fn
	i.mu.Unlock()
	if fn == nil {
		panic("service: invoking an unassigned interrupt")
	}
	fn()
}

// InvokeIfPresent atomically checks the cell and invokes the callable
// when one is installed, reporting whether it fired. prepare, when
// non-nil, runs under the cell lock after the presence check, so the
// state it publishes is in place before the wake lands. The callable
// itself runs outside the lock. An empty cell fires nothing, runs no
// prepare and reports false.
func (i *Interrupt) InvokeIfPresent(prepare func()) bool {
	i.mu.Lock()
	fn := i.fn
	if fn != nil && prepare != nil {
		prepare()
	}
	i.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Context is the per-worker bundle of event-loop state. It is
// constructed inert and must not be copied once continuations have been
// spawned, since they capture its address.
type Context struct {
	Scope     *reactor.Scope
	Poller    *reactor.Poller
	Interrupt Interrupt

	stopped atomic.Bool
	sigmask atomic.Uint64
}

// NewContext creates an inert context: no interrupt installed, nothing
// pending, not stopped.
func NewContext() *Context {
	c := &Context{}
	c.init()
	return c
}

func (c *Context) init() {
	c.Poller = reactor.NewPoller()
	c.Scope = reactor.NewScope(c.Poller)
}

// Stopped reports whether the event loop has finished its teardown.
func (c *Context) Stopped() bool {
	return c.stopped.Load()
}

// DrainSignals atomically takes the pending-signal mask, leaving it
// empty. Bit i set means Signal(i) is pending.
func (c *Context) DrainSignals() uint64 {
	return c.sigmask.Swap(0)
}

// Signal marks sig pending and wakes the event loop. If no interrupt is
// installed the call is a no-op: the worker has not armed the cell yet,
// or has already torn it down. The check and the wake are one atomic
// step on the cell, so a concurrent teardown cannot slip between them.
// Signals outside the valid range are a programmer error.
func (c *Context) Signal(sig Signal) {
	if sig < 0 || sig >= sigEnd {
		panic(fmt.Sprintf("service: signal %d out of range", sig))
	}
	c.Interrupt.InvokeIfPresent(func() {
		atomicOrUint64(&c.sigmask, 1<<uint(sig))
	})
}

// atomicOrUint64 atomically ORs bits into v, equivalent to the
// standard library's atomic.Uint64.Or (added in Go 1.23).
func atomicOrUint64(v *atomic.Uint64, bits uint64) {
	for {
		old := v.Load()
		if v.CompareAndSwap(old, old|bits) {
			return
		}
	}
}

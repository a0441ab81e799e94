// File: service/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The async worker: one OS thread per service, driving the poller until
// a terminate signal drains the loop.

package service

import (
	"runtime"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/segbus/reactor"
	"github.com/momentics/segbus/sockets"
)

// Service is the capability set a worker-hosted service must provide.
// Both methods run on the loop thread and must not block outside the
// reactor's operations.
type Service interface {
	// SignalHandler dispatches one control signal.
	SignalHandler(sig Signal)
	// Start begins the service on the context, typically binding a
	// listener and spawning its accept loop.
	Start(ctx *Context)
}

// socketpair is a seam for fault-injection tests.
var socketpair = sockets.Socketpair

// isrScratch receives wake tokens. A single buffer suffices: only one
// ISR continuation is in flight at a time.
var isrScratch [256]byte

// Worker runs a service on a dedicated OS thread with its own
// asynchronous context. Workers are neither copyable nor reusable.
type Worker[S Service] struct {
	Context

	construct func() S
	started   atomic.Bool
	done      chan struct{}
}

// NewWorker creates a worker that will build its service with construct
// on the loop thread.
func NewWorker[S Service](construct func() S) *Worker[S] {
	w := &Worker[S]{construct: construct, done: make(chan struct{})}
	w.Context.init()
	return w
}

// Start launches the worker thread and returns immediately. The parent
// must wait on cv until Interrupt.Present() or Stopped() before issuing
// signals. mtx guards the interrupt installation against that wait.
func (w *Worker[S]) Start(mtx *sync.Mutex, cv *sync.Cond) {
	if w.started.Swap(true) {
		return
	}
	go w.run(mtx, cv)
}

// Close posts Terminate and joins the worker thread. Safe to call even
// after the loop has already stopped; signaling a torn-down context is a
// no-op.
func (w *Worker[S]) Close() {
	if !w.started.Load() {
		return
	}
	w.Signal(Terminate)
	<-w.done
}

func (w *Worker[S]) run(mtx *sync.Mutex, cv *sync.Cond) {
	defer close(w.done)

	// The context is single-threaded cooperative; keep the loop on one
	// OS thread for its whole lifetime.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	svc := w.construct()

	mtx.Lock()
	pair, err := socketpair()
	if err != nil {
		log.WithField("domain", "service").WithError(err).Debug("worker wake channel")
		w.teardown(-1)
		mtx.Unlock()
		cv.Broadcast()
		return
	}
	wfd := pair[1]
	w.Interrupt.Assign(func() {
		var token [1]byte
		_, _ = unix.Write(wfd, token[:])
	})
	mtx.Unlock()

	w.isr(w.Poller.Emplace(pair[0]), func() bool {
		mask := w.DrainSignals()
		for sig := Signal(0); mask>>uint(sig) != 0; sig++ {
			if mask>>uint(sig)&1 == 1 {
				svc.SignalHandler(sig)
			}
		}
		return mask&(1<<uint(Terminate)) == 0
	})
	cv.Broadcast()

	svc.Start(&w.Context)
	for w.Poller.Wait() {
	}

	mtx.Lock()
	w.teardown(wfd)
	mtx.Unlock()
	cv.Broadcast()
	_ = w.Poller.Close()

	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithField("domain", "service").Debug("worker stopped")
	}
}

// teardown clears the interrupt before latching the stop flag, so an
// observer that sees Stopped will not attempt to signal.
func (w *Worker[S]) teardown(wfd int) {
	w.Interrupt.Assign(nil)
	w.stopped.Store(true)
	if wfd >= 0 {
		_ = sockets.Close(wfd)
	}
}

// isr is the interrupt service routine: a self-rescheduling receive on
// the wake channel. Received bytes are pure wake tokens; handle drains
// the signal mask and reports whether the loop should keep running. A
// dead wake channel leaves the loop unreachable from outside, so it
// stops the loop rather than leave it running deaf.
func (w *Worker[S]) isr(d *reactor.Dialog, handle func() bool) {
	reactor.Recvmsg(w.Scope, d, isrScratch[:], func(n int, err error) {
		if err != nil || n == 0 {
			w.Scope.RequestStop()
			return
		}
		if handle() {
			w.isr(d, handle)
			return
		}
		w.Scope.RequestStop()
	})
}

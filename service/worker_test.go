// File: service/worker_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package service

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingService captures the lifecycle calls the worker makes into
// channels the test can observe from its own thread.
type recordingService struct {
	started chan struct{}
	signals chan Signal
}

func newRecordingService() *recordingService {
	return &recordingService{
		started: make(chan struct{}),
		signals: make(chan Signal, 8),
	}
}

func (s *recordingService) SignalHandler(sig Signal) { s.signals <- sig }
func (s *recordingService) Start(ctx *Context)       { close(s.started) }

// startWorker runs the worker start handshake and reports whether the
// worker had not yet stopped when the handshake wait ended.
func startWorker[S Service](w *Worker[S], mtx *sync.Mutex, cv *sync.Cond) bool {
	mtx.Lock()
	defer mtx.Unlock()
	w.Start(mtx, cv)
	for !w.Interrupt.Present() && !w.Stopped() {
		cv.Wait()
	}
	return !w.Stopped()
}

func expectSignal(t *testing.T, ch <-chan Signal, want Signal) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("dispatched signal = %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("signal %v was not dispatched", want)
	}
}

func TestWorkerLifecycle(t *testing.T) {
	svc := newRecordingService()
	w := NewWorker(func() *recordingService { return svc })

	var mtx sync.Mutex
	cv := sync.NewCond(&mtx)
	if !startWorker(w, &mtx, cv) {
		t.Fatal("worker stopped during startup")
	}

	select {
	case <-svc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("service Start did not run")
	}

	w.Signal(User1)
	expectSignal(t, svc.signals, User1)

	w.Close()
	expectSignal(t, svc.signals, Terminate)
	if !w.Stopped() {
		t.Fatal("worker not stopped after Close")
	}
	if w.Interrupt.Present() {
		t.Fatal("interrupt still armed after teardown")
	}
}

func TestWorkerCloseIsIdempotent(t *testing.T) {
	svc := newRecordingService()
	w := NewWorker(func() *recordingService { return svc })

	var mtx sync.Mutex
	cv := sync.NewCond(&mtx)
	if !startWorker(w, &mtx, cv) {
		t.Fatal("worker stopped during startup")
	}
	w.Close()
	w.Close()
	if !w.Stopped() {
		t.Fatal("worker not stopped")
	}
}

func TestWorkerCloseWithoutStart(t *testing.T) {
	w := NewWorker(func() *recordingService { return newRecordingService() })
	done := make(chan struct{})
	go func() {
		w.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close on an unstarted worker hung")
	}
}

func TestWorkerStartTwiceIsNoop(t *testing.T) {
	svc := newRecordingService()
	w := NewWorker(func() *recordingService { return svc })

	var mtx sync.Mutex
	cv := sync.NewCond(&mtx)
	if !startWorker(w, &mtx, cv) {
		t.Fatal("worker stopped during startup")
	}
	w.Start(&mtx, cv)
	w.Close()
	if !w.Stopped() {
		t.Fatal("worker not stopped")
	}
}

func TestWorkerWakeChannelFailure(t *testing.T) {
	old := socketpair
	socketpair = func() ([2]int, error) {
		return [2]int{}, errors.New("descriptor table full")
	}
	defer func() { socketpair = old }()

	svc := newRecordingService()
	w := NewWorker(func() *recordingService { return svc })

	var mtx sync.Mutex
	cv := sync.NewCond(&mtx)
	if startWorker(w, &mtx, cv) {
		t.Fatal("worker came up without a wake channel")
	}
	if w.Interrupt.Present() {
		t.Fatal("interrupt armed on a failed worker")
	}

	// The service never ran and no signal reaches it.
	select {
	case <-svc.started:
		t.Fatal("service Start ran on a failed worker")
	default:
	}
	w.Signal(User1)
	select {
	case sig := <-svc.signals:
		t.Fatalf("signal %v dispatched on a failed worker", sig)
	default:
	}

	w.Close()
}

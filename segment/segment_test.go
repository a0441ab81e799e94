// File: segment/segment_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package segment

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/momentics/segbus/service"
	"github.com/momentics/segbus/sockets"
)

// relay wraps the segment service to report its bound address to the
// test thread.
type relay struct {
	*Service
	ready chan *sockets.Address
}

func newRelay() *relay {
	return &relay{Service: New(sockets.Loopback(0)), ready: make(chan *sockets.Address, 1)}
}

func (r *relay) Start(ctx *service.Context) {
	r.Service.Start(ctx)
	r.ready <- r.Address()
}

func startRelay(t *testing.T) (*service.Worker[*relay], *sockets.Address) {
	t.Helper()
	r := newRelay()
	w := service.NewWorker(func() *relay { return r })

	var mtx sync.Mutex
	cv := sync.NewCond(&mtx)
	mtx.Lock()
	w.Start(&mtx, cv)
	for !w.Interrupt.Present() && !w.Stopped() {
		cv.Wait()
	}
	stopped := w.Stopped()
	mtx.Unlock()
	if stopped {
		t.Fatal("worker stopped during startup")
	}

	var addr *sockets.Address
	select {
	case addr = <-r.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not report its address")
	}
	return w, addr
}

func dialRelay(t *testing.T, addr *sockets.Address) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", addr.Port), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestRelayEchoesSegments(t *testing.T) {
	w, addr := startRelay(t)
	defer w.Close()
	conn := dialRelay(t, addr)
	defer conn.Close()

	for _, msg := range []string{"x", "hello", "segment relay"} {
		if _, err := conn.Write([]byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
		buf := make([]byte, len(msg))
		if _, err := io.ReadFull(conn, buf); err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(buf) != msg {
			t.Fatalf("relayed %q, want %q", buf, msg)
		}
	}
}

func TestRelayCarriesLargeTransfer(t *testing.T) {
	w, addr := startRelay(t)
	defer w.Close()
	conn := dialRelay(t, addr)
	defer conn.Close()

	payload := bytes.Repeat([]byte("0123456789abcdef"), 512)
	go func() {
		_, _ = conn.Write(payload)
	}()

	got := make([]byte, len(payload))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("relayed payload differs from the original")
	}
}

func TestRelaySurvivesPeerClose(t *testing.T) {
	w, addr := startRelay(t)
	defer w.Close()

	first := dialRelay(t, addr)
	_ = first.Close()

	// The relay must keep accepting and relaying after a peer walks away.
	second := dialRelay(t, addr)
	defer second.Close()
	if _, err := second.Write([]byte("still here")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, len("still here"))
	if _, err := io.ReadFull(second, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "still here" {
		t.Fatalf("relayed %q, want %q", buf, "still here")
	}
	if w.Stopped() {
		t.Fatal("relay stopped after a peer close")
	}
}

// File: reactor/poller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Readiness multiplexer. Wait() performs one step: run queued
// completions, or poll armed interests and dispatch the ready ones.

package reactor

import (
	"sync"

	"github.com/eapache/queue"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// interest is a one-shot readiness subscription on a descriptor.
type interest struct {
	events int16
	ready  func(revents int16)
}

// Poller multiplexes readiness events over registered descriptors.
// It owns every descriptor handed to Emplace. All methods except the
// thread-safe registration and queueing primitives are intended to be
// driven from a single loop thread.
type Poller struct {
	mu          sync.Mutex
	dialogs     map[int]*Dialog
	armed       map[int]*interest
	completions *queue.Queue
	cancelled   bool
}

// NewPoller creates an empty multiplexer.
func NewPoller() *Poller {
	return &Poller{
		dialogs:     make(map[int]*Dialog),
		armed:       make(map[int]*interest),
		completions: queue.New(),
	}
}

// Emplace registers fd with the multiplexer and returns its Dialog.
// The descriptor is switched to nonblocking mode; the poller owns it
// from this point on.
func (p *Poller) Emplace(fd int) *Dialog {
	_ = unix.SetNonblock(fd, true)
	d := &Dialog{p: p, fd: fd}
	p.mu.Lock()
	p.dialogs[fd] = d
	p.mu.Unlock()
	return d
}

// post schedules fn onto the completion queue.
func (p *Poller) post(fn func()) {
	p.mu.Lock()
	p.completions.Add(fn)
	p.mu.Unlock()
}

// arm installs a one-shot interest for d. At most one interest per
// descriptor may be armed at a time.
func (p *Poller) arm(d *Dialog, events int16, ready func(revents int16)) {
	p.mu.Lock()
	p.armed[d.fd] = &interest{events: events, ready: ready}
	p.mu.Unlock()
}

// disarm drops any pending interest for fd without completing it.
func (p *Poller) disarm(fd int) {
	p.mu.Lock()
	delete(p.armed, fd)
	p.mu.Unlock()
}

// cancel marks the poller stopped: the next Wait step drops all armed
// interests, drains queued completions and then reports no more work.
func (p *Poller) cancel() {
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()
}

// drain runs queued completions until the queue is empty, returning the
// number executed. Completions run outside the poller lock and may queue
// further work or arm new interests.
func (p *Poller) drain() int {
	n := 0
	for {
		p.mu.Lock()
		if p.completions.Length() == 0 {
			p.mu.Unlock()
			return n
		}
		fn := p.completions.Remove().(func())
		p.mu.Unlock()
		fn()
		n++
	}
}

// Wait performs a single multiplexer step and reports whether work
// remains. A step either drains queued completions or polls the armed
// interests and dispatches the ready ones. Wait returns false once no
// completion is queued and no interest is armed.
func (p *Poller) Wait() bool {
	if p.drain() > 0 {
		return true
	}

	p.mu.Lock()
	if p.cancelled {
		for fd := range p.armed {
			delete(p.armed, fd)
		}
	}
	if len(p.armed) == 0 {
		p.mu.Unlock()
		return false
	}
	pfds := make([]unix.PollFd, 0, len(p.armed))
	for fd, in := range p.armed {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: in.events})
	}
	p.mu.Unlock()

	if _, err := unix.Poll(pfds, -1); err != nil {
		if err == unix.EINTR {
			return true
		}
		log.WithField("domain", "reactor").WithError(err).Debug("poll")
		p.mu.Lock()
		for fd := range p.armed {
			delete(p.armed, fd)
		}
		p.mu.Unlock()
		return true
	}

	p.mu.Lock()
	for _, pfd := range pfds {
		if pfd.Revents == 0 {
			continue
		}
		fd := int(pfd.Fd)
		in, ok := p.armed[fd]
		if !ok {
			continue
		}
		delete(p.armed, fd)
		revents := pfd.Revents
		ready := in.ready
		p.completions.Add(func() { ready(revents) })
	}
	p.mu.Unlock()

	p.drain()
	return true
}

// Close deregisters and closes every remaining descriptor and discards
// armed interests and queued completions.
func (p *Poller) Close() error {
	p.mu.Lock()
	dialogs := p.dialogs
	p.dialogs = make(map[int]*Dialog)
	p.armed = make(map[int]*interest)
	p.completions = queue.New()
	p.mu.Unlock()

	var first error
	for _, d := range dialogs {
		if err := unix.Close(d.fd); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Dialog is the registration handle for a descriptor inside a Poller.
// Closing it disarms any pending interest, deregisters the descriptor
// and closes it.
type Dialog struct {
	p  *Poller
	fd int
}

// FD returns the underlying descriptor.
func (d *Dialog) FD() int { return d.fd }

// Close deregisters the descriptor and closes it.
func (d *Dialog) Close() error {
	d.p.mu.Lock()
	delete(d.p.armed, d.fd)
	delete(d.p.dialogs, d.fd)
	d.p.mu.Unlock()
	return unix.Close(d.fd)
}

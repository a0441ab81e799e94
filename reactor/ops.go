// File: reactor/ops.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One-shot asynchronous socket operations. Each operation arms a single
// readiness interest and invokes its completion on the loop thread. An
// operation started on a stopped scope completes silently with no
// callback, mirroring a cancelled continuation.

package reactor

import (
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/segbus/sockets"
)

// Accept arms an accept on the listening dialog. On readiness the new
// connection is registered with the same poller and handed to complete
// together with the peer address.
func Accept(s *Scope, d *Dialog, complete func(conn *Dialog, peer unix.Sockaddr, err error)) {
	if s.StopRequested() {
		return
	}
	d.p.arm(d, unix.POLLIN, func(int16) {
		nfd, sa, err := unix.Accept4(d.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EAGAIN {
			Accept(s, d, complete)
			return
		}
		if err != nil {
			complete(nil, nil, err)
			return
		}
		complete(d.p.Emplace(nfd), sa, nil)
	})
}

// Connect starts a nonblocking connect on d and completes once the
// connection is established or refused.
func Connect(s *Scope, d *Dialog, addr *sockets.Address, complete func(err error)) {
	if s.StopRequested() {
		return
	}
	switch err := unix.Connect(d.fd, addr.Sockaddr()); err {
	case nil:
		d.p.post(func() { complete(nil) })
	case unix.EINPROGRESS:
		d.p.arm(d, unix.POLLOUT, func(int16) {
			soerr, err := unix.GetsockoptInt(d.fd, unix.SOL_SOCKET, unix.SO_ERROR)
			if err != nil {
				complete(err)
				return
			}
			if soerr != 0 {
				complete(unix.Errno(soerr))
				return
			}
			complete(nil)
		})
	default:
		d.p.post(func() { complete(err) })
	}
}

// Recvmsg arms a receive into buf. A completion with n == 0 and a nil
// error denotes orderly peer close.
func Recvmsg(s *Scope, d *Dialog, buf []byte, complete func(n int, err error)) {
	if s.StopRequested() {
		return
	}
	d.p.arm(d, unix.POLLIN, func(int16) {
		n, _, _, _, err := unix.Recvmsg(d.fd, buf, nil, 0)
		if err == unix.EAGAIN {
			Recvmsg(s, d, buf, complete)
			return
		}
		if err != nil {
			log.WithField("domain", "reactor").WithError(err).Debug("recvmsg")
		}
		complete(n, err)
	})
}

// Sendmsg arms a send of buf. Partial writes are reported through n;
// the caller decides whether to continue with the remainder.
func Sendmsg(s *Scope, d *Dialog, buf []byte, complete func(n int, err error)) {
	if s.StopRequested() {
		return
	}
	d.p.arm(d, unix.POLLOUT, func(int16) {
		n, err := unix.SendmsgN(d.fd, buf, nil, nil, 0)
		if err == unix.EAGAIN {
			Sendmsg(s, d, buf, complete)
			return
		}
		if err != nil {
			log.WithField("domain", "reactor").WithError(err).Debug("sendmsg")
		}
		complete(n, err)
	})
}

// File: sockets/sockets.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thin socket layer over golang.org/x/sys/unix. TCP sockets are created
// nonblocking and close-on-exec so they can be driven by the reactor
// poller; socket pairs are created close-on-exec only.

package sockets

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Address is a family-agnostic socket address. The IP field is sized for
// IPv6 and holds IPv4 addresses in its first four bytes.
type Address struct {
	Family int
	IP     [16]byte
	Port   int
}

// Loopback returns an AF_INET loopback address on the given port.
// Port 0 requests an ephemeral port from the kernel.
func Loopback(port int) *Address {
	a := &Address{Family: unix.AF_INET, Port: port}
	a.IP[0], a.IP[3] = 127, 1
	return a
}

// Sockaddr converts the address into the unix.Sockaddr for its family.
func (a *Address) Sockaddr() unix.Sockaddr {
	switch a.Family {
	case unix.AF_INET6:
		sa := &unix.SockaddrInet6{Port: a.Port}
		copy(sa.Addr[:], a.IP[:])
		return sa
	default:
		sa := &unix.SockaddrInet4{Port: a.Port}
		copy(sa.Addr[:], a.IP[:4])
		return sa
	}
}

// FromSockaddr builds an Address from a kernel-returned sockaddr.
func FromSockaddr(sa unix.Sockaddr) *Address {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		a := &Address{Family: unix.AF_INET, Port: v.Port}
		copy(a.IP[:4], v.Addr[:])
		return a
	case *unix.SockaddrInet6:
		a := &Address{Family: unix.AF_INET6, Port: v.Port}
		copy(a.IP[:], v.Addr[:])
		return a
	}
	return nil
}

// Stream creates a nonblocking TCP socket for the given family.
func Stream(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket create: %w", err)
	}
	return fd, nil
}

// Socketpair allocates a connected AF_UNIX stream pair. Index 0 is the
// receiving end, index 1 the sending end.
func Socketpair() ([2]int, error) {
	var pair [2]int
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return pair, fmt.Errorf("socketpair: %w", err)
	}
	pair[0], pair[1] = fds[0], fds[1]
	return pair, nil
}

// SetReuseAddr enables SO_REUSEADDR on fd.
func SetReuseAddr(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	return nil
}

// Bind binds fd to addr.
func Bind(fd int, addr *Address) error {
	if err := unix.Bind(fd, addr.Sockaddr()); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	return nil
}

// Listen marks fd as a passive socket.
func Listen(fd, backlog int) error {
	if err := unix.Listen(fd, backlog); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Getsockname reads back the local address of fd, including any
// kernel-assigned ephemeral port.
func Getsockname(fd int) (*Address, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	return FromSockaddr(sa), nil
}

// Close closes a raw descriptor.
func Close(fd int) error {
	return unix.Close(fd)
}

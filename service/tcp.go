// File: service/tcp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TCP service scaffold: binds a listener, accepts connections and runs a
// per-connection read loop. The stream handler decides when reading
// resumes; a handler that does not call Reader leaves the stream paused.

package service

import (
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/segbus/pool"
	"github.com/momentics/segbus/reactor"
	"github.com/momentics/segbus/sockets"
)

// ReadBufferSize is the capacity of a per-connection read buffer.
const ReadBufferSize = 1024

var readBuffers = pool.NewBytePool(ReadBufferSize)

// ReadContext is the per-connection read state shared between the reader
// continuation and the stream handler.
type ReadContext struct {
	Buf []byte
}

func newReadContext() *ReadContext {
	return &ReadContext{Buf: readBuffers.Get()}
}

// Release returns the buffer to the pool once no continuation retains
// the context. Handlers that close a stream themselves call it in place
// of resuming the read.
func (rc *ReadContext) Release() {
	if rc.Buf != nil {
		readBuffers.Put(rc.Buf)
		rc.Buf = nil
	}
}

// StreamHandler consumes bytes read off a connection. OnRead runs on the
// loop thread with data viewing the bytes just received; the handler
// must call Reader on the scaffold to continue reading, or withhold the
// call to pause the stream.
type StreamHandler interface {
	OnRead(ctx *Context, conn *reactor.Dialog, rctx *ReadContext, data []byte)
}

// Initializer is an optional stream-handler capability: Initialize runs
// once on the bound listener before listen.
type Initializer interface {
	Initialize(fd int) error
}

// bindSocket is a seam for fault-injection tests.
var bindSocket = sockets.Bind

// TCPService is the scaffold a concrete stream service embeds. It
// implements the worker Service capability set over a bound listener and
// dispatches reads to the embedded handler.
type TCPService struct {
	addr    *sockets.Address
	handler StreamHandler
	stop    func()
}

// NewTCPService creates a scaffold bound to addr that dispatches reads
// to handler. Concrete services pass themselves as the handler.
func NewTCPService(addr *sockets.Address, handler StreamHandler) *TCPService {
	return &TCPService{addr: addr, handler: handler}
}

// Address returns the service address. After Start it carries the
// kernel-assigned port when an ephemeral one was requested.
func (s *TCPService) Address() *sockets.Address { return s.addr }

// SignalHandler stops the service on Terminate. Other signals are left
// to the embedding service.
func (s *TCPService) SignalHandler(sig Signal) {
	if sig == Terminate && s.stop != nil {
		s.stop()
	}
}

// initialize prepares the listener: address reuse, the handler's
// optional initialization hook, bind, local-name read-back and listen.
func (s *TCPService) initialize(fd int) error {
	if err := sockets.SetReuseAddr(fd); err != nil {
		return err
	}
	if ini, ok := s.handler.(Initializer); ok {
		if err := ini.Initialize(fd); err != nil {
			return err
		}
	}
	if err := bindSocket(fd, s.addr); err != nil {
		return err
	}
	local, err := sockets.Getsockname(fd)
	if err != nil {
		return err
	}
	s.addr = local
	return sockets.Listen(fd, unix.SOMAXCONN)
}

// Start binds the listener and spawns the acceptor. Setup failures are
// fatal to the service: the scope is stopped and the loop drains.
func (s *TCPService) Start(ctx *Context) {
	fd, err := sockets.Stream(s.addr.Family)
	if err != nil {
		ctx.Scope.RequestStop()
		return
	}
	if err := s.initialize(fd); err != nil {
		log.WithField("domain", "service").WithError(err).Debug("listener setup")
		_ = sockets.Close(fd)
		ctx.Scope.RequestStop()
		return
	}

	// A listener blocked inside the poller will not observe the stop
	// token on its own; a self-connect wakes the pending accept. The
	// connect is issued before the stop token flips, otherwise the wake
	// would cancel itself.
	s.stop = func() {
		cfd, err := sockets.Stream(s.addr.Family)
		if err != nil {
			ctx.Scope.RequestStop()
			return
		}
		dialog := ctx.Poller.Emplace(cfd)
		reactor.Connect(ctx.Scope, dialog, s.addr, func(error) {
			_ = dialog.Close()
		})
		ctx.Scope.RequestStop()
	}

	s.acceptor(ctx, ctx.Poller.Emplace(fd))
}

// acceptor keeps exactly one accept in flight per listener. Accept
// errors are dropped and the acceptor does not re-arm on them.
func (s *TCPService) acceptor(ctx *Context, listener *reactor.Dialog) {
	if ctx.Scope.StopRequested() {
		return
	}
	reactor.Accept(ctx.Scope, listener, func(conn *reactor.Dialog, _ unix.Sockaddr, err error) {
		if err != nil {
			log.WithField("domain", "service").WithError(err).Debug("accept")
			return
		}
		s.Reader(ctx, conn, newReadContext())
		s.acceptor(ctx, listener)
	})
}

// Reader arms one receive on conn and dispatches the result to the
// stream handler. A zero-length receive denotes peer close and ends the
// stream. Handlers call Reader again to resume reading.
func (s *TCPService) Reader(ctx *Context, conn *reactor.Dialog, rctx *ReadContext) {
	if ctx.Scope.StopRequested() {
		return
	}
	reactor.Recvmsg(ctx.Scope, conn, rctx.Buf, func(n int, err error) {
		if err != nil || n == 0 {
			rctx.Release()
			_ = conn.Close()
			return
		}
		s.handler.OnRead(ctx, conn, rctx, rctx.Buf[:n])
	})
}

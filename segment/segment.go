// File: segment/segment.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package segment implements the segment relay service: received byte
// segments are written back to the originating stream in arrival order.
// Reading stays paused while a segment is being relayed, so a slow peer
// back-pressures its own stream and nothing else.
package segment

import (
	"github.com/momentics/segbus/reactor"
	"github.com/momentics/segbus/service"
	"github.com/momentics/segbus/sockets"
)

// Service relays segments over the TCP scaffold. It embeds the scaffold
// and acts as its own stream handler.
type Service struct {
	*service.TCPService
}

// New creates a segment service listening on addr.
func New(addr *sockets.Address) *Service {
	s := &Service{}
	s.TCPService = service.NewTCPService(addr, s)
	return s
}

// Initialize runs on the bound listener before listen. The segment
// service needs no socket options beyond the scaffold's defaults.
func (s *Service) Initialize(fd int) error { return nil }

// OnRead relays the received segment. Reading resumes only after the
// whole segment has been written out.
func (s *Service) OnRead(ctx *service.Context, conn *reactor.Dialog, rctx *service.ReadContext, data []byte) {
	s.relay(ctx, conn, rctx, data)
}

// relay writes data to conn, resending the remainder on a partial write
// and re-arming the read once the segment is fully on the wire.
func (s *Service) relay(ctx *service.Context, conn *reactor.Dialog, rctx *service.ReadContext, data []byte) {
	reactor.Sendmsg(ctx.Scope, conn, data, func(n int, err error) {
		if err != nil {
			rctx.Release()
			_ = conn.Close()
			return
		}
		if n < len(data) {
			s.relay(ctx, conn, rctx, data[n:])
			return
		}
		s.Reader(ctx, conn, rctx)
	})
}

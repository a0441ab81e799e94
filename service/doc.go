// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package service hosts user-defined stream services on a per-worker
// asynchronous context. A Worker owns one OS thread that drives a
// reactor poller; external control events are delivered into the loop
// through a signal mask and a byte written to an internal socket pair.
// TCPService layers an accept/read loop over the context for services
// that speak TCP.
package service

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides a poll(2)-based readiness multiplexer with a
// single-step Wait function, a cancellable scope for cooperative
// continuations, and one-shot asynchronous socket operations (accept,
// connect, recvmsg, sendmsg) that complete on the loop thread.
//
// Descriptors registered with a Poller are switched to nonblocking mode
// and owned by it until their Dialog is closed or the Poller itself is
// closed.
package reactor

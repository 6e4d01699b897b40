/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package testpipe provides an in-memory net.Conn pair for exercising
// a Dispatcher without opening a real socket, the same role the
// teacher's th package plays for net/http's ResponseRecorder-based
// handler tests, adapted here to a full duplex connection since the
// dispatcher under test owns raw I/O rather than a pre-parsed request.
package testpipe

import "net"

// Pair returns two ends of an in-memory, full-duplex connection: one
// to hand to a Dispatcher as its net.Conn, the other for a test to
// drive as the simulated client. Both ends implement deadlines, so
// the dispatcher's deadline-driven timers run against the real code
// path rather than a stub.
func Pair() (server, client net.Conn) {
	return net.Pipe()
}

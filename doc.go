/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package dispatch implements a transport-agnostic HTTP/1.x connection
// dispatcher: a per-connection state machine that decodes requests,
// drives an application Service (plus optional Expect and Upgrade
// collaborators) through a small state machine, and encodes responses,
// independent of how the underlying net.Conn was accepted.
//
// A ServiceHandler assembles the services and a ServiceConfig; Serve
// runs one connection end to end. The codec subpackage owns wire-level
// parsing and encoding, framed owns the buffered duplex I/O, and
// header owns the case-insensitive multi-valued header collection all
// three share.
package dispatch

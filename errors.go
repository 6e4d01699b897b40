/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package dispatch

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a dispatcher-level failure per spec.md §7. The
// kind drives recovery policy in Dispatcher.Run; it is never a Go type
// name, just a tag carried on DispatchError.
type ErrorKind int

const (
	// KindParse: malformed inbound bytes — synthesize 400, deny
	// keep-alive.
	KindParse ErrorKind = iota
	// KindPayloadFraming: body framing violated mid-stream — close
	// payload with error, deny keep-alive.
	KindPayloadFraming
	// KindServiceReadiness: a sub-service's readiness check failed —
	// fatal at accept, connection never receives a request.
	KindServiceReadiness
	// KindServiceCall: application or expect service returned an
	// error — mapped to a response, deny keep-alive.
	KindServiceCall
	// KindUpgrade: the upgrade service returned an error — logged,
	// connection closed.
	KindUpgrade
	// KindIO: a read or write I/O error — terminal, best-effort
	// shutdown.
	KindIO
	// KindTimeout: a timer expired — terminal, no response written.
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindPayloadFraming:
		return "payload_framing"
	case KindServiceReadiness:
		return "service_readiness"
	case KindServiceCall:
		return "service_call"
	case KindUpgrade:
		return "upgrade"
	case KindIO:
		return "io"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// DispatchError is the error type the dispatcher and ServiceHandler
// produce. The Kind field lets callers branch on recovery policy
// without string matching, the way the teacher distinguishes
// ErrHijacked/ErrContentLength/ErrServerClosed by sentinel identity.
type DispatchError struct {
	Kind ErrorKind
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch: %s: %v", e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// NewDispatchError wraps err under kind.
func NewDispatchError(kind ErrorKind, err error) *DispatchError {
	return &DispatchError{Kind: kind, Err: err}
}

// ParseError signals a malformed request head or a framing conflict
// detected by the codec (spec.md §4.1, §4.4 tie-breaks).
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "parse error: " + e.Reason }

// PayloadError signals a body-framing violation detected mid-stream
// (spec.md §4.1).
type PayloadError struct {
	Reason string
}

func (e *PayloadError) Error() string { return "payload error: " + e.Reason }

// errBodyOverflow signals that a BodySized/BodyStream response body
// produced more bytes than its declared Content-Length (spec.md §4.1
// encoder contract).
var errBodyOverflow = stderrors.New("dispatch: response body exceeded declared content-length")

// WrapReadinessError annotates a sub-service readiness failure with a
// stack trace before it is surfaced to the acceptor as a fatal init
// error (spec.md §4.3, §7: "Readiness errors ... are logged and
// surfaced to the acceptor as fatal init errors"). pkg/errors is used
// here specifically because this is the one failure path that crosses
// out of the per-connection blast radius spec.md §7 otherwise commits
// to (every other error kind is local to one connection's lifetime),
// so it is worth the stack trace a post-mortem needs.
func WrapReadinessError(service string, err error) error {
	return errors.Wrapf(err, "service readiness: %s", service)
}

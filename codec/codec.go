/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package codec implements the stateful byte↔message translator
// spec.md §4.1 describes as an external-ish but in-scope boundary: a
// decoder turning a growable byte buffer into head/chunk/EOF events,
// and an encoder turning response events into bytes. Framing rules
// follow RFC 7230 §3.3.3, adapted from the teacher's
// utils_transfer.go (transfer-encoding/content-length precedence) and
// chunk_writer.go (chunked wire format).
package codec

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/badu/dispatch/header"
)

// BodyHint classifies how a Response body is framed on the wire. It
// lives in codec (not the message model) because framing is purely a
// wire concern; dispatch.BodyKind is a type alias onto this.
type BodyHint int

const (
	BodyNone BodyHint = iota
	BodySized
	BodyChunked
	BodyStream
)

// Framing classifies how a decoded request's body is delimited.
type Framing int

const (
	FramingNone Framing = iota
	FramingFixed
	FramingChunked
)

// ParseError and PayloadError mirror the dispatch package's error
// types but stay codec-local so this package has no dependency on
// dispatch (avoiding an import cycle). dispatcher.go wraps a head
// ParseError in a dispatch.DispatchError of kind KindParse and checks
// body errors for *PayloadError directly; it does not convert either
// into dispatch.ParseError / dispatch.PayloadError.
type ParseError struct{ Reason string }

func (e *ParseError) Error() string { return "codec: parse error: " + e.Reason }

type PayloadError struct{ Reason string }

func (e *PayloadError) Error() string { return "codec: payload error: " + e.Reason }

// Head is the decoded request line + headers.
type Head struct {
	Method string
	Target string
	Proto  string
	Major  int
	Minor  int
	Header *header.Map
}

// Upgrade reports whether this head requests a protocol switch:
// method CONNECT, or Upgrade + Connection: upgrade (spec.md §4.1).
func (h *Head) Upgrade() bool {
	if h.Method == "CONNECT" {
		return true
	}
	return h.Header.Has(header.Upgrade) && h.Header.HasToken(header.Connection, "upgrade")
}

// WantsContinue reports Expect: 100-continue.
func (h *Head) WantsContinue() bool {
	return h.Header.HasToken(header.Expect, header.Continue)
}

// DetectFraming resolves the request body framing from its headers
// per RFC 7230 §3.3.3: Transfer-Encoding: chunked takes precedence
// over Content-Length; both present is a hard parse error (spec.md
// §4.4 tie-break); neither present means no body for requests.
func DetectFraming(h *Head) (Framing, int64, error) {
	hasTE := h.Header.HasToken(header.TransferEncoding, header.Chunked)
	cl := h.Header.Get(header.ContentLength)

	if hasTE && cl != "" {
		return FramingNone, 0, &ParseError{Reason: "both Transfer-Encoding: chunked and Content-Length present"}
	}
	if hasTE {
		return FramingChunked, 0, nil
	}
	if cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return FramingNone, 0, &ParseError{Reason: "invalid Content-Length"}
		}
		return FramingFixed, n, nil
	}
	return FramingNone, 0, nil
}

// WriteChunk writes one chunked-encoding data chunk: size line, data,
// trailing CRLF (adapted from chunk_writer.go's chunkWriter.Write).
func WriteChunk(w *bufio.Writer, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "%x\r\n", len(p)); err != nil {
		return err
	}
	if _, err := w.Write(p); err != nil {
		return err
	}
	_, err := w.Write(crlf)
	return err
}

// WriteChunkEOF writes the terminal zero-length chunk plus any
// trailers (adapted from chunk_writer.go's chunkWriter.close).
func WriteChunkEOF(w *bufio.Writer, trailer *header.Map) error {
	if _, err := w.WriteString("0\r\n"); err != nil {
		return err
	}
	if trailer != nil {
		for _, k := range trailer.Keys() {
			for _, v := range trailer.Values(k) {
				if _, err := w.WriteString(k); err != nil {
					return err
				}
				if _, err := w.WriteString(": "); err != nil {
					return err
				}
				if _, err := w.WriteString(v); err != nil {
					return err
				}
				if _, err := w.Write(crlf); err != nil {
					return err
				}
			}
		}
	}
	_, err := w.Write(crlf)
	return err
}

var crlf = []byte("\r\n")

// foldRejected reports obs-fold continuation bytes (leading space/tab
// on a header line), which spec.md §6 requires this codec to reject
// outright rather than unfold.
func foldRejected(line []byte) bool {
	return len(line) > 0 && (line[0] == ' ' || line[0] == '\t')
}

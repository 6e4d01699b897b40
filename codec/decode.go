/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package codec

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"

	"github.com/badu/dispatch/header"
)

// maxHeadBytes bounds how much of the pending buffer DecodeHead will
// scan before giving up with a parse error, preventing an attacker
// from holding a connection open with an unbounded head (spec.md §6
// "header name/value length limits come from the codec
// configuration").
const maxHeadBytes = 64 << 10

// Decoder is a stateful HTTP/1 request decoder, one per connection.
// It never blocks: DecodeHead and DecodeBody operate purely on the
// buffer handed to them and report how many bytes they consumed,
// mirroring spec.md §4.1's "Decoder advances the read buffer by
// exactly the bytes it consumed; partial inputs produce None without
// corrupting state."
type Decoder struct {
	framing   Framing
	remaining int64 // for FramingFixed
	chunkLeft int64 // bytes left in the current chunk, for FramingChunked
	inTrailer bool
}

// DecodeHead attempts to parse a full request line + header block
// from buf. It returns (nil, 0, nil) when more bytes are needed,
// (head, n, nil) on success with n bytes consumed, or a non-nil error
// for a malformed or oversized head.
func (d *Decoder) DecodeHead(buf []byte) (*Head, int, error) {
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		if len(buf) > maxHeadBytes {
			return nil, 0, &ParseError{Reason: "request head too large"}
		}
		return nil, 0, nil
	}
	headBytes := buf[:idx]
	total := idx + 4

	lines := bytes.Split(headBytes, []byte("\r\n"))
	if len(lines) == 0 || len(lines[0]) == 0 {
		return nil, 0, &ParseError{Reason: "empty request line"}
	}

	method, target, proto, major, minor, err := parseRequestLine(lines[0])
	if err != nil {
		return nil, 0, err
	}

	h := header.New()
	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		if foldRejected(line) {
			return nil, 0, &ParseError{Reason: "obs-fold is rejected"}
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return nil, 0, &ParseError{Reason: "malformed header line"}
		}
		name := string(bytes.TrimSpace(line[:colon]))
		value := string(bytes.TrimSpace(line[colon+1:]))
		if name == "" {
			return nil, 0, &ParseError{Reason: "empty header name"}
		}
		h.Add(name, value)
	}

	return &Head{
		Method: method,
		Target: target,
		Proto:  proto,
		Major:  major,
		Minor:  minor,
		Header: h,
	}, total, nil
}

func parseRequestLine(line []byte) (method, target, proto string, major, minor int, err error) {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		return "", "", "", 0, 0, &ParseError{Reason: "malformed request line"}
	}
	method = string(parts[0])
	target = string(parts[1])
	proto = string(parts[2])

	major, minor, ok := parseHTTPVersion(proto)
	if !ok {
		return "", "", "", 0, 0, &ParseError{Reason: "malformed HTTP version"}
	}
	if _, err := url.ParseRequestURI(target); err != nil && target != "*" {
		return "", "", "", 0, 0, &ParseError{Reason: "malformed request target"}
	}
	return method, target, proto, major, minor, nil
}

func parseHTTPVersion(proto string) (major, minor int, ok bool) {
	const prefix = "HTTP/"
	if !strings.HasPrefix(proto, prefix) {
		return 0, 0, false
	}
	rest := proto[len(prefix):]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return 0, 0, false
	}
	maj, err1 := strconv.Atoi(rest[:dot])
	min, err2 := strconv.Atoi(rest[dot+1:])
	if err1 != nil || err2 != nil || maj != 1 || (min != 0 && min != 1) {
		return 0, 0, false
	}
	return maj, min, true
}

// BeginBody resolves and stores the body framing for h, ready for
// DecodeBody to drive. Requests with neither Transfer-Encoding nor
// Content-Length have FramingNone (no body).
func (d *Decoder) BeginBody(h *Head) (Framing, error) {
	framing, length, err := DetectFraming(h)
	if err != nil {
		return FramingNone, err
	}
	d.framing = framing
	d.remaining = length
	d.chunkLeft = 0
	d.inTrailer = false
	return framing, nil
}

// DecodeBody consumes as much body data as buf currently holds,
// returning a chunk to deliver to the payload sender, how many bytes
// were consumed, and whether the body is now complete (spec.md §4.1,
// §4.4 transition 4, §8 property 2: "exactly N bytes ... never more,
// never fewer, independent of TCP segmentation").
func (d *Decoder) DecodeBody(buf []byte) (chunk []byte, consumed int, eof bool, err error) {
	switch d.framing {
	case FramingNone:
		return nil, 0, true, nil
	case FramingFixed:
		return d.decodeFixed(buf)
	case FramingChunked:
		return d.decodeChunked(buf)
	default:
		return nil, 0, true, nil
	}
}

func (d *Decoder) decodeFixed(buf []byte) ([]byte, int, bool, error) {
	if d.remaining <= 0 {
		return nil, 0, true, nil
	}
	n := int64(len(buf))
	if n > d.remaining {
		n = d.remaining
	}
	if n == 0 {
		return nil, 0, false, nil
	}
	d.remaining -= n
	return buf[:n], int(n), d.remaining == 0, nil
}

func (d *Decoder) decodeChunked(buf []byte) ([]byte, int, bool, error) {
	total := 0
	var out []byte
	for {
		if d.inTrailer {
			n, eof, err := d.consumeTrailer(buf)
			total += n
			return out, total, eof, err
		}

		if d.chunkLeft > 0 {
			n := int64(len(buf))
			if n > d.chunkLeft {
				n = d.chunkLeft
			}
			if n == 0 {
				return out, total, false, nil
			}
			out = append(out, buf[:n]...)
			buf = buf[n:]
			total += int(n)
			d.chunkLeft -= n
			if d.chunkLeft == 0 {
				if len(buf) < 2 {
					return out, total, false, nil
				}
				if buf[0] != '\r' || buf[1] != '\n' {
					return out, total, false, &PayloadError{Reason: "missing chunk trailer CRLF"}
				}
				buf = buf[2:]
				total += 2
			}
			continue
		}

		idx := bytes.Index(buf, []byte("\r\n"))
		if idx < 0 {
			if len(buf) > 32 {
				return out, total, false, &PayloadError{Reason: "chunk size line too long"}
			}
			return out, total, false, nil
		}
		sizeLine := buf[:idx]
		if semi := bytes.IndexByte(sizeLine, ';'); semi >= 0 {
			sizeLine = sizeLine[:semi]
		}
		size, err := strconv.ParseInt(string(bytes.TrimSpace(sizeLine)), 16, 64)
		if err != nil || size < 0 {
			return out, total, false, &PayloadError{Reason: "invalid chunk size"}
		}
		buf = buf[idx+2:]
		total += idx + 2

		if size == 0 {
			// The "0\r\n" size line is already consumed above; what
			// remains (a bare CRLF, a trailer block, or nothing yet)
			// is handled by the inTrailer branch at the top of this
			// loop, which records d.inTrailer so a read boundary
			// landing right here resumes correctly on the next call
			// instead of re-parsing the continuation bytes as a fresh
			// chunk-size line.
			d.inTrailer = true
			continue
		}

		d.chunkLeft = size
	}
}

// consumeTrailer handles everything after the terminal "0\r\n" chunk
// size line: a bare CRLF is the common no-trailers case, checked
// before scanning for "\r\n\r\n" since a pipelined next request sitting
// right after in buf would otherwise be mistaken for trailer content.
// It clears d.inTrailer once the terminator is fully consumed, and
// otherwise leaves it set so a subsequent call resumes here instead of
// mis-parsing the leftover bytes as a new chunk size line.
func (d *Decoder) consumeTrailer(buf []byte) (consumed int, eof bool, err error) {
	if len(buf) < 2 {
		return 0, false, nil
	}
	if buf[0] == '\r' && buf[1] == '\n' {
		d.inTrailer = false
		return 2, true, nil
	}
	end := bytes.Index(buf, []byte("\r\n\r\n"))
	if end < 0 {
		if len(buf) > maxHeadBytes {
			return 0, false, &PayloadError{Reason: "chunk trailer too large"}
		}
		return 0, false, nil
	}
	d.inTrailer = false
	return end + 4, true, nil
}

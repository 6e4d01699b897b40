/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package dispatch

import (
	"io"
	"net/url"

	"github.com/badu/dispatch/codec"
	"github.com/badu/dispatch/framed"
)

// parseTarget resolves a request-line target into a *url.URL, handling
// the three forms spec.md's codec needs to accept: ordinary
// absolute-path targets, the OPTIONS "*" asterisk-form, and CONNECT's
// authority-form ("host:port", no scheme).
func parseTarget(target string) (*url.URL, error) {
	if target == "*" {
		return &url.URL{Path: "*"}, nil
	}
	if u, err := url.ParseRequestURI(target); err == nil {
		return u, nil
	}
	return &url.URL{Host: target}, nil
}

// writeContinue writes the interim "100 Continue" response
// (spec.md §4.4 transition 3).
func writeContinue(f *framed.FramedIO, proto string) error {
	return codec.EncodeContinue(f.Writer(), proto)
}

// writeResponse encodes and streams resp onto f. For a BodySized
// response it copies exactly resp.Len bytes: a short body is an error
// (the connection is not left in a recoverable state and must close),
// and a body that produces even one byte beyond resp.Len is also an
// error (errBodyOverflow); nothing past resp.Len is written, per
// spec.md §4.1's "the encoder truncates or errors; the connection is
// closed" contract.
func writeResponse(f *framed.FramedIO, proto string, resp *Response, keepAlive bool, dateStr string) error {
	if err := codec.EncodeHead(f.Writer(), proto, resp.Status, resp.Header, resp.Kind, resp.Len, dateStr, keepAlive); err != nil {
		return err
	}
	if resp.Body == nil {
		return nil
	}
	defer resp.Body.Close()

	switch resp.Kind {
	case codec.BodyChunked:
		return writeChunkedBody(f, resp.Body)
	case codec.BodySized:
		return writeSizedBody(f, resp.Body, resp.Len)
	case codec.BodyStream:
		if resp.Len >= 0 {
			return writeSizedBody(f, resp.Body, resp.Len)
		}
		return writeChunkedBody(f, resp.Body)
	default:
		return nil
	}
}

func writeChunkedBody(f *framed.FramedIO, body io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if werr := codec.WriteChunk(f.Writer(), buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return codec.WriteChunkEOF(f.Writer(), nil)
		}
		if err != nil {
			return err
		}
	}
}

func writeSizedBody(f *framed.FramedIO, body io.Reader, length int64) error {
	n, err := io.CopyN(f.Writer(), body, length)
	if err == io.EOF {
		return io.ErrUnexpectedEOF // short body: fewer bytes than declared
	}
	if err != nil {
		return err
	}
	if n < length {
		return io.ErrUnexpectedEOF
	}
	// Check for an overlong body: one more byte than declared is a
	// framing violation we refuse to send past Content-Length.
	var extra [1]byte
	if m, _ := body.Read(extra[:]); m > 0 {
		return errBodyOverflow
	}
	return nil
}

/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package codec

import (
	"bufio"
	"fmt"
	"strconv"

	"github.com/badu/dispatch/header"
)

// statusText mirrors net/http.StatusText for the small set of codes
// this core needs to render without importing net/http for its status
// table.
var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	204: "No Content",
	400: "Bad Request",
	404: "Not Found",
	417: "Expectation Failed",
	500: "Internal Server Error",
}

// StatusText returns the reason phrase for code, or "status code N"
// if unknown.
func StatusText(code int) string {
	if t, ok := statusText[code]; ok {
		return t
	}
	return "status code " + strconv.Itoa(code)
}

// EncodeHead writes the status line and headers for a response,
// adding Date (from dateStr, unless already present) and
// Content-Length/Transfer-Encoding per kind, and Connection: close
// when keepAlive is false (spec.md §4.1 encoder contract).
func EncodeHead(w *bufio.Writer, proto string, status int, h *header.Map, kind BodyHint, length int64, dateStr string, keepAlive bool) error {
	if _, err := fmt.Fprintf(w, "%s %d %s\r\n", proto, status, StatusText(status)); err != nil {
		return err
	}

	if !h.Has(header.Date) {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", header.Date, dateStr); err != nil {
			return err
		}
	}

	switch kind {
	case BodyChunked:
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", header.TransferEncoding, header.Chunked); err != nil {
			return err
		}
	case BodySized:
		if _, err := fmt.Fprintf(w, "%s: %d\r\n", header.ContentLength, length); err != nil {
			return err
		}
	case BodyStream:
		if length >= 0 {
			if _, err := fmt.Fprintf(w, "%s: %d\r\n", header.ContentLength, length); err != nil {
				return err
			}
		} else {
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", header.TransferEncoding, header.Chunked); err != nil {
				return err
			}
		}
	case BodyNone:
		if _, err := fmt.Fprintf(w, "%s: 0\r\n", header.ContentLength); err != nil {
			return err
		}
	}

	if !keepAlive {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", header.Connection, header.Close); err != nil {
			return err
		}
	}

	for _, k := range h.Keys() {
		if k == header.ContentLength || k == header.TransferEncoding || k == header.Connection {
			continue
		}
		for _, v := range h.Values(k) {
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", k, v); err != nil {
				return err
			}
		}
	}

	_, err := w.WriteString("\r\n")
	return err
}

// EncodeContinue writes a bare "100 Continue" interim response
// (spec.md §4.4 transition 3).
func EncodeContinue(w *bufio.Writer, proto string) error {
	_, err := fmt.Fprintf(w, "%s 100 Continue\r\n\r\n", proto)
	return err
}

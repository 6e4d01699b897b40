/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package codec

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badu/dispatch/header"
)

func TestDecodeHeadSimpleGET(t *testing.T) {
	var d Decoder
	raw := []byte("GET /foo HTTP/1.1\r\nHost: example.com\r\n\r\n")
	head, n, err := d.DecodeHead(raw)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, len(raw), n)
	assert.Equal(t, "GET", head.Method)
	assert.Equal(t, "/foo", head.Target)
	assert.Equal(t, "example.com", head.Header.Get(header.Host))
	assert.Equal(t, 1, head.Major)
	assert.Equal(t, 1, head.Minor)
}

func TestDecodeHeadNeedsMoreData(t *testing.T) {
	var d Decoder
	head, n, err := d.DecodeHead([]byte("GET /foo HTTP/1.1\r\nHost: exa"))
	require.NoError(t, err)
	assert.Nil(t, head)
	assert.Zero(t, n)
}

func TestDecodeHeadPipelinedConsumesOnlyFirst(t *testing.T) {
	var d Decoder
	raw := []byte("GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\n")
	head, n, err := d.DecodeHead(raw)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "/a", head.Target)
	assert.Less(t, n, len(raw))

	head2, n2, err := d.DecodeHead(raw[n:])
	require.NoError(t, err)
	require.NotNil(t, head2)
	assert.Equal(t, "/b", head2.Target)
	assert.Equal(t, len(raw)-n, n2)
}

func TestDecodeHeadRejectsObsFold(t *testing.T) {
	var d Decoder
	raw := []byte("GET / HTTP/1.1\r\nX-A: one\r\n two\r\n\r\n")
	_, _, err := d.DecodeHead(raw)
	require.Error(t, err)
}

func TestDetectFramingConflict(t *testing.T) {
	h := &Head{Header: header.New()}
	h.Header.Set(header.TransferEncoding, header.Chunked)
	h.Header.Set(header.ContentLength, "10")
	_, _, err := DetectFraming(h)
	assert.Error(t, err)
}

func TestDetectFramingContentLength(t *testing.T) {
	h := &Head{Header: header.New()}
	h.Header.Set(header.ContentLength, "42")
	framing, length, err := DetectFraming(h)
	require.NoError(t, err)
	assert.Equal(t, FramingFixed, framing)
	assert.EqualValues(t, 42, length)
}

func TestDecodeBodyFixedExactBytes(t *testing.T) {
	var d Decoder
	h := &Head{Header: header.New()}
	h.Header.Set(header.ContentLength, "5")
	_, err := d.BeginBody(h)
	require.NoError(t, err)

	chunk, n, eof, err := d.DecodeBody([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(chunk))
	assert.Equal(t, 5, n)
	assert.True(t, eof)
}

func TestDecodeBodyChunked(t *testing.T) {
	var d Decoder
	h := &Head{Header: header.New()}
	h.Header.Set(header.TransferEncoding, header.Chunked)
	_, err := d.BeginBody(h)
	require.NoError(t, err)

	raw := []byte("5\r\nhello\r\n0\r\n\r\n")
	chunk, n, eof, err := d.DecodeBody(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(chunk))
	assert.Equal(t, len(raw), n)
	assert.True(t, eof)
}

func TestDecodeBodyChunkedPipelinedNoTrailerFalsePositive(t *testing.T) {
	var d Decoder
	h := &Head{Header: header.New()}
	h.Header.Set(header.TransferEncoding, header.Chunked)
	_, err := d.BeginBody(h)
	require.NoError(t, err)

	next := "GET /next HTTP/1.1\r\n\r\n"
	raw := []byte("5\r\nhello\r\n0\r\n\r\n" + next)
	chunk, n, eof, err := d.DecodeBody(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(chunk))
	assert.True(t, eof)
	assert.Equal(t, next, string(raw[n:]))
}

func TestDecodeBodyChunkedTerminatorSplitAcrossReads(t *testing.T) {
	var d Decoder
	h := &Head{Header: header.New()}
	h.Header.Set(header.TransferEncoding, header.Chunked)
	_, err := d.BeginBody(h)
	require.NoError(t, err)

	chunk, _, eof, err := d.DecodeBody([]byte("5\r\nhello\r\n0\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(chunk))
	assert.False(t, eof)

	// The pending buffer for this second read holds only the bytes
	// that arrived after the first: the terminating CRLF split onto
	// its own TCP segment, right after the "0\r\n" size line.
	chunk2, n2, eof2, err := d.DecodeBody([]byte("\r\n"))
	require.NoError(t, err)
	assert.Empty(t, chunk2)
	assert.True(t, eof2)
	assert.Equal(t, 2, n2)
}

func TestEncodeHeadSetsDateAndContentLength(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	h := header.New()
	err := EncodeHead(w, "HTTP/1.1", 200, h, BodySized, 5, "Mon, 01 Jan 2024 00:00:00 GMT", true)
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	out := buf.String()
	assert.Contains(t, out, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, out, "Content-Length: 5\r\n")
	assert.Contains(t, out, "Date: Mon, 01 Jan 2024 00:00:00 GMT\r\n")
	assert.NotContains(t, out, "Connection: close")
}

func TestEncodeHeadCloseWhenNotKeepAlive(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	h := header.New()
	err := EncodeHead(w, "HTTP/1.1", 200, h, BodyNone, 0, "date", false)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	assert.Contains(t, buf.String(), "Connection: close\r\n")
}

func TestWriteChunkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteChunk(w, []byte("hello")))
	require.NoError(t, WriteChunkEOF(w, nil))
	require.NoError(t, w.Flush())
	assert.Equal(t, "5\r\nhello\r\n0\r\n\r\n", buf.String())
}

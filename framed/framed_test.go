/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package framed

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMoreReady(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	f := New(server, 0)

	go func() {
		_, _ = client.Write([]byte("hello"))
	}()

	rr := f.ReadMore()
	require.Equal(t, ReadReady, rr)
	assert.Equal(t, "hello", string(f.Pending()))
}

func TestConsumePartial(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	f := New(server, 0)
	go func() { _, _ = client.Write([]byte("abcdef")) }()
	require.Equal(t, ReadReady, f.ReadMore())

	f.Consume(3)
	assert.Equal(t, "def", string(f.Pending()))
}

func TestReadMoreTimeoutIsPending(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	f := New(server, 0)
	require.NoError(t, f.SetReadDeadline(time.Now().Add(10*time.Millisecond)))
	rr := f.ReadMore()
	assert.Equal(t, ReadPending, rr)
}

func TestReadMoreEOF(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() { _ = client.Close() }()
	f := New(server, 0)
	rr := f.ReadMore()
	assert.Equal(t, ReadEOF, rr)
}

func TestWriteAndFlush(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	f := New(server, 0)
	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := client.Read(buf)
		done <- buf[:n]
	}()

	_, err := f.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, f.Flush())

	select {
	case got := <-done:
		assert.Equal(t, "hi", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write")
	}
}

func TestTakeOverReturnsLeftover(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	f := New(server, 0)
	go func() { _, _ = client.Write([]byte("leftover")) }()
	require.Equal(t, ReadReady, f.ReadMore())

	conn, leftover := f.TakeOver()
	assert.Equal(t, "leftover", string(leftover))
	assert.NotNil(t, conn)
}

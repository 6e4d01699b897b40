/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package dispatch

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badu/dispatch/internal/testpipe"
)

func echoApp(body string) AppService {
	return ServiceFunc[*Request, *Response](func(ctx context.Context, req *Request) (*Response, error) {
		resp := NewResponse(200)
		resp.Kind = BodySized
		resp.Len = int64(len(body))
		resp.Body = io.NopCloser(strings.NewReader(body))
		return resp, nil
	})
}

func serveInBackground(t *testing.T, h *ServiceHandler, server net.Conn) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background(), server) }()
	return done
}

func TestServeSimpleGET(t *testing.T) {
	server, client := testpipe.Pair()
	defer client.Close()

	h := NewServiceHandler(echoApp("hello"))
	require.NoError(t, h.WaitReady(context.Background()))
	done := serveInBackground(t, h, server)

	require.NoError(t, client.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(client)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", status)

	all, err := io.ReadAll(r)
	if err != nil && err != io.EOF {
		require.NoError(t, err)
	}
	assert.Contains(t, string(all), "hello")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeExpectContinueThenBody(t *testing.T) {
	server, client := testpipe.Pair()
	defer client.Close()

	var seenBody string
	app := ServiceFunc[*Request, *Response](func(ctx context.Context, req *Request) (*Response, error) {
		var b []byte
		for {
			chunk, err := req.Body.Read()
			b = append(b, chunk...)
			if err != nil {
				break
			}
		}
		seenBody = string(b)
		resp := NewResponse(200)
		resp.Kind = BodyNone
		return resp, nil
	})

	h := NewServiceHandler(app)
	require.NoError(t, h.WaitReady(context.Background()))
	done := serveInBackground(t, h, server)

	require.NoError(t, client.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := client.Write([]byte("POST /x HTTP/1.1\r\nHost: example.com\r\nExpect: 100-continue\r\nContent-Length: 5\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(client)
	interim, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, interim, "100 Continue")
	// consume the blank line terminating the interim response
	_, err = r.ReadString('\n')
	require.NoError(t, err)

	_, err = client.Write([]byte("howdy"))
	require.NoError(t, err)

	status, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, status, "200")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, "howdy", seenBody)
}

func TestServeMalformedHeadWrites400AndCloses(t *testing.T) {
	server, client := testpipe.Pair()
	defer client.Close()

	h := NewServiceHandler(echoApp("unused"))
	require.NoError(t, h.WaitReady(context.Background()))
	done := serveInBackground(t, h, server)

	require.NoError(t, client.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := client.Write([]byte("NOT A REQUEST\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(client)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 400 Bad Request\r\n", status)

	rest, err := io.ReadAll(r)
	if err != nil && err != io.EOF {
		require.NoError(t, err)
	}
	assert.Contains(t, string(rest), "Connection: close")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeExpectRejectedWrites417WithoutReadingBody(t *testing.T) {
	server, client := testpipe.Pair()
	defer client.Close()

	errExpectationFailed := errors.New("expectation rejected")
	app := ServiceFunc[*Request, *Response](func(ctx context.Context, req *Request) (*Response, error) {
		t.Fatal("application service must not be called when Expect is rejected")
		return nil, nil
	})
	expect := ServiceFunc[*Request, *Request](func(ctx context.Context, req *Request) (*Request, error) {
		return nil, errExpectationFailed
	})
	cfg := NewServiceConfig(WithErrorMapper(func(err error) *Response {
		if errors.Is(err, errExpectationFailed) {
			return NewResponse(417)
		}
		return NewResponse(500)
	}))

	h := NewServiceHandler(app, WithExpect(expect), WithConfig(cfg))
	require.NoError(t, h.WaitReady(context.Background()))
	done := serveInBackground(t, h, server)

	require.NoError(t, client.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := client.Write([]byte("POST /x HTTP/1.1\r\nHost: example.com\r\nExpect: 100-continue\r\nContent-Length: 5\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(client)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 417 Expectation Failed\r\n", status)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServePipelinedRequestsAnsweredInOrder(t *testing.T) {
	server, client := testpipe.Pair()
	defer client.Close()

	cfg := NewServiceConfig(WithKeepAlive(time.Minute))
	h := NewServiceHandler(echoApp("ok"), WithConfig(cfg))
	require.NoError(t, h.WaitReady(context.Background()))
	done := serveInBackground(t, h, server)

	require.NoError(t, client.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := client.Write([]byte(
		"GET /a HTTP/1.1\r\nHost: x\r\n\r\n" +
			"GET /b HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n",
	))
	require.NoError(t, err)

	r := bufio.NewReader(client)
	for i := 0; i < 2; i++ {
		status, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "HTTP/1.1 200 OK\r\n", status)
		for {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			if line == "\r\n" {
				break
			}
		}
		body := make([]byte, 2)
		_, err = io.ReadFull(r, body)
		require.NoError(t, err)
		assert.Equal(t, "ok", string(body))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package header

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"content-length", "Content-Length"},
		{"CONTENT-LENGTH", "Content-Length"},
		{"transfer-encoding", "Transfer-Encoding"},
		{"x-custom-header", "X-Custom-Header"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Canonical(tt.in), "input %q", tt.in)
	}
}

func TestMapAddPreservesOrderAndMultiValue(t *testing.T) {
	m := New()
	m.Add("X-A", "1")
	m.Add("x-b", "2")
	m.Add("X-A", "3")

	assert.Equal(t, []string{"X-A", "X-B"}, m.Keys())
	assert.Equal(t, []string{"1", "3"}, m.Values("X-A"))
	assert.Equal(t, "1", m.Get("x-a"))
}

func TestMapSetReplaces(t *testing.T) {
	m := New()
	m.Add("X-A", "1")
	m.Set("X-A", "2")
	assert.Equal(t, []string{"2"}, m.Values("X-A"))
}

func TestMapDel(t *testing.T) {
	m := New()
	m.Add("X-A", "1")
	m.Add("X-B", "2")
	m.Del("X-A")
	assert.False(t, m.Has("X-A"))
	assert.Equal(t, []string{"X-B"}, m.Keys())
}

func TestHasToken(t *testing.T) {
	m := New()
	m.Add(Connection, "keep-alive, Upgrade")
	assert.True(t, m.HasToken(Connection, "upgrade"))
	assert.True(t, m.HasToken(Connection, KeepAlive))
	assert.False(t, m.HasToken(Connection, Close))
}

func TestClone(t *testing.T) {
	m := New()
	m.Add("X-A", "1")
	c := m.Clone()
	c.Add("X-A", "2")
	assert.Equal(t, []string{"1"}, m.Values("X-A"))
	assert.Equal(t, []string{"1", "2"}, c.Values("X-A"))
}

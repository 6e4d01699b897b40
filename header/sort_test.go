/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package header

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortedKeysIsAlphabeticalRegardlessOfInsertionOrder(t *testing.T) {
	m := New()
	m.Add("X-Z", "1")
	m.Add("X-A", "2")
	m.Add("Content-Type", "text/plain")

	assert.Equal(t, []string{"X-Z", "X-A", "Content-Type"}, m.Keys())
	assert.Equal(t, []string{"Content-Type", "X-A", "X-Z"}, SortedKeys(m))
}

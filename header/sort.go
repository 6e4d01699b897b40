/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package header

import "sort"

// SortedKeys returns m's canonical header names sorted alphabetically,
// independent of Map's normal first-seen ordering. Wire encoding never
// uses this — the codec writes headers in insertion order, as RFC 7230
// permits any order — but log lines and test fixtures that enumerate a
// Map's contents want a stable order across runs, the same role the
// teacher's headerSorter plays for Header.WriteSubset, simplified here
// since Map already tracks insertion order itself and has no need for
// the teacher's sync.Pool-backed sort-on-every-write path.
func SortedKeys(m *Map) []string {
	keys := append([]string(nil), m.Keys()...)
	sort.Strings(keys)
	return keys
}

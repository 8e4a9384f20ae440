// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package netmgr

import (
	"net"
	"sync/atomic"
)

// Handle is the reference-counted, user-facing token for one connection
// (spec.md §3 "Handle"). A Handle never owns its socket by refcount —
// the owning nmsocket's active-handle table is what keeps the handle
// reachable for a forced close — which is what lets close walk every
// live handle without waiting on caller-held references.
type Handle struct {
	sock *nmsocket

	references atomic.Int32
	detached   atomic.Bool // guards detachHandle against running twice for the same handle
	ahPos      int         // index into sock.ahHandles, valid while references > 0

	peer  net.Addr
	local net.Addr

	opaque  any
	resetCB func(h *Handle)
	freeCB  func(h *Handle)
	extra   []byte
}

// Peer returns the remote address associated with this handle.
func (h *Handle) Peer() net.Addr { return h.peer }

// Local returns the local address associated with this handle.
func (h *Handle) Local() net.Addr { return h.local }

// Extra returns the caller-reserved scratch region requested via
// extrasize at listen/connect time (nmhandle_getextra).
func (h *Handle) Extra() []byte { return h.extra }

// Opaque returns the caller-supplied opaque value passed at accept or
// connect time.
func (h *Handle) Opaque() any { return h.opaque }

// Ref increments the handle's reference count (nmhandle_ref).
func (h *Handle) Ref() {
	h.references.Add(1)
}

// Unref decrements the handle's reference count (nmhandle_unref). When
// it reaches zero, the handle is detached from its socket's
// active-handle table, the user reset and free callbacks fire in that
// order, and the handle is returned to its socket's inactive-handle
// stack for reuse. Guards against being called again after the count
// already hit zero (spec.md §8 property 8: no handle callback fires
// after the last reference drops) — a plain Add(-1) would re-run
// detachHandle, and its callbacks, on every subsequent over-release.
func (h *Handle) Unref() {
	for {
		v := h.references.Load()
		if v <= 0 {
			return
		}
		if h.references.CompareAndSwap(v, v-1) {
			if v == 1 {
				h.sock.detachHandle(h)
			}
			return
		}
	}
}

// activeHandleTable is the per-socket compacted array of live handles
// (spec.md §3 "Active-handle table"). It keeps no separate free-slot
// stack. add is O(1) amortised, remove is O(1): removal swaps the removed
// handle with the one at the end of the live region and fixes up its
// ahPos, so the live region [0, len) never has holes.
type activeHandleTable struct {
	handles []*Handle // handles[0:n] are live; handles[n:] is scratch capacity
	n       int
}

// add inserts h into the table and records its position. The caller
// must hold sock.mu.
func (t *activeHandleTable) add(h *Handle) {
	if t.n < len(t.handles) {
		t.handles[t.n] = h
	} else {
		t.handles = append(t.handles, h)
	}
	h.ahPos = t.n
	t.n++
}

// remove swaps-and-pops h out of the table. The caller must hold
// sock.mu.
func (t *activeHandleTable) remove(h *Handle) {
	last := t.n - 1
	moved := t.handles[last]
	t.handles[h.ahPos] = moved
	moved.ahPos = h.ahPos
	t.handles[last] = nil
	t.n--
	h.ahPos = -1
}

// walk invokes fn for every live handle. The caller must hold sock.mu.
func (t *activeHandleTable) walk(fn func(*Handle)) {
	for i := 0; i < t.n; i++ {
		fn(t.handles[i])
	}
}

// newHandle allocates (or pops from the inactive stack) a handle for
// sock, registers it in the active-handle table, and increments sock's
// reference count — the socket's one path to gaining a new live
// handle (spec.md §4.3).
func (s *nmsocket) newHandle(peer, local net.Addr, opaque any) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var h *Handle
	if n := len(s.inactiveHandles); n > 0 {
		h = s.inactiveHandles[n-1]
		s.inactiveHandles = s.inactiveHandles[:n-1]
		*h = Handle{sock: s}
	} else {
		h = &Handle{sock: s}
	}
	h.peer = peer
	h.local = local
	h.opaque = opaque
	if s.extraSize > 0 {
		h.extra = make([]byte, s.extraSize)
	}
	h.references.Store(1)

	s.ah.add(h)
	s.references.Add(1)
	return h
}

// detachHandle runs the reset/free callback pair and removes h from
// the active-handle table, then releases the socket reference the
// handle was holding (spec.md §3 "Lifecycles" — Handle).
func (s *nmsocket) detachHandle(h *Handle) {
	if !h.detached.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	if h.ahPos >= 0 {
		s.ah.remove(h)
	}
	s.inactiveHandles = append(s.inactiveHandles, h)
	s.mu.Unlock()

	if h.resetCB != nil {
		h.resetCB(h)
	}
	if h.freeCB != nil {
		h.freeCB(h)
	}
	if s.closeHandleCB != nil {
		s.closeHandleCB(h)
	}

	s.detach()
}

// closeAllHandles forcibly walks and detaches every live handle on s,
// used by close to guarantee every outstanding Handle stops being
// valid without waiting for caller-held Unref calls.
func (s *nmsocket) closeAllHandles() {
	s.mu.Lock()
	live := make([]*Handle, s.ah.n)
	copy(live, s.ah.handles[:s.ah.n])
	s.mu.Unlock()

	for _, h := range live {
		h.references.Store(0)
		s.detachHandle(h)
	}
}

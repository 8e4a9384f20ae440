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
	"encoding/binary"
	"fmt"
	"math/rand"
	"testing"
	"time"
)

// newTestTCPDNSWrap builds a TCPDNS wrapper socket and its TCP carrier,
// both pinned to worker 0, without going through a real listener or
// network connection — enough to exercise tcpdnsOnData's pure framing
// logic and the overlimit/sequential bookkeeping that calls
// PauseRead/ResumeRead on the carrier.
func newTestTCPDNSWrap(mgr *Manager, sequential bool, maxQueries int) *nmsocket {
	outer := newSocket(mgr, typeTCP, 0)
	outer.active.Store(true)

	wrap := newSocket(mgr, typeTCPDNS, 0)
	wrap.outer = outer
	wrap.self = wrap
	wrap.sequential.Store(sequential)
	wrap.tcpdns = &tcpdnsState{maxQueries: maxQueries, sequentialOK: true}
	wrap.active.Store(true)
	wrap.statichandle = wrap.newHandle(nil, nil, nil)
	return wrap
}

func encodeTCPDNSFrame(msg []byte) []byte {
	framed := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(framed, uint16(len(msg)))
	copy(framed[2:], msg)
	return framed
}

func encodeTCPDNSFrames(msgs [][]byte) []byte {
	var out []byte
	for _, m := range msgs {
		out = append(out, encodeTCPDNSFrame(m)...)
	}
	return out
}

// TestTCPDNSFramingAcrossSegments is spec.md §8 concrete scenario 2:
// "00 05 48 45 4C 4C 4F 00 03 42 59 45" split as writes of sizes
// 1, 2, 4, 5 must deliver "HELLO" then "BYE", in that order.
func TestTCPDNSFramingAcrossSegments(t *testing.T) {
	mgr := Create(1)
	defer mgr.Destroy()

	wrap := newTestTCPDNSWrap(mgr, false, 100)
	defer wrap.close()

	var delivered []string
	wrap.recvCB = func(h *Handle, region []byte, r Result) {
		if !r.Ok() {
			t.Fatalf("unexpected non-Ok result: %v", r)
		}
		delivered = append(delivered, string(region))
	}

	full := []byte{0x00, 0x05, 'H', 'E', 'L', 'L', 'O', 0x00, 0x03, 'B', 'Y', 'E'}
	splits := []int{1, 2, 4, 5}

	off := 0
	for _, n := range splits {
		mgr.tcpdnsOnData(wrap, full[off:off+n], success)
		off += n
	}
	if off != len(full) {
		t.Fatalf("test bug: splits sum to %d, want %d", off, len(full))
	}

	if len(delivered) != 2 {
		t.Fatalf("delivered %d messages, want 2: %v", len(delivered), delivered)
	}
	if delivered[0] != "HELLO" || delivered[1] != "BYE" {
		t.Fatalf("delivered %q, want [\"HELLO\" \"BYE\"]", delivered)
	}
}

func multisetEqual(got [][]byte, want [][]byte) bool {
	if len(got) != len(want) {
		return false
	}
	used := make([]bool, len(want))
	for _, g := range got {
		found := false
		for i, w := range want {
			if used[i] {
				continue
			}
			if string(g) == string(w) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// TestTCPDNSFramingRoundTripArbitrarySplits verifies spec.md §8
// property 6: for any byte sequence split arbitrarily across reads,
// the multiset of delivered messages equals the multiset produced by
// framing the same bytes in one pass.
func TestTCPDNSFramingRoundTripArbitrarySplits(t *testing.T) {
	mgr := Create(1)
	defer mgr.Destroy()

	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 25; trial++ {
		n := rng.Intn(6) + 1
		msgs := make([][]byte, n)
		for i := range msgs {
			msg := make([]byte, rng.Intn(40))
			rng.Read(msg)
			msgs[i] = msg
		}
		encoded := encodeTCPDNSFrames(msgs)

		wrap := newTestTCPDNSWrap(mgr, false, len(msgs)+1)
		var got [][]byte
		wrap.recvCB = func(h *Handle, region []byte, r Result) {
			cp := append([]byte(nil), region...)
			got = append(got, cp)
		}

		// Split encoded at arbitrary points.
		var splits []int
		off := 0
		for off < len(encoded) {
			step := rng.Intn(5) + 1
			if off+step > len(encoded) {
				step = len(encoded) - off
			}
			splits = append(splits, step)
			off += step
		}

		off = 0
		for _, step := range splits {
			mgr.tcpdnsOnData(wrap, encoded[off:off+step], success)
			off += step
		}

		if !multisetEqual(got, msgs) {
			t.Fatalf("trial %d: framed messages mismatch:\n got:  %s\n want: %s", trial, fmtMsgs(got), fmtMsgs(msgs))
		}
	}
}

func fmtMsgs(msgs [][]byte) string {
	return fmt.Sprintf("%v", msgs)
}

// TestTCPDNSSequentialModeWithholdsNextFrame exercises spec.md §4.6
// "sequential mode: while processing=true, do not deliver another
// frame; deliver the next only after the send completion of the prior
// response."
func TestTCPDNSSequentialModeWithholdsNextFrame(t *testing.T) {
	mgr := Create(1)
	defer mgr.Destroy()

	wrap := newTestTCPDNSWrap(mgr, true, 100)

	var delivered []string
	wrap.recvCB = func(h *Handle, region []byte, r Result) {
		delivered = append(delivered, string(region))
	}

	encoded := encodeTCPDNSFrames([][]byte{[]byte("ONE"), []byte("TWO")})
	mgr.tcpdnsOnData(wrap, encoded, success)

	if len(delivered) != 1 || delivered[0] != "ONE" {
		t.Fatalf("sequential mode delivered %v before the first response completed, want only [ONE]", delivered)
	}
	if !wrap.processing.Load() {
		t.Fatal("expected processing=true while the first message is outstanding")
	}

	// Simulate the send completion of the first response: this should
	// unblock delivery of the second, already-buffered frame.
	tcpdnsMessageDone(wrap)
	// tcpdnsMessageDone does not itself re-drive the buffer scan; that
	// happens the next time bytes arrive (spec.md's wrapper re-enters
	// its framing loop on the next tcpdnsOnData call). Feed an empty
	// read to trigger the re-scan.
	mgr.tcpdnsOnData(wrap, nil, success)

	if len(delivered) != 2 || delivered[1] != "TWO" {
		t.Fatalf("after completion, delivered = %v, want [ONE TWO]", delivered)
	}
}

// TestTCPDNSOverlimitPausesReadAndResumesOnDrain exercises spec.md
// §4.6 "per-connection limit: when concurrent unanswered queries
// exceed a configured maximum, set overlimit=true and pause further
// reads until the count drops."
func TestTCPDNSOverlimitPausesReadAndResumesOnDrain(t *testing.T) {
	mgr := Create(1)
	defer mgr.Destroy()

	wrap := newTestTCPDNSWrap(mgr, false, 1)

	var delivered int
	wrap.recvCB = func(h *Handle, region []byte, r Result) { delivered++ }

	encoded := encodeTCPDNSFrames([][]byte{[]byte("A"), []byte("B")})
	mgr.tcpdnsOnData(wrap, encoded, success)

	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1 (second message held back by maxQueries=1)", delivered)
	}
	if !wrap.overlimit.Load() {
		t.Fatal("expected overlimit=true once inFlight reached maxQueries")
	}

	waitUntil(t, time.Second, func() bool { return wrap.outer.readpaused.Load() })

	// Retire the first message; this should clear overlimit and resume
	// reads, then a re-scan delivers the second buffered message.
	tcpdnsMessageDone(wrap)
	mgr.tcpdnsOnData(wrap, nil, success)

	if delivered != 2 {
		t.Fatalf("delivered = %d, want 2 after draining the in-flight slot", delivered)
	}
	if wrap.overlimit.Load() {
		t.Fatal("expected overlimit cleared after draining")
	}
	waitUntil(t, time.Second, func() bool { return !wrap.outer.readpaused.Load() })
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met within timeout")
	}
}

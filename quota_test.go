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
	"sync"
	"testing"
)

func TestQuotaAcquireReleaseBalance(t *testing.T) {
	q := NewQuota(1)

	tok1, ok := q.acquire()
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	_, ok = q.acquire()
	if ok {
		t.Fatal("second acquire should fail while the first token is held")
	}

	tok1.release()

	tok2, ok := q.acquire()
	if !ok {
		t.Fatal("acquire after release should succeed")
	}
	tok2.release()
}

func TestQuotaReleaseIsIdempotent(t *testing.T) {
	q := NewQuota(1)
	tok, ok := q.acquire()
	if !ok {
		t.Fatal("acquire should succeed")
	}
	tok.release()
	tok.release() // must not under-flow cur below what a fresh acquire expects
	tok.release()

	tok2, ok := q.acquire()
	if !ok {
		t.Fatal("acquire after idempotent releases should still succeed exactly once")
	}
	tok2.release()

	if _, ok := q.acquire(); !ok {
		t.Fatal("quota should still allow exactly one concurrent token")
	}
	if _, ok := q.acquire(); ok {
		t.Fatal("quota should refuse a second concurrent token")
	}
}

func TestNilQuotaAlwaysAcquires(t *testing.T) {
	var q *Quota
	for i := 0; i < 5; i++ {
		tok, ok := q.acquire()
		if !ok {
			t.Fatal("nil quota (no quota configured) must always succeed")
		}
		tok.release()
	}
}

func TestUnlimitedQuotaNeverRefuses(t *testing.T) {
	q := NewQuota(0)
	var toks []*quotaToken
	for i := 0; i < 1000; i++ {
		tok, ok := q.acquire()
		if !ok {
			t.Fatalf("unlimited quota refused acquire #%d", i)
		}
		toks = append(toks, tok)
	}
	for _, tok := range toks {
		tok.release()
	}
}

// TestQuotaRateLimitRefusesBurstBeyondConfiguredRate exercises the
// advisory golang.org/x/time/rate layer SetRate attaches: with a
// burst of 2 and a near-zero refill rate, only the first 2 acquires in
// a tight loop should succeed even though max allows far more
// concurrent connections.
func TestQuotaRateLimitRefusesBurstBeyondConfiguredRate(t *testing.T) {
	q := NewQuota(100)
	q.SetRate(0.001, 2)

	var granted int
	for i := 0; i < 5; i++ {
		if _, ok := q.acquire(); ok {
			granted++
		}
	}
	if granted != 2 {
		t.Fatalf("granted = %d, want exactly 2 (the configured burst)", granted)
	}
}

// TestQuotaSetRateZeroClearsLimiter confirms SetRate(0, ...) removes
// any previously configured limiter, leaving only the hard max quota.
func TestQuotaSetRateZeroClearsLimiter(t *testing.T) {
	q := NewQuota(100)
	q.SetRate(0.001, 1)
	if _, ok := q.acquire(); !ok {
		t.Fatal("first acquire under the burst should succeed")
	}
	q.SetRate(0, 0)
	for i := 0; i < 10; i++ {
		if _, ok := q.acquire(); !ok {
			t.Fatalf("acquire #%d failed after clearing the rate limiter, want unlimited by rate", i)
		}
	}
}

// TestQuotaConcurrentAcquireNeverExceedsMax exercises the
// compare-and-swap loop in Quota.acquire under contention: with max=N
// and 10N concurrent acquirers, exactly N should succeed.
func TestQuotaConcurrentAcquireNeverExceedsMax(t *testing.T) {
	const max = 8
	q := NewQuota(max)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var granted int

	for i := 0; i < max*10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := q.acquire(); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != max {
		t.Fatalf("granted = %d, want exactly %d", granted, max)
	}
}

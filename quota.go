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
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Quota is the non-owning pquota a TCP-family listener carries
// (spec.md §3, §5): each accepted socket acquires one token on accept
// and releases it on close. Acquire failure refuses the connection at
// accept time rather than after a handle is handed to the user.
//
// An optional token-bucket limiter (golang.org/x/time/rate, the same
// package the teacher's listeners.go reaches for to throttle QUIC
// handshakes) smooths bursts of accepts independently of the hard
// concurrent-connection ceiling: SetRate caps how fast new connections
// are admitted, while max caps how many may be open at once.
type Quota struct {
	max atomic.Int64
	cur atomic.Int64

	limiter atomic.Pointer[rate.Limiter]
}

// SetRate configures an advisory accept-rate limit: at most burst
// accepts may land back to back, refilling at rps per second
// thereafter. A zero rps clears any configured limiter (the default:
// only the hard quota in max applies).
func (q *Quota) SetRate(rps float64, burst int) {
	if q == nil {
		return
	}
	if rps <= 0 {
		q.limiter.Store(nil)
		return
	}
	q.limiter.Store(rate.NewLimiter(rate.Limit(rps), burst))
}

// NewQuota creates a Quota capping concurrent accepted connections at
// max. max <= 0 means unlimited, matching a listener created without a
// quota argument (spec.md §4.1 "listen_tcpdns(..., quota, sock_out)"
// takes quota as optional).
func NewQuota(max int64) *Quota {
	q := &Quota{}
	q.max.Store(max)
	return q
}

// SetMax adjusts the quota's ceiling without disturbing already-issued
// tokens.
func (q *Quota) SetMax(max int64) {
	q.max.Store(max)
}

// quotaToken is the acquired handle an accepted socket holds; release
// is idempotent so a socket that never finished accepting can still
// safely call it during close cleanup.
type quotaToken struct {
	q        *Quota
	released atomic.Bool
}

// acquire attempts to take one token from q. A nil q (no quota
// configured) always succeeds and returns a token whose release is a
// no-op.
func (q *Quota) acquire() (*quotaToken, bool) {
	if q == nil {
		return &quotaToken{}, true
	}
	if lim := q.limiter.Load(); lim != nil && !lim.Allow() {
		return nil, false
	}
	max := q.max.Load()
	if max <= 0 {
		return &quotaToken{q: q}, true
	}
	for {
		cur := q.cur.Load()
		if cur >= max {
			return nil, false
		}
		if q.cur.CompareAndSwap(cur, cur+1) {
			return &quotaToken{q: q}, true
		}
	}
}

func (t *quotaToken) release() {
	if t == nil || t.q == nil {
		return
	}
	if t.released.CompareAndSwap(false, true) {
		t.q.cur.Add(-1)
	}
}

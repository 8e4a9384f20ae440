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
	"time"
)

// socketTimer is the one timer embedded in every nmsocket (spec.md
// §4.8): armed at connect/accept, reset on read progress, cancelled at
// close. Expiry posts a timeout event onto the socket's owning worker
// rather than firing the callback directly from time.AfterFunc's own
// goroutine, preserving the thread-affinity rule.
type socketTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	onFired func()
}

// arm (re)starts the timer with duration d, replacing any timer already
// running. d <= 0 disables the timer.
func (t *socketTimer) arm(d time.Duration, onFired func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.onFired = onFired
	if d <= 0 {
		return
	}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		fn := t.onFired
		t.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// reset re-arms the timer with duration d, keeping the expiry callback
// it was last armed with; used on read progress to move from the init
// timeout to the idle (or keepalive) timeout (spec.md §4.5).
func (t *socketTimer) reset(d time.Duration) {
	t.mu.Lock()
	fn := t.onFired
	t.mu.Unlock()
	t.arm(d, fn)
}

// cancel stops the timer permanently. Safe to call multiple times.
func (t *socketTimer) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.onFired = nil
}

func newSocketTimer() *socketTimer {
	return &socketTimer{}
}

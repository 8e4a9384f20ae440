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
	"sync/atomic"

	"go.uber.org/zap"
)

// networker is one worker (spec.md §3 "Worker"): a goroutine is Go's
// natural substitute for the thread-plus-event-loop the original source
// runs per worker, and a pair of buffered channels is the natural
// substitute for the ievents/ievents_prio MPSC queues plus async
// wake-up handle — a channel send already wakes a blocked receiver, so
// there is no separate "async" primitive to model.
type networker struct {
	id  int
	mgr *Manager

	prio   chan netievent
	normal chan netievent

	paused   atomic.Bool
	finished atomic.Bool

	references atomic.Int32
	pktcount   atomic.Uint64

	done chan struct{}
}

func newWorker(mgr *Manager, id int) *networker {
	return &networker{
		id:     id,
		mgr:    mgr,
		prio:   make(chan netievent, 256),
		normal: make(chan netievent, 1024),
		done:   make(chan struct{}),
	}
}

// enqueue dispatches ev onto w's priority or normal queue per its type
// (spec.md §4.2). This is the only way code outside w's own goroutine
// may act on a socket pinned to w.
func (w *networker) enqueue(ev netievent) {
	if ev.typ.priority() {
		w.prio <- ev
		return
	}
	w.normal <- ev
}

// run is the worker's event loop (spec.md §4.2): drain the priority
// queue fully, then — if not paused — drain the normal queue, then
// block until something is ready. wg.Done is called once the loop
// exits, after shutdown has drained every remaining event.
func (w *networker) run(wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(w.done)

	for {
		// Drain the priority queue fully before ever looking at the
		// normal queue, paused or not (spec.md §4.2).
		select {
		case ev := <-w.prio:
			w.dispatch(ev)
			continue
		default:
		}

		if w.paused.Load() {
			w.dispatch(<-w.prio)
			if w.finished.Load() && len(w.prio) == 0 {
				return
			}
			continue
		}

		select {
		case ev := <-w.prio:
			w.dispatch(ev)
		case ev := <-w.normal:
			w.dispatch(ev)
		}

		if w.finished.Load() && len(w.prio) == 0 && len(w.normal) == 0 {
			return
		}
	}
}

func (w *networker) dispatch(ev netievent) {
	defer func() {
		if r := recover(); r != nil {
			Log().Error("netievent panicked", zap.Int("worker", w.id), zap.Stringer("type", ev.typ), zap.Any("recover", r))
		}
	}()
	ev.run()
	w.pktcount.Add(1)
}

// requestFinish marks w to stop once its queues drain, used during
// Manager.Shutdown.
func (w *networker) requestFinish() {
	w.finished.Store(true)
	// Wake the loop in case it is blocked waiting on an empty normal
	// queue with nothing else pending.
	w.enqueue(newEvent(netieventShutdown, func() {}))
}

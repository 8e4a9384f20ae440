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
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// Manager is the netmgr process-wide singleton-per-instance (spec.md
// §3 "Manager"): it owns the fixed worker pool, the global interlock,
// TCP timeouts, and the live-socket set (exposed to callers only when
// tracing is enabled). It holds no quota configuration: each
// TCP-family listener is given its own *Quota.
type Manager struct {
	mctx string // opaque caller-supplied context tag, carried for parity with isc_mem_t *mctx

	workers []*networker
	wg      sync.WaitGroup

	references atomic.Int32
	closing    atomic.Bool

	interlocked  atomic.Bool
	stateCond    *sync.Cond
	stateMu      sync.Mutex
	workersRun   int
	workersPause int

	maxUDP atomic.Uint32

	initTimeout       atomic.Int64 // milliseconds
	idleTimeout       atomic.Int64
	keepaliveTimeout  atomic.Int64
	advertisedTimeout atomic.Int64

	stats *Stats

	trace         bool
	activeSockets sync.Map // traceID -> *nmsocket

	rrNext atomic.Uint64 // round-robin cursor for picking a worker
}

// Option configures a Manager at Create time.
type Option func(*Manager)

// WithTrace enables Manager.ActiveSockets (spec.md §C.1).
func WithTrace() Option {
	return func(m *Manager) { m.trace = true }
}

// WithMetricsNamespace sets the Prometheus namespace Stats registers
// counters under; defaults to "netmgr".
func WithMetricsNamespace(ns string) Option {
	return func(m *Manager) { m.stats = NewStats(ns) }
}

// WithContext tags the manager with an opaque label, kept for parity
// with the original source's mctx. The label is only stored; no log
// line or other output includes it.
func WithContext(ctx string) Option {
	return func(m *Manager) { m.mctx = ctx }
}

// Create spawns nworkers goroutines, each running its own worker loop
// (spec.md §4.1 "create"). nworkers <= 0 defaults to
// runtime.GOMAXPROCS(0) after applying automaxprocs, matching the
// teacher's use of go.uber.org/automaxprocs to pick a container-aware
// default degree of parallelism.
func Create(nworkers int, opts ...Option) *Manager {
	if nworkers <= 0 {
		undo, err := maxprocs.Set(maxprocs.Logger(func(string, ...any) {}))
		if err != nil {
			Log().Warn("automaxprocs set failed, using default worker count", zap.Error(err))
		} else {
			defer undo()
		}
		nworkers = defaultWorkerCount()
	}

	m := &Manager{}
	m.stateCond = sync.NewCond(&m.stateMu)
	m.references.Store(1)
	m.maxUDP.Store(65535)
	m.stats = NewStats("netmgr")

	for _, opt := range opts {
		opt(m)
	}

	m.workers = make([]*networker, nworkers)
	for i := range m.workers {
		w := newWorker(m, i)
		m.workers[i] = w
		m.workersRun++
		m.wg.Add(1)
		go w.run(&m.wg)
	}

	Log().Info("netmgr manager created", zap.Int("workers", nworkers))
	return m
}

func defaultWorkerCount() int {
	if n := runtime.GOMAXPROCS(0); n > 0 {
		return n
	}
	return 1
}

// NWorkers returns the fixed worker pool size chosen at Create.
func (m *Manager) NWorkers() int { return len(m.workers) }

// workerFor picks the worker a new listener/connect socket is pinned
// to. Listeners fan children across every worker (spec.md §4.4/§4.5);
// single connect sockets round-robin for load spreading.
func (m *Manager) workerFor() int {
	n := uint64(len(m.workers))
	idx := m.rrNext.Add(1) - 1
	return int(idx % n)
}

// Attach increments the manager's reference count.
func (m *Manager) Attach() { m.references.Add(1) }

// Detach decrements the manager's reference count.
func (m *Manager) Detach() { m.references.Add(-1) }

// SetMaxUDP live-adjusts the maximum accepted inbound UDP datagram
// size (spec.md §4.1 "set_maxudp", §C.6 — an atomic, changeable after
// sockets are already listening).
func (m *Manager) SetMaxUDP(size uint32) {
	m.maxUDP.Store(size)
}

// SetTimeouts configures the TCP-family init/idle/keepalive timeouts
// and the advertised EDNS-keepalive value exposed to higher layers
// (spec.md §4.1, §4.5). Durations are stored as milliseconds
// internally, matching the original source's representation; the
// tenths-of-a-second wire encoding named in spec.md is the concern of
// the configuration layer above netmgr, not of this Go API.
func (m *Manager) SetTimeouts(init, idle, keepalive, advertised time.Duration) {
	m.initTimeout.Store(init.Milliseconds())
	m.idleTimeout.Store(idle.Milliseconds())
	m.keepaliveTimeout.Store(keepalive.Milliseconds())
	m.advertisedTimeout.Store(advertised.Milliseconds())
}

func (m *Manager) timeout(ms *atomic.Int64) time.Duration {
	return time.Duration(ms.Load()) * time.Millisecond
}

// Pause enqueues a priority pause event to every worker and blocks
// until workersPaused == workersRunning (spec.md §4.1 "Pause/Resume").
// Reentrant via the interlocked flag: a second caller blocks on the
// state condition rather than racing a second pause to completion.
func (m *Manager) Pause() {
	m.stateMu.Lock()
	for m.interlocked.Load() {
		m.stateCond.Wait()
	}
	m.interlocked.Store(true)
	m.stateMu.Unlock()

	for _, w := range m.workers {
		w.enqueue(pauseEvent(w))
	}

	m.stateMu.Lock()
	for m.workersPause < m.workersRun {
		m.stateCond.Wait()
	}
	m.stateMu.Unlock()
}

func pauseEvent(w *networker) netievent {
	return netievent{typ: netieventPause, run: func() {
		w.paused.Store(true)
		w.mgr.stateMu.Lock()
		w.mgr.workersPause++
		w.mgr.stateCond.Broadcast()
		w.mgr.stateMu.Unlock()
	}}
}

// Resume enqueues a priority resume event to every worker (spec.md
// §4.1).
func (m *Manager) Resume() {
	for _, w := range m.workers {
		ww := w
		ww.enqueue(netievent{typ: netieventResume, run: func() {
			ww.paused.Store(false)
			ww.mgr.stateMu.Lock()
			ww.mgr.workersPause--
			ww.mgr.stateCond.Broadcast()
			ww.mgr.stateMu.Unlock()
		}})
	}

	m.stateMu.Lock()
	m.interlocked.Store(false)
	m.stateCond.Broadcast()
	m.stateMu.Unlock()
}

// Shutdown sets closing, broadcasts a shutdown event to every worker
// so in-flight operations are cancelled with Cancelled, and blocks
// until every worker's loop exits (spec.md §4.1 "Shutdown"). Listener
// sockets (pinned to no single worker) are closed directly, the same
// path Socket.Close takes for them.
func (m *Manager) Shutdown() {
	if !m.closing.CompareAndSwap(false, true) {
		return
	}

	m.activeSockets.Range(func(_, v any) bool {
		s := v.(*nmsocket)
		if s.typ.isListener() {
			s.close()
		}
		return true
	})

	for _, w := range m.workers {
		ww := w
		ww.enqueue(newEvent(netieventShutdown, func() {
			m.cancelWorkerSockets(ww.id)
		}))
	}
	for _, w := range m.workers {
		w.requestFinish()
	}
	m.wg.Wait()
	Log().Info("netmgr manager shut down")
}

// cancelWorkerSockets walks every live, non-listener socket pinned to
// worker tid and runs shutdownCancel on it. Called from within a
// netievent dispatched on that worker, so it is the only goroutine
// touching these sockets' non-atomic state at this moment.
func (m *Manager) cancelWorkerSockets(tid int) {
	var targets []*nmsocket
	m.activeSockets.Range(func(_, v any) bool {
		s := v.(*nmsocket)
		if s.tid == tid && !s.typ.isListener() {
			targets = append(targets, s)
		}
		return true
	})
	for _, s := range targets {
		s.shutdownCancel()
	}
}

// Destroy runs Shutdown if it has not run yet, blocks until every
// reference other than the one Create handed out has been released via
// Detach, then releases that last reference.
func (m *Manager) Destroy() {
	if !m.closing.Load() {
		m.Shutdown()
	}
	for m.references.Load() > 1 {
		time.Sleep(time.Millisecond)
	}
	m.references.Add(-1)
}

// Stats exposes the manager's Prometheus-backed counters.
func (m *Manager) Stats() *Stats { return m.stats }

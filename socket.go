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
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// nmsocketType discriminates the tagged union described in spec.md §3
// "Socket" — a single Go struct plays every role, selected by this
// field, rather than one type per transport with virtual dispatch
// (spec.md §9 "Tagged union over inheritance").
type nmsocketType int

const (
	typeUDP nmsocketType = iota
	typeUDPListener
	typeTCP
	typeTCPListener
	typeTCPDNS
	typeTCPDNSListener
	typeTLS
	typeTLSListener
)

func (t nmsocketType) String() string {
	switch t {
	case typeUDP:
		return "udp"
	case typeUDPListener:
		return "udplistener"
	case typeTCP:
		return "tcp"
	case typeTCPListener:
		return "tcplistener"
	case typeTCPDNS:
		return "tcpdns"
	case typeTCPDNSListener:
		return "tcpdnslistener"
	case typeTLS:
		return "tls"
	case typeTLSListener:
		return "tlslistener"
	default:
		return "unknown"
	}
}

func (t nmsocketType) isListener() bool {
	switch t {
	case typeUDPListener, typeTCPListener, typeTCPDNSListener, typeTLSListener:
		return true
	default:
		return false
	}
}

// nmsocket is the per-connection or per-listener state machine
// (spec.md §3 "Socket"). Every field below that is not an atomic or
// protected by mu is only ever touched on worker.tid's goroutine —
// that is the thread-affinity rule (spec.md §5).
type nmsocket struct {
	typ nmsocketType
	tid int // immutable after creation: the owning worker's id
	mgr *Manager

	id        traceID
	extraSize int

	parent   *nmsocket // listener this accepted socket came from
	listener *nmsocket // alias of parent, named per spec.md vocabulary
	self     *nmsocket // TCPDNS wrapper's self-reference (spec.md §C.5)
	outer    *nmsocket // carrier socket: TCP underneath TCPDNS/TLS

	references atomic.Int32

	active      atomic.Bool
	destroying  atomic.Bool
	closing     atomic.Bool
	closed      atomic.Bool
	listening   atomic.Bool
	listenError atomic.Bool
	connecting  atomic.Bool
	connected   atomic.Bool
	connectErr  atomic.Bool
	client      atomic.Bool
	sequential  atomic.Bool
	overlimit   atomic.Bool
	processing  atomic.Bool
	readpaused  atomic.Bool
	keepalive   atomic.Bool
	proxyProtocol atomic.Bool // listener only: unwrap a PROXY protocol header on accept

	result Result

	mu  sync.Mutex
	ah  activeHandleTable
	cond *sync.Cond

	inactiveHandles []*Handle
	inactiveReqs    []*uvreq

	timer *socketTimer

	quota  *quotaToken // attached to an accepted TCP socket
	pquota *Quota      // non-owning, carried by a listener

	opaque any // caller-supplied context carried through to each newHandle call

	backlog       int
	startReadLoop bool // listener only: whether tcpAccepted should start tcpReadLoop on the raw accepted conn
	conn    net.Conn       // TCP/TLS/connected-UDP
	pconn   net.PacketConn // UDP listener
	ln      net.Listener   // TCP/TCPDNS/TLS listener

	statichandle *Handle // for connected sockets: the one handle that always exists
	outerhandle  *Handle

	children []*nmsocket // multi-accept listener children, one per worker

	iface net.Addr

	readTimeout    time.Duration
	connectTimeout time.Duration

	recvCB        func(h *Handle, region []byte, r Result)
	connectCB     func(h *Handle, r Result)
	acceptCB      func(h *Handle, r Result)
	closeHandleCB func(h *Handle)
	quotaCB       func(r Result)

	tcpdns *tcpdnsState
	tls    *tlsState
}

// newSocket builds an unattached nmsocket; callers finish wiring the
// type-specific fields afterward.
func newSocket(mgr *Manager, typ nmsocketType, tid int) *nmsocket {
	s := &nmsocket{typ: typ, tid: tid, mgr: mgr}
	s.cond = sync.NewCond(&s.mu)
	s.references.Store(1)
	// Every socket is registered in the manager's live-socket set,
	// regardless of WithTrace: Shutdown needs it to walk every live
	// handle (spec.md §4.1 "Shutdown"), and it is cheap enough to pay
	// unconditionally. WithTrace/ActiveSockets only gates whether this
	// bookkeeping is exposed to the caller (trace.go).
	s.id = newTraceID()
	mgr.traceAdd(s)
	return s
}

// attach increments the socket's reference count (nmsocket_attach).
func (s *nmsocket) attach() {
	s.references.Add(1)
}

// detach decrements the socket's reference count; when it reaches zero
// and the socket is closed, the socket is destroyed (spec.md §4.3).
func (s *nmsocket) detach() {
	if s.references.Add(-1) > 0 {
		return
	}
	if s.closed.Load() {
		s.destroy()
	}
}

// destroy cancels the timer and removes the socket from the manager's
// trace set; the handle table and stacks are left for the garbage
// collector. Runs at most once, when references hits zero after closed
// is set.
func (s *nmsocket) destroy() {
	if !s.destroying.CompareAndSwap(false, true) {
		return
	}
	if s.timer != nil {
		s.timer.cancel()
	}
	s.mgr.traceRemove(s.id)
	Log().Debug("socket destroyed", zap.Stringer("type", s.typ), zap.Int("worker", s.tid))
}

// close initiates the close-trigger transition described in spec.md §3
// "Lifecycles" for Socket: active→closing, cancel I/O and timers, drain
// handles, then closed, then destroy when refcount hits zero. Idempotent:
// calling it again after the first is a no-op (spec.md §8 round-trip
// property "idempotent close").
func (s *nmsocket) close() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	s.active.Store(false)

	if s.timer != nil {
		s.timer.cancel()
	}
	switch {
	case s.conn != nil:
		_ = s.conn.Close()
	case s.pconn != nil:
		_ = s.pconn.Close()
	case s.ln != nil:
		_ = s.ln.Close()
	}

	for _, c := range s.children {
		c.close()
	}

	s.closeAllHandles()

	if s.quota != nil {
		s.quota.release()
		s.quota = nil
	}

	s.closed.Store(true)
	s.mgr.stats.incr(s.typ, statClose)
	s.detach()
}

// setResult records the terminal Result a listen/connect/accept
// attempt produced, for synchronous callers and diagnostics.
func (s *nmsocket) setResult(r Result) {
	s.result = r
}

// shutdownCancel delivers exactly one Cancelled callback to whichever
// operation is outstanding on s — the installed recv callback, or an
// in-flight connect — before tearing the socket down (spec.md §4.1
// "Shutdown": "existing handle callbacks still fire with a
// cancellation error"; spec.md §9 open question on in-flight connects,
// resolved as "cancel with Cancelled"). Always runs on s's own worker,
// enqueued there by Manager.Shutdown, so it observes recvCB/connectCB
// without racing their normal cross-thread callers.
func (s *nmsocket) shutdownCancel() {
	if s.closed.Load() || s.closing.Load() {
		return
	}
	cb := s.recvCB
	s.recvCB = nil
	switch {
	case cb != nil:
		cb(s.statichandle, nil, failure(Cancelled, nil))
	case s.connectCB != nil && !s.connected.Load():
		s.connectErr.Store(true)
		ccb := s.connectCB
		s.connectCB = nil
		ccb(nil, failure(Cancelled, nil))
	}
	s.close()
}

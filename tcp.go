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
	"context"
	"net"
	"time"

	"github.com/pires/go-proxyproto"
)

// TCPListenOption configures optional per-listener behavior for
// ListenTCP/ListenTCPDNS/ListenTLS, without disturbing existing callers
// that pass none.
type TCPListenOption func(*nmsocket)

// WithProxyProtocol wraps the listener's net.Listener in a PROXY
// protocol v1/v2 unwrapper (github.com/pires/go-proxyproto, carried
// from the teacher's go.mod): accepted connections report the
// upstream-supplied client address via Handle.Peer() instead of the
// immediate TCP peer (typically a load balancer or proxy).
func WithProxyProtocol() TCPListenOption {
	return func(s *nmsocket) { s.proxyProtocol.Store(true) }
}

// ListenTCP binds one listener and fans accepted connections to
// acceptCB, attaching quota (if non-nil) on every accept (spec.md §4.5).
// Accepts are handled inline on the accepting goroutine and then handed
// directly to the new connection's own worker via tcpAccepted, avoiding
// the cross-thread hot-path hop the original source's tcpchildaccept
// trick exists to avoid.
func (m *Manager) ListenTCP(iface string, backlog int, extraSize int, pquota *Quota, acceptCB func(h *Handle, r Result), opaque any, opts ...TCPListenOption) (*Socket, Result) {
	listener := newSocket(m, typeTCPListener, -1)
	listener.acceptCB = acceptCB
	listener.opaque = opaque
	listener.extraSize = extraSize
	listener.pquota = pquota
	listener.backlog = backlog
	listener.startReadLoop = true
	for _, opt := range opts {
		opt(listener)
	}

	ln, err := net.Listen("tcp", iface)
	if err != nil {
		listener.listenError.Store(true)
		m.stats.incr(typeTCPListener, statBindFail)
		return wrap(listener), classify(err)
	}
	if listener.proxyProtocol.Load() {
		ln = &proxyproto.Listener{Listener: ln}
	}
	listener.ln = ln
	listener.listening.Store(true)
	m.stats.incr(typeTCPListener, statOpen)

	go m.tcpAcceptLoop(listener)
	return wrap(listener), success
}

func (m *Manager) tcpAcceptLoop(listener *nmsocket) {
	for {
		conn, err := listener.ln.Accept()
		if err != nil {
			if listener.closing.Load() {
				return
			}
			m.stats.incr(typeTCPListener, statAcceptFail)
			continue
		}
		m.tcpAccepted(listener, conn, typeTCP, listener.acceptCB, listener.extraSize, listener.startReadLoop)
	}
}

// tcpAccepted wires a freshly accepted net.Conn into a pinned nmsocket,
// attaches quota, arms the init timeout, and invokes acceptCB on the
// owning worker (spec.md §4.5 "On accept"). startReadLoop is false for
// listeners that immediately wrap the raw connection in something that
// reads it a different way (TLS's tls.Conn pumps the same fd itself;
// starting a second, independent reader on the raw conn would race it).
func (m *Manager) tcpAccepted(listener *nmsocket, conn net.Conn, typ nmsocketType, acceptCB func(h *Handle, r Result), extraSize int, startReadLoop bool) *nmsocket {
	tok, ok := listener.pquota.acquire()
	if !ok {
		_ = conn.Close()
		m.stats.incr(typ, statAcceptFail)
		if listener.quotaCB != nil {
			listener.quotaCB(failure(QuotaExceeded, nil))
		}
		if acceptCB != nil {
			acceptCB(nil, failure(QuotaExceeded, nil))
		}
		return nil
	}

	tid := m.workerFor()
	sock := newSocket(m, typ, tid)
	sock.parent = listener
	sock.listener = listener
	sock.conn = conn
	sock.quota = tok
	sock.extraSize = extraSize
	sock.connected.Store(true)
	sock.active.Store(true)
	sock.timer = newSocketTimer()

	w := m.workers[tid]
	w.enqueue(newEvent(netieventTCPAccept, func() {
		h := sock.newHandle(conn.RemoteAddr(), conn.LocalAddr(), listener.opaque)
		sock.statichandle = h
		m.stats.incr(typ, statAccept)
		m.armTCPTimer(sock, true)
		if startReadLoop {
			go m.tcpReadLoop(sock)
		}
		if acceptCB != nil {
			acceptCB(h, success)
		}
	}))

	return sock
}

// armTCPTimer arms the init timeout on first accept/connect, or
// switches to idle (or keepalive, if configured) on first successful
// read (spec.md §4.5).
func (m *Manager) armTCPTimer(sock *nmsocket, initial bool) {
	d := m.timeout(&m.idleTimeout)
	if sock.keepalive.Load() {
		d = m.timeout(&m.keepaliveTimeout)
	}
	if initial {
		d = m.timeout(&m.initTimeout)
	}
	if d <= 0 {
		return
	}
	sock.timer.arm(d, func() {
		w := m.workers[sock.tid]
		w.enqueue(newEvent(netieventTimeout, func() {
			m.fireTimeout(sock)
		}))
	})
}

func (m *Manager) fireTimeout(sock *nmsocket) {
	if sock.closed.Load() || sock.closing.Load() {
		return
	}
	if sock.recvCB != nil {
		sock.recvCB(sock.statichandle, nil, failure(Timeout, nil))
	} else if sock.connectCB != nil && !sock.connected.Load() {
		sock.connectErr.Store(true)
		sock.connectCB(nil, failure(Timeout, nil))
	}
	sock.close()
}

// tcpReadLoop runs on its own goroutine, reading bytes and posting
// them as read events onto sock's owning worker (spec.md §5
// "Cross-thread calls" — only the owning worker may touch recvCB).
// While readpaused is set it stops reading from the connection, so
// inbound bytes stay in the kernel until ResumeRead or Read clears it.
func (m *Manager) tcpReadLoop(sock *nmsocket) {
	buf := make([]byte, 64*1024)
	for {
		for sock.readpaused.Load() && !sock.closing.Load() {
			time.Sleep(time.Millisecond)
		}
		n, err := sock.conn.Read(buf)
		if n > 0 {
			region := make([]byte, n)
			copy(region, buf[:n])
			w := m.workers[sock.tid]
			done := make(chan struct{})
			w.enqueue(newEvent(netieventRead, func() {
				defer close(done)
				d := m.timeout(&m.idleTimeout)
				if sock.keepalive.Load() {
					d = m.timeout(&m.keepaliveTimeout)
				}
				sock.timer.reset(d)
				if sock.recvCB != nil {
					sock.recvCB(sock.statichandle, region, success)
				}
			}))
			<-done
		}
		if err != nil {
			if !sock.closing.Load() {
				w := m.workers[sock.tid]
				w.enqueue(newEvent(netieventRead, func() {
					if sock.recvCB != nil {
						sock.recvCB(sock.statichandle, nil, classify(err))
					}
				}))
				m.stats.incr(sock.typ, statRecvFail)
			}
			sock.Close()
			return
		}
	}
}

// ConnectTCP dials peer, pinning the new socket to a round-robin
// worker; timeout bounds the dial itself (spec.md §4.5 analogue of
// §4.4 "Connected UDP"). No socket timer is armed for the connection.
func (m *Manager) ConnectTCP(local, peer string, timeout time.Duration, connectCB func(h *Handle, r Result), opaque any) (*Socket, Result) {
	tid := m.workerFor()
	sock := newSocket(m, typeTCP, tid)
	sock.client.Store(true)
	sock.connectCB = connectCB
	sock.opaque = opaque
	sock.timer = newSocketTimer()

	dialer := net.Dialer{Timeout: timeout}
	if local != "" {
		laddr, err := net.ResolveTCPAddr("tcp", local)
		if err != nil {
			return wrap(sock), classify(err)
		}
		dialer.LocalAddr = laddr
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", peer)
	if err != nil {
		sock.connectErr.Store(true)
		r := classify(err)
		m.stats.incr(typeTCP, statConnectFail)
		w := m.workers[tid]
		w.enqueue(newEvent(netieventConnect, func() {
			if connectCB != nil {
				connectCB(nil, r)
			}
		}))
		return wrap(sock), r
	}

	sock.conn = conn
	sock.connected.Store(true)
	sock.active.Store(true)
	m.stats.incr(typeTCP, statConnect)

	w := m.workers[tid]
	w.enqueue(newEvent(netieventConnect, func() {
		h := sock.newHandle(conn.RemoteAddr(), conn.LocalAddr(), opaque)
		sock.statichandle = h
		go m.tcpReadLoop(sock)
		if connectCB != nil {
			connectCB(h, success)
		}
	}))

	return wrap(sock), success
}

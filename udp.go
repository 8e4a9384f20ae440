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

	"github.com/pellurid/peldns/internal/ssopts"
)

// ListenUDP binds one child socket per worker on iface and fans inbound
// datagrams to recvCB (spec.md §4.4). Each child uses SO_REUSEPORT
// where the platform supports it so the kernel load-balances datagrams
// across workers without a single socket becoming a bottleneck. Where
// it is unavailable, binding a fixed port for the second child fails
// and ListenUDP returns that failure; there is no single-socket
// fallback that dispatches datagrams to the other workers.
func (m *Manager) ListenUDP(iface string, extraSize int, recvCB func(h *Handle, region []byte, r Result), opaque any) (*Socket, Result) {
	listener := newSocket(m, typeUDPListener, -1)
	listener.recvCB = recvCB
	listener.extraSize = extraSize
	listener.listening.Store(true)

	lc := udpListenConfig()

	for i, w := range m.workers {
		pconn, err := lc.ListenPacket(context.Background(), "udp", iface)
		if err != nil {
			listener.listenError.Store(true)
			listener.setResult(classify(err))
			m.stats.incr(typeUDPListener, statBindFail)
			return wrap(listener), classify(err)
		}

		child := newSocket(m, typeUDP, w.id)
		child.parent = listener
		child.listener = listener
		child.pconn = pconn
		child.recvCB = recvCB
		child.opaque = opaque
		child.extraSize = extraSize
		child.active.Store(true)
		child.statichandle = child.newHandle(nil, pconn.LocalAddr(), opaque)

		listener.children = append(listener.children, child)

		idx := i
		go m.udpReadLoop(listener.children[idx])
	}

	m.stats.incr(typeUDPListener, statOpen)
	return wrap(listener), success
}

// udpListenConfig applies SO_REUSEPORT (SO_REUSEPORT_LB on BSDs) so
// every worker's child socket can bind the same fixed port and let the
// kernel load-balance datagrams across them (spec.md §4.4). Platforms
// without either option fall back to ssopts' no-op Control, at which
// point only the first child's bind on a fixed port succeeds — the
// "duplicate-bind" fallback spec.md mentions is the kernel's, not
// something this package emulates itself.
func udpListenConfig() net.ListenConfig {
	return ssopts.ListenConfig(ssopts.Config{ReusePort: true, ReusePortLB: true}, net.ListenConfig{})
}

// udpReadLoop runs on its own goroutine per child socket, reading
// datagrams and posting each as a netievent onto the owning worker so
// the recv callback still runs with the socket's affinity preserved
// (spec.md §5 "Cross-thread calls"). While readpaused is set it stops
// reading from the socket.
func (m *Manager) udpReadLoop(child *nmsocket) {
	buf := make([]byte, 65535)
	for {
		for child.readpaused.Load() && !child.closing.Load() {
			time.Sleep(time.Millisecond)
		}
		n, addr, err := child.pconn.ReadFrom(buf)
		if err != nil {
			if child.closing.Load() {
				return
			}
			m.stats.incr(typeUDP, statRecvFail)
			continue
		}

		max := int(m.maxUDP.Load())
		if n > max {
			m.stats.incr(typeUDP, statRecvFail)
			continue
		}

		region := make([]byte, n)
		copy(region, buf[:n])

		w := m.workers[child.tid]
		w.enqueue(newEvent(netieventRead, func() {
			if child.recvCB == nil {
				return
			}
			h := child.newHandle(addr, child.pconn.LocalAddr(), child.opaque)
			child.recvCB(h, region, success)
			h.Unref()
		}))
	}
}

// ConnectUDP creates a single-thread-affinity connected UDP socket,
// arms a connect timeout timer, and reports success or timeout via
// connectCB (spec.md §4.4 "Connected UDP").
func (m *Manager) ConnectUDP(local, peer string, timeout time.Duration, connectCB func(h *Handle, r Result), opaque any) (*Socket, Result) {
	tid := m.workerFor()
	sock := newSocket(m, typeUDP, tid)
	sock.client.Store(true)
	sock.connectCB = connectCB
	sock.opaque = opaque
	sock.timer = newSocketTimer()

	var laddr *net.UDPAddr
	if local != "" {
		var err error
		laddr, err = net.ResolveUDPAddr("udp", local)
		if err != nil {
			return wrap(sock), classify(err)
		}
	}
	raddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		sock.connectErr.Store(true)
		return wrap(sock), classify(err)
	}

	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		sock.connectErr.Store(true)
		r := classify(err)
		m.stats.incr(typeUDP, statConnectFail)
		if connectCB != nil {
			connectCB(nil, r)
		}
		return wrap(sock), r
	}

	sock.conn = conn
	sock.connected.Store(true)
	sock.active.Store(true)
	m.stats.incr(typeUDP, statConnect)

	h := sock.newHandle(raddr, conn.LocalAddr(), opaque)
	sock.statichandle = h

	fired := make(chan struct{})
	sock.timer.arm(timeout, func() {
		w := m.workers[sock.tid]
		w.enqueue(newEvent(netieventTimeout, func() {
			select {
			case <-fired:
				return
			default:
			}
			close(fired)
			sock.connectErr.Store(true)
			_ = sock.conn.Close()
			if connectCB != nil {
				connectCB(nil, failure(Timeout, nil))
			}
		}))
	})

	w := m.workers[tid]
	w.enqueue(newEvent(netieventConnect, func() {
		select {
		case <-fired:
			return
		default:
		}
		close(fired)
		sock.timer.cancel()
		if connectCB != nil {
			connectCB(h, success)
		}
	}))

	return wrap(sock), success
}

// Send dispatches a send event to the socket's owning worker, carrying
// a pooled uvreq (spec.md §4.4 "udp_send", §6 "nm_send"). A TCPDNS
// socket's Send prepends the 2-byte length prefix (spec.md §4.6)
// instead of writing region verbatim.
func (s *nmsocket) Send(region []byte, sendCB func(h *Handle, r Result), opaque any) {
	if s.typ == typeTCPDNS {
		s.sendTCPDNS(region, sendCB, opaque)
		return
	}

	req := s.getUVReq()
	req.buf = region
	req.sendCB = sendCB
	req.sendCBArg = opaque

	w := s.mgr.workers[s.tid]
	w.enqueue(newEvent(netieventSend, func() {
		s.doSend(req)
	}))
}

func (s *nmsocket) doSend(req *uvreq) {
	defer s.putUVReq(req)

	if s.conn == nil {
		if req.sendCB != nil {
			req.sendCB(nil, failure(NotConnected, nil))
		}
		return
	}

	_, err := s.conn.Write(req.buf)
	r := classify(err)
	if err != nil {
		s.mgr.stats.incr(s.typ, statSendFail)
	}
	if req.sendCB != nil {
		req.sendCB(s.statichandle, r)
	}
}

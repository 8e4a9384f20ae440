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
	"net"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// maxTCPDNSMessage is the largest payload a 2-byte big-endian length
// prefix can describe (RFC 1035 §4.2.2).
const maxTCPDNSMessage = 65535

// tcpdnsState is the length-prefix framing wrapper state for a TCPDNS
// socket (spec.md §4.6): a growable assembly buffer plus the
// pipelining/sequential bookkeeping. Wraps an outer TCP socket rather
// than reimplementing TCP I/O.
type tcpdnsState struct {
	buf []byte // bytes received but not yet framed into a full message

	maxQueries   int // spec.md §9 open question: documented default, see DESIGN.md
	inFlight     int
	sequentialOK bool // true once the prior response's send has completed
}

// defaultTCPDNSMaxQueries is the documented default chosen for the
// open question in spec.md §9 ("TCPDNS maxqueries ... implement as a
// configuration option with a documented default").
const defaultTCPDNSMaxQueries = 100

// ListenTCPDNS wraps ListenTCP, framing inbound bytes into whole DNS
// messages before invoking recvCB (spec.md §4.6). sequential, when
// true, withholds delivery of the next frame until the previous
// response's send has completed; otherwise connections are pipelined
// up to maxQueries concurrent unanswered queries.
func (m *Manager) ListenTCPDNS(iface string, backlog int, extraSize int, pquota *Quota, maxQueries int, sequential bool, recvCB func(h *Handle, region []byte, r Result), opaque any) (*Socket, Result) {
	if maxQueries <= 0 {
		maxQueries = defaultTCPDNSMaxQueries
	}

	listener := newSocket(m, typeTCPDNSListener, -1)
	listener.extraSize = extraSize
	listener.pquota = pquota
	listener.startReadLoop = true

	ln, err := net.Listen("tcp", iface)
	if err != nil {
		listener.listenError.Store(true)
		m.stats.incr(typeTCPDNSListener, statBindFail)
		return wrap(listener), classify(err)
	}
	listener.ln = ln
	listener.listening.Store(true)
	m.stats.incr(typeTCPDNSListener, statOpen)

	listener.acceptCB = func(h *Handle, r Result) {
		if !r.Ok() {
			return
		}
		outer := h.sock
		wrap := newSocket(m, typeTCPDNS, outer.tid)
		wrap.outer = outer
		wrap.self = wrap
		wrap.parent = listener
		wrap.listener = listener
		wrap.recvCB = recvCB
		wrap.opaque = opaque
		wrap.extraSize = extraSize
		wrap.sequential.Store(sequential)
		wrap.tcpdns = &tcpdnsState{maxQueries: maxQueries, sequentialOK: true}
		wrap.active.Store(true)
		wrap.statichandle = wrap.newHandle(h.Peer(), h.Local(), opaque)

		outer.recvCB = func(_ *Handle, region []byte, r Result) {
			m.tcpdnsOnData(wrap, region, r)
		}
	}

	go m.tcpAcceptLoop(listener)
	return wrap(listener), success
}

// tcpdnsOnData appends inbound bytes to the assembly buffer and
// delivers every complete frame it can extract (spec.md §4.6 framing
// algorithm), honoring the pipelining/sequential discipline.
func (m *Manager) tcpdnsOnData(wrap *nmsocket, region []byte, r Result) {
	if !r.Ok() {
		if wrap.recvCB != nil {
			wrap.recvCB(wrap.statichandle, nil, r)
		}
		wrap.Close()
		return
	}

	st := wrap.tcpdns
	st.buf = append(st.buf, region...)

	for {
		if len(st.buf) < 2 {
			return
		}
		frameLen := int(binary.BigEndian.Uint16(st.buf[:2]))
		if len(st.buf) < 2+frameLen {
			return
		}

		if wrap.sequential.Load() && !st.sequentialOK {
			return
		}
		if st.maxQueries > 0 && st.inFlight >= st.maxQueries {
			wrap.overlimit.Store(true)
			wrap.outer.PauseRead()
			return
		}

		msg := make([]byte, frameLen)
		copy(msg, st.buf[2:2+frameLen])
		st.buf = st.buf[2+frameLen:]

		st.inFlight++
		st.sequentialOK = false
		wrap.processing.Store(true)

		if wrap.recvCB != nil {
			wrap.recvCB(wrap.statichandle, msg, success)
		}
	}
}

// tcpdnsMessageDone marks one delivered message's response as fully
// sent, decrementing the in-flight count and, in sequential mode,
// unblocking delivery of the next frame (spec.md §4.6 "sequential
// mode"). Called from the send completion callback.
func tcpdnsMessageDone(wrap *nmsocket) {
	st := wrap.tcpdns
	if st == nil {
		return
	}
	if st.inFlight > 0 {
		st.inFlight--
	}
	st.sequentialOK = true
	wrap.processing.Store(false)
	if wrap.overlimit.Load() && st.inFlight < st.maxQueries {
		wrap.overlimit.Store(false)
		wrap.outer.ResumeRead()
	}
}

// Send prepends the 2-byte big-endian length prefix and forwards to
// the outer TCP socket (spec.md §4.6 "Send"); the callback fires on
// the underlying TCP send completion and also retires this message
// from the in-flight/sequential bookkeeping.
func (wrap *nmsocket) sendTCPDNS(msg []byte, sendCB func(h *Handle, r Result), opaque any) {
	if len(msg) > maxTCPDNSMessage {
		Log().Warn("tcpdns message exceeds the 2-byte length prefix's range",
			zap.String("size", humanize.Bytes(uint64(len(msg)))),
			zap.String("max", humanize.Bytes(uint64(maxTCPDNSMessage))))
	}

	framed := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(framed, uint16(len(msg)))
	copy(framed[2:], msg)

	wrap.outer.Send(framed, func(h *Handle, r Result) {
		tcpdnsMessageDone(wrap)
		if sendCB != nil {
			sendCB(wrap.statichandle, r)
		}
	}, opaque)
}

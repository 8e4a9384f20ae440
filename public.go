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

// Socket is the external handle to a listener or connection returned
// by every Listen*/Connect* call (spec.md §6 "nmsocket_{attach,
// detach,close}"). It wraps the internal state machine so callers
// outside this package only ever see the exported surface.
type Socket struct {
	s *nmsocket
}

// Attach increments the socket's reference count.
func (sock *Socket) Attach() { sock.s.attach() }

// Detach decrements the socket's reference count.
func (sock *Socket) Detach() { sock.s.detach() }

// Close requests the socket close (spec.md §6 "nmsocket_close").
func (sock *Socket) Close() { sock.s.Close() }

// Send writes region, invoking sendCB on completion (spec.md §6
// "nm_send"). For a TCPDNS socket, region is framed with the 2-byte
// length prefix automatically.
func (sock *Socket) Send(region []byte, sendCB func(h *Handle, r Result), opaque any) {
	sock.s.Send(region, sendCB, opaque)
}

// Read installs recvCB as the active receive callback (spec.md §6
// "nm_read").
func (sock *Socket) Read(recvCB func(h *Handle, region []byte, r Result)) {
	sock.s.Read(recvCB)
}

// CancelRead clears the active receive callback (spec.md §6
// "nm_cancelread").
func (sock *Socket) CancelRead() { sock.s.CancelRead() }

// PauseRead stops delivering inbound data without closing the socket
// (spec.md §6 "nm_pauseread").
func (sock *Socket) PauseRead() { sock.s.PauseRead() }

// ResumeRead resumes delivery paused by PauseRead (spec.md §6
// "nm_resumeread").
func (sock *Socket) ResumeRead() { sock.s.ResumeRead() }

// Result returns the terminal Result of this socket's most recent
// listen/connect attempt.
func (sock *Socket) Result() Result { return sock.s.result }

// Type reports which of the eight nmsocket_type variants this socket
// is playing (spec.md §3 "Socket").
func (sock *Socket) Type() string { return sock.s.typ.String() }

func wrap(s *nmsocket) *Socket {
	if s == nil {
		return nil
	}
	return &Socket{s: s}
}

// Sock returns the Socket that owns this handle, letting a recv/accept
// callback send a reply without having kept its own reference to the
// listener or connection (e.g. an echo callback).
func (h *Handle) Sock() *Socket { return wrap(h.sock) }

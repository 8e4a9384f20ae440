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

// Read registers recvCB as the active receive callback and, if the
// socket's read loop had been paused, resumes it (spec.md §6
// "nm_read"). Always dispatched onto the socket's owning worker.
func (s *nmsocket) Read(recvCB func(h *Handle, region []byte, r Result)) {
	w := s.mgr.workers[s.tid]
	w.enqueue(newEvent(netieventRead, func() {
		s.recvCB = recvCB
		s.readpaused.Store(false)
	}))
}

// CancelRead atomically replaces the recv callback with a no-op
// (spec.md §4.4 "Cancel read"): it clears the callback without
// touching the underlying connection, so an in-flight delivery still
// completes normally.
func (s *nmsocket) CancelRead() {
	w := s.mgr.workers[s.tid]
	w.enqueue(newEvent(netieventCancelRead, func() {
		s.recvCB = nil
	}))
}

// PauseRead stops delivering inbound data without closing the socket
// (spec.md §4.5 "Read back-pressure").
func (s *nmsocket) PauseRead() {
	w := s.mgr.workers[s.tid]
	w.enqueue(newEvent(netieventPauseRead, func() {
		s.readpaused.Store(true)
	}))
}

// ResumeRead clears the back-pressure flag set by PauseRead.
func (s *nmsocket) ResumeRead() {
	w := s.mgr.workers[s.tid]
	w.enqueue(newEvent(netieventResumeRead, func() {
		s.readpaused.Store(false)
	}))
}

// Close requests the socket close (spec.md §6 "nmsocket_close"). Always
// routed through the owning worker to preserve thread affinity, except
// for listeners, whose close fans out to every child first.
func (s *nmsocket) Close() {
	if s.typ.isListener() {
		// Listener sockets have tid == -1 (no single owning worker);
		// close runs inline and each child closes on its own worker.
		s.close()
		return
	}
	w := s.mgr.workers[s.tid]
	w.enqueue(newEvent(netieventClose, func() {
		s.close()
	}))
}

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

import "net"

// uvreq is the per-I/O-operation scratch record (spec.md §3 "uvreq"):
// one is allocated (or popped from a socket's inactive stack) for every
// in-flight send, and released back to the pool when its completion
// callback has run. Go's net package owns the actual I/O request object
// (there is no libuv request union to carry), so uvreq here only needs
// the buffer, addresses, and the callback closure.
type uvreq struct {
	sock *nmsocket
	buf  []byte
	peer net.Addr

	sendCB    func(h *Handle, r Result)
	sendCBArg any
}

// getUVReq pops a pooled uvreq from sock's inactive stack, or allocates
// a fresh one. Mirrors isc__nm_get_uvreq pulling from
// sock->inactivereqs.
func (s *nmsocket) getUVReq() *uvreq {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.inactiveReqs)
	if n == 0 {
		return &uvreq{sock: s}
	}
	r := s.inactiveReqs[n-1]
	s.inactiveReqs = s.inactiveReqs[:n-1]
	*r = uvreq{sock: s}
	return r
}

// putUVReq returns req to sock's inactive stack for reuse, the
// counterpart of isc__nm_put_uvreq.
func (s *nmsocket) putUVReq(req *uvreq) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inactiveReqs = append(s.inactiveReqs, req)
}

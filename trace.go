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

import "github.com/google/uuid"

// traceID names one live socket in the manager's trace set (spec.md
// §C.1, supplementing the original source's NETMGR_TRACE-conditional
// active_sockets list). A uuid.UUID rather than a raw pointer makes a
// SocketInfo safe to hand to a caller without exposing internal state.
type traceID = uuid.UUID

func newTraceID() traceID {
	return uuid.New()
}

// SocketInfo is a snapshot of one live socket, returned by
// Manager.ActiveSockets. It intentionally exposes only what a caller
// outside netmgr could use for observability — never the *nmsocket
// itself.
type SocketInfo struct {
	ID     traceID
	Type   string
	Worker int
}

// traceAdd registers s in the manager's trace set. Called from
// newSocket for every socket, whether or not mgr.trace is set.
func (mgr *Manager) traceAdd(s *nmsocket) {
	mgr.activeSockets.Store(s.id, s)
}

// traceRemove unregisters id from the trace set, called from
// nmsocket.destroy.
func (mgr *Manager) traceRemove(id traceID) {
	mgr.activeSockets.Delete(id)
}

// ActiveSockets returns a snapshot of every currently live socket, the
// Go equivalent of the original source's isc__nm_dump_active. Returns
// nil when the manager was created without tracing enabled: the
// underlying registry is always maintained (Shutdown depends on it),
// but exposing it to callers is the opt-in part named by WithTrace.
func (mgr *Manager) ActiveSockets() []SocketInfo {
	if !mgr.trace {
		return nil
	}
	var out []SocketInfo
	mgr.activeSockets.Range(func(key, value any) bool {
		s := value.(*nmsocket)
		out = append(out, SocketInfo{ID: key.(traceID), Type: s.typ.String(), Worker: s.tid})
		return true
	})
	return out
}

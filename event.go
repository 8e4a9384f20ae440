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

// netieventType tags the kind of cross-worker event carried by a
// netievent. The original source orders the enum so that everything at
// or above netieventPrio must still run while a worker is paused; we
// keep that same ordinal-threshold trick rather than a separate bool,
// since it is what makes the priority/normal queue split in worker.go a
// single comparison.
type netieventType int

const (
	netieventSend netieventType = iota
	netieventRead
	netieventCancelRead
	netieventPauseRead
	netieventResumeRead
	netieventConnect
	netieventTCPAccept
	netieventTCPDNSCycle
	netieventTLSDoBio
	netieventClose
	netieventTimeout
	netieventSettimeout

	// netieventPrio is the threshold ordinal: any event type at or
	// above this value runs even while the worker is paused.
	netieventPrio netieventType = 0xff

	netieventUDPListen netieventType = netieventPrio + iota
	netieventTCPListen
	netieventPause
	netieventResume
	netieventDetach
	netieventShutdown
)

func (t netieventType) String() string {
	switch t {
	case netieventSend:
		return "send"
	case netieventRead:
		return "read"
	case netieventCancelRead:
		return "cancelread"
	case netieventPauseRead:
		return "pauseread"
	case netieventResumeRead:
		return "resumeread"
	case netieventConnect:
		return "connect"
	case netieventTCPAccept:
		return "tcpaccept"
	case netieventTCPDNSCycle:
		return "tcpdnscycle"
	case netieventTLSDoBio:
		return "tlsdobio"
	case netieventClose:
		return "close"
	case netieventTimeout:
		return "timeout"
	case netieventSettimeout:
		return "settimeout"
	case netieventPause:
		return "pause"
	case netieventUDPListen:
		return "udplisten"
	case netieventTCPListen:
		return "tcplisten"
	case netieventResume:
		return "resume"
	case netieventDetach:
		return "detach"
	case netieventShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// priority reports whether this event type must still be dispatched
// while the owning worker is paused (spec.md §4.2).
func (t netieventType) priority() bool {
	return t >= netieventPrio
}

// netievent is the tagged record dispatched onto a single worker's
// queue (spec.md §4.2). run executes the event on the worker goroutine
// that owns it — the only place a socket's non-atomic state may be
// touched.
type netievent struct {
	typ netieventType
	run func()
}

func newEvent(typ netieventType, run func()) netievent {
	return netievent{typ: typ, run: run}
}

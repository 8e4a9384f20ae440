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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// statID indexes the per-socket-type counters, mirroring the original
// source's STATID_* enum (netmgr-int.h) rather than spec.md's prose list
// directly, so the names line up one-to-one with the C implementation
// this was distilled from.
type statID int

const (
	statOpen statID = iota
	statOpenFail
	statClose
	statBindFail
	statConnectFail
	statConnect
	statAcceptFail
	statAccept
	statSendFail
	statRecvFail
	statActive
	numStats
)

func (s statID) String() string {
	switch s {
	case statOpen:
		return "open"
	case statOpenFail:
		return "openfail"
	case statClose:
		return "close"
	case statBindFail:
		return "bindfail"
	case statConnectFail:
		return "connectfail"
	case statConnect:
		return "connect"
	case statAcceptFail:
		return "acceptfail"
	case statAccept:
		return "accept"
	case statSendFail:
		return "sendfail"
	case statRecvFail:
		return "recvfail"
	case statActive:
		return "active"
	default:
		return "unknown"
	}
}

// Stats holds the indexed per-socket-type counters described in spec
// section 2.2, backed by Prometheus CounterVecs registered under a
// caller-chosen namespace, in the style of the teacher's root metrics.go
// (promauto.NewCounterVec under the "caddy" namespace).
type Stats struct {
	counters *prometheus.CounterVec
	reg      *prometheus.Registry
}

// NewStats creates a fresh, independently-registered Stats collector.
// Each Manager owns exactly one, so multiple Managers in the same process
// (e.g. in tests) never collide on Prometheus's default global registry.
func NewStats(namespace string) *Stats {
	reg := prometheus.NewRegistry()
	counters := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "netmgr",
		Name:      "socket_events_total",
		Help:      "Count of netmgr socket lifecycle events by socket type and event kind.",
	}, []string{"type", "event"})
	return &Stats{counters: counters, reg: reg}
}

// Registry exposes the underlying Prometheus registry so embedding
// programs can serve /metrics themselves; netmgr does not run an HTTP
// server of its own (that would be protocol processing outside its scope).
func (s *Stats) Registry() *prometheus.Registry { return s.reg }

// incr increments the counter for (typ, id). statActive exists for
// parity with the original enum, but nothing in netmgr increments it;
// Manager.ActiveSockets lists live sockets when tracing is enabled.
func (s *Stats) incr(typ nmsocketType, id statID) {
	if s == nil {
		return
	}
	s.counters.WithLabelValues(typ.String(), id.String()).Inc()
}

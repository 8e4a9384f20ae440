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

// Package ssopts wraps the handful of setsockopt calls the original
// source's isc__nm_socket_* helpers perform directly on the listener's
// file descriptor (netmgr-int.h): FREEBIND, REUSEADDR/REUSEPORT,
// INCOMING_CPU, and DONTFRAG. Each is a Control func meant to be set on
// a net.ListenConfig, following the same conn.Control(func(fd uintptr))
// shape the teacher's listen_unix.go uses for SO_REUSEPORT.
package ssopts

import (
	"net"
	"syscall"
)

// Config selects which socket options ListenConfig applies, mirroring
// the independent isc__nm_socket_* calls in the original source rather
// than bundling them into one all-or-nothing flag.
type Config struct {
	Freebind     bool
	ReusePort    bool
	ReusePortLB  bool // BSDs: same SO_REUSEADDR+SO_REUSEPORT as ReusePort (SO_REUSEPORT_LB is not set); ignored on Linux
	IncomingCPU  bool
	DontFragment bool
}

// ListenConfig builds a net.ListenConfig whose Control func applies every
// option set in c, chaining with any Control the caller already set.
func ListenConfig(c Config, base net.ListenConfig) net.ListenConfig {
	prev := base.Control
	base.Control = func(network, address string, rc syscall.RawConn) error {
		if prev != nil {
			if err := prev(network, address, rc); err != nil {
				return err
			}
		}
		return apply(c, network, rc)
	}
	return base
}

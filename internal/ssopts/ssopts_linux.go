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

//go:build linux

package ssopts

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// apply reproduces isc__nm_socket_freebind/_reuse/_incoming_cpu/_dontfrag
// exactly as the original source sets them on Linux: IP_FREEBIND,
// SO_REUSEADDR+SO_REUSEPORT, SO_INCOMING_CPU, and
// IP_MTU_DISCOVER/IPV6_MTU_DISCOVER with IP_PMTUDISC_OMIT.
func apply(c Config, network string, rc syscall.RawConn) error {
	var setErr error
	err := rc.Control(func(fd uintptr) {
		ifd := int(fd)
		if c.Freebind {
			if e := unix.SetsockoptInt(ifd, unix.IPPROTO_IP, unix.IP_FREEBIND, 1); e != nil {
				setErr = e
				return
			}
		}
		if c.ReusePort {
			if e := unix.SetsockoptInt(ifd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
				setErr = e
				return
			}
			if e := unix.SetsockoptInt(ifd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); e != nil {
				setErr = e
				return
			}
		}
		if c.IncomingCPU {
			if e := unix.SetsockoptInt(ifd, unix.SOL_SOCKET, unix.SO_INCOMING_CPU, 1); e != nil {
				setErr = e
				return
			}
		}
		if c.DontFragment {
			if isIPv6(network) {
				if e := unix.SetsockoptInt(ifd, unix.IPPROTO_IPV6, unix.IPV6_MTU_DISCOVER, unix.IPV6_PMTUDISC_OMIT); e != nil {
					setErr = e
					return
				}
				return
			}
			if e := unix.SetsockoptInt(ifd, unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_OMIT); e != nil {
				setErr = e
				return
			}
		}
	})
	if err != nil {
		return err
	}
	return setErr
}

func isIPv6(network string) bool {
	return len(network) >= 4 && network[len(network)-1] == '6'
}

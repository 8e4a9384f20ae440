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

//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package ssopts

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// apply mirrors the BSD branch of the original source's socket-option
// helpers: no IP_FREEBIND equivalent, no SO_INCOMING_CPU, and
// IP_DONTFRAG/IPV6_DONTFRAG in place of Linux's IP_MTU_DISCOVER scheme.
// ReusePort and ReusePortLB both set SO_REUSEADDR plus plain
// SO_REUSEPORT; SO_REUSEPORT_LB itself is never set.
func apply(c Config, network string, rc syscall.RawConn) error {
	var setErr error
	err := rc.Control(func(fd uintptr) {
		ifd := int(fd)
		if c.ReusePort || c.ReusePortLB {
			if e := unix.SetsockoptInt(ifd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
				setErr = e
				return
			}
			if e := unix.SetsockoptInt(ifd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); e != nil {
				setErr = e
				return
			}
		}
		if c.DontFragment {
			if isIPv6(network) {
				if e := unix.SetsockoptInt(ifd, unix.IPPROTO_IPV6, unix.IPV6_DONTFRAG, 1); e != nil {
					setErr = e
					return
				}
				return
			}
			if e := unix.SetsockoptInt(ifd, unix.IPPROTO_IP, unix.IP_DONTFRAG, 1); e != nil {
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

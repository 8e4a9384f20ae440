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

//go:build windows

package ssopts

import "syscall"

// apply is a near no-op on Windows: the original source compiles out
// FREEBIND, REUSEPORT, and INCOMING_CPU entirely on this platform (no
// WSA equivalent exists), leaving only SO_REUSEADDR, which Go's net
// package already sets by default on a ListenConfig-created socket.
func apply(c Config, network string, rc syscall.RawConn) error {
	return nil
}

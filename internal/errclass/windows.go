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

package errclass

import "syscall"

const (
	EADDRINUSE    = syscall.WSAEADDRINUSE
	EADDRNOTAVAIL = syscall.WSAEADDRNOTAVAIL
	ECONNREFUSED  = syscall.WSAECONNREFUSED
	ECONNRESET    = syscall.WSAECONNRESET
	EHOSTUNREACH  = syscall.WSAEHOSTUNREACH
	ENETUNREACH   = syscall.WSAENETUNREACH
	ENETDOWN      = syscall.WSAENETDOWN
	EPIPE         = syscall.Errno(232) // ERROR_NO_DATA, closest Windows analogue of EPIPE on a pipe/socket
	ETIMEDOUT     = syscall.WSAETIMEDOUT
)

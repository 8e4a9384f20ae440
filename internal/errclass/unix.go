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

//go:build unix

// Package errclass exposes platform-portable names for the handful of
// socket errno values netmgr needs to distinguish, so the classifier in
// the root package never has to import golang.org/x/sys/unix or
// golang.org/x/sys/windows directly.
//
// Adapted from the unix/windows split in bassosimone-nop's errclass
// package, which solves the same problem for a DNS measurement client.
package errclass

import "syscall"

const (
	EADDRINUSE    = syscall.EADDRINUSE
	EADDRNOTAVAIL = syscall.EADDRNOTAVAIL
	ECONNREFUSED  = syscall.ECONNREFUSED
	ECONNRESET    = syscall.ECONNRESET
	EHOSTUNREACH  = syscall.EHOSTUNREACH
	ENETUNREACH   = syscall.ENETUNREACH
	ENETDOWN      = syscall.ENETDOWN
	EPIPE         = syscall.EPIPE
	ETIMEDOUT     = syscall.ETIMEDOUT
)

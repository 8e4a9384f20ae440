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
	"context"
	"errors"
	"net"
	"os"
	"syscall"

	"go.uber.org/zap"

	"github.com/pellurid/peldns/internal/errclass"
)

// classify is the Go equivalent of the original source's
// isc___nm_uverr2result: it converts a platform/library error into a
// Result of a known Kind, logging anything it cannot place. Unlike the
// libuv original, Go's net package already normalizes most of this into
// *net.OpError wrapping a syscall.Errno, so classify mostly has to peel
// that wrapper back and switch on the errno.
func classify(err error) Result {
	if err == nil {
		return success
	}

	// DeadlineExceeded (whether from a dial/read deadline or an
	// explicit context.WithTimeout around a connect) is a Timeout, not
	// a Cancelled: only an explicitly context.Canceled caller-driven
	// cancellation maps to Cancelled. This ordering matters because
	// net.Dialer wraps a context deadline in a *net.OpError whose
	// Unwrap chain reaches context.DeadlineExceeded, and
	// errors.Is/As would otherwise need to pick one branch first.
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return failure(Timeout, err)
	case errors.Is(err, context.Canceled):
		return failure(Cancelled, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return failure(Timeout, err)
		}
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case errclass.EADDRINUSE:
			return failure(AddressInUse, err)
		case errclass.EADDRNOTAVAIL:
			return failure(AddressNotAvailable, err)
		case errclass.ECONNREFUSED:
			return failure(ConnectionRefused, err)
		case errclass.ECONNRESET, errclass.EPIPE:
			return failure(Reset, err)
		case errclass.ENETUNREACH, errclass.EHOSTUNREACH, errclass.ENETDOWN:
			return failure(NetUnreach, err)
		case errclass.ETIMEDOUT:
			return failure(Timeout, err)
		}
	}

	Log().Warn("unclassified network error, mapping to SocketFail", zap.Error(err))
	return failure(SocketFail, err)
}

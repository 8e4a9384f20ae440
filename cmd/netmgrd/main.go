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

// Command netmgrd demonstrates the fan-in shape the original DNS
// server's server.c uses: one netmgr listener per configured
// interface, all sharing a single callback. It does not parse DNS
// queries or produce real answers — that is the resolver's job, out
// of scope here — it only echoes whatever bytes it received back to
// the sender, to exercise the UDP and TCPDNS transports end to end.
// Configuration is a literal Go struct, not a flag or file parser
// (config-file/CLI parsing is explicitly out of scope).
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	netmgr "github.com/pellurid/peldns"
)

// listenerConfig is the literal, in-code configuration netmgrd runs
// with, standing in for the configuration-file layer that would
// normally sit above netmgr (out of scope per spec.md §1).
type listenerConfig struct {
	udpAddrs    []string
	tcpdnsAddrs []string
}

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()
	netmgr.SetLogger(logger)

	cfg := listenerConfig{
		udpAddrs:    []string{"127.0.0.1:8053"},
		tcpdnsAddrs: []string{"127.0.0.1:8053"},
	}

	mgr := netmgr.Create(0, netmgr.WithTrace())
	defer mgr.Destroy()

	mgr.SetTimeouts(3*time.Second, 30*time.Second, 0, 0)

	echo := func(h *netmgr.Handle, region []byte, r netmgr.Result) {
		if !r.Ok() {
			return
		}
		h.Sock().Send(region, nil, nil)
	}

	for _, addr := range cfg.udpAddrs {
		if _, r := mgr.ListenUDP(addr, 0, echo, nil); !r.Ok() {
			logger.Fatal("udp listen failed", zap.String("addr", addr), zap.Error(r))
		}
	}

	quota := netmgr.NewQuota(1000)
	for _, addr := range cfg.tcpdnsAddrs {
		if _, r := mgr.ListenTCPDNS(addr, 128, 0, quota, 0, false, echo, nil); !r.Ok() {
			logger.Fatal("tcpdns listen failed", zap.String("addr", addr), zap.Error(r))
		}
	}

	logger.Info("netmgrd listening", zap.Strings("udp", cfg.udpAddrs), zap.Strings("tcpdns", cfg.tcpdnsAddrs))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	mgr.Shutdown()
}

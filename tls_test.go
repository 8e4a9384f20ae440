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
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"
)

func generateSelfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
}

// TestScenarioTLSHandshakeAndEcho exercises spec.md §4.7 end to end: a
// ListenTLS server performs the TLS handshake on an accepted
// connection, both accept_cb and the client's connect_cb fire exactly
// once with Ok, and plaintext written after the handshake completes is
// delivered through recv_cb on both sides.
func TestScenarioTLSHandshakeAndEcho(t *testing.T) {
	mgr := Create(2)
	defer mgr.Destroy()

	cert := generateSelfSignedCert(t)
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	clientCfg := &tls.Config{InsecureSkipVerify: true} //nolint:gosec // test-only, self-signed peer

	acceptDone := make(chan Result, 1)
	serverRecv := make(chan []byte, 1)

	listener, r := mgr.ListenTLS("127.0.0.1:0", 128, 0, nil, serverCfg, func(h *Handle, res Result) {
		acceptDone <- res
		if res.Ok() {
			h.Sock().Read(func(_ *Handle, region []byte, rr Result) {
				if rr.Ok() {
					cp := append([]byte(nil), region...)
					serverRecv <- cp
					h.Sock().Send(cp, nil, nil)
				}
			})
		}
	}, nil)
	if !r.Ok() {
		t.Fatalf("ListenTLS failed: %v", r)
	}
	addr := listener.s.ln.Addr().String()

	connectDone := make(chan Result, 1)
	clientSock, _ := mgr.ConnectTLS("", addr, clientCfg, 2*time.Second, func(h *Handle, res Result) {
		connectDone <- res
	}, nil)

	select {
	case res := <-connectDone:
		if !res.Ok() {
			t.Fatalf("client connect_cb = %v, want Ok", res)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("client connect_cb never fired")
	}
	select {
	case res := <-acceptDone:
		if !res.Ok() {
			t.Fatalf("server accept_cb = %v, want Ok", res)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server accept_cb never fired")
	}

	clientRecv := make(chan []byte, 1)
	clientSock.Read(func(_ *Handle, region []byte, rr Result) {
		if rr.Ok() {
			cp := append([]byte(nil), region...)
			clientRecv <- cp
		}
	})

	msg := []byte("hello over tls")
	sendDone := make(chan Result, 1)
	clientSock.Send(msg, func(_ *Handle, rr Result) { sendDone <- rr }, nil)

	select {
	case rr := <-sendDone:
		if !rr.Ok() {
			t.Fatalf("client send_cb = %v, want Ok", rr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client send_cb never fired")
	}

	select {
	case got := <-serverRecv:
		if !bytes.Equal(got, msg) {
			t.Fatalf("server received %q, want %q", got, msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the client's message")
	}

	select {
	case got := <-clientRecv:
		if !bytes.Equal(got, msg) {
			t.Fatalf("client received echo %q, want %q", got, msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never received the server's echo")
	}
}

// TestScenarioTLSHandshakeFailure dials a server that only speaks plain
// TCP; the client-side TLS handshake must fail and fire connect_cb
// exactly once with TLSHandshakeFailed, never Ok.
func TestScenarioTLSHandshakeFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("peer listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			// Hold the connection open without speaking TLS so the
			// client's handshake fails instead of racing a reset.
			go func(c net.Conn) {
				buf := make([]byte, 4096)
				for {
					if _, err := c.Read(buf); err != nil {
						c.Close()
						return
					}
				}
			}(c)
		}
	}()

	mgr := Create(1)
	defer mgr.Destroy()

	clientCfg := &tls.Config{InsecureSkipVerify: true} //nolint:gosec // test-only

	connectDone := make(chan Result, 1)
	var fireCount int
	_, _ = mgr.ConnectTLS("", ln.Addr().String(), clientCfg, 2*time.Second, func(h *Handle, res Result) {
		// Runs on the manager's single worker, strictly sequentially,
		// so no lock is needed around fireCount.
		fireCount++
		connectDone <- res
	}, nil)

	select {
	case res := <-connectDone:
		if res.Kind != TLSHandshakeFailed {
			t.Fatalf("connect_cb = %v, want TLSHandshakeFailed", res.Kind)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("connect_cb never fired")
	}

	// The channel send happens-after the increment in the same
	// callback invocation, so observing connectDone already makes
	// fireCount's value visible here.
	if fireCount != 1 {
		t.Fatalf("connect_cb fired %d times, want exactly 1", fireCount)
	}
}

// TestTLSInitializeIsIdempotent exercises spec.md §4.7's "initialize()
// is idempotent" property directly: calling tlsInitialize more than
// once on the same state must not re-run the one-shot init or change
// the observed substate.
func TestTLSInitializeIsIdempotent(t *testing.T) {
	st := &tlsState{}
	st.tlsInitialize()
	st.set(tlsIO) // simulate progress past init
	st.tlsInitialize()
	st.tlsInitialize()

	if tlsSubstate(st.substate.Load()) != tlsIO {
		t.Fatalf("substate = %v, want tlsIO preserved across repeated tlsInitialize calls", st.substate.Load())
	}
}

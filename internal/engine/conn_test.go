package engine

import (
	"bufio"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ezshark/ezshark-go/internal/certauthority"
	"github.com/ezshark/ezshark-go/internal/events"
	"github.com/ezshark/ezshark-go/internal/pause"
	"github.com/ezshark/ezshark-go/internal/settings"
	"github.com/ezshark/ezshark-go/internal/txstore"
)

func newTestConnHandler(t *testing.T) *ConnHandler {
	t.Helper()
	ca, err := certauthority.Ephemeral()
	if err != nil {
		t.Fatalf("Ephemeral CA: %v", err)
	}
	st := settings.Load(t.TempDir() + "/settings.json")
	pipeline := NewPipeline(txstore.New(10), st, pause.New(), events.NewBroker(), http.DefaultTransport, t.TempDir(), nil)
	return NewConnHandler(ca, pipeline, nil)
}

func TestServeTunnelPlaintextHTTP(t *testing.T) {
	h := newTestConnHandler(t)
	h.Pipeline.SetMonitorSession("sess-1")

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("tunneled"))
	}))
	defer upstream.Close()
	authority := strings.TrimPrefix(upstream.URL, "http://")

	tunnelSrv, tunnelClient := net.Pipe()
	defer tunnelSrv.Close()

	go h.serveTunnel(authority, tunnelClient)

	br := bufio.NewReader(tunnelSrv)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("reading CONNECT ack: %v", err)
	}
	if line != "HTTP/1.1 200 Connection Established\r\n" {
		t.Fatalf("ack line = %q", line)
	}
	if _, err := br.ReadString('\n'); err != nil {
		t.Fatalf("reading ack terminator: %v", err)
	}

	go tunnelSrv.Write([]byte("GET / HTTP/1.1\r\nHost: " + authority + "\r\n\r\n"))

	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "tunneled" {
		t.Fatalf("body = %q, want %q", body, "tunneled")
	}
}

func TestServeTunnelOpaqueOnUnrecognizedBytes(t *testing.T) {
	h := newTestConnHandler(t)

	// An upstream TCP echo server to dial for the opaque fallback.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	upstream, client := net.Pipe()
	defer upstream.Close()

	go h.serveTunnel(ln.Addr().String(), client)

	br := bufio.NewReader(upstream)
	if _, err := br.ReadString('\n'); err != nil {
		t.Fatalf("reading CONNECT ack: %v", err)
	}
	if _, err := br.ReadString('\n'); err != nil {
		t.Fatalf("reading ack terminator: %v", err)
	}

	payload := []byte{0xAB, 0xCD, 0xEF, 0x01, 0x02}
	go upstream.Write(payload)

	echoed := make([]byte, len(payload))
	upstream.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(br, echoed); err != nil {
		t.Fatalf("reading echoed opaque bytes: %v", err)
	}
	for i := range payload {
		if echoed[i] != payload[i] {
			t.Fatalf("echoed[%d] = %x, want %x", i, echoed[i], payload[i])
		}
	}
}

func TestServeTunnelTLSHandshakeUsesMintedLeaf(t *testing.T) {
	h := newTestConnHandler(t)

	upstream, client := net.Pipe()
	defer upstream.Close()

	go h.serveTunnel("secure.example.com:443", client)

	br := bufio.NewReader(upstream)
	if _, err := br.ReadString('\n'); err != nil {
		t.Fatalf("reading CONNECT ack: %v", err)
	}
	if _, err := br.ReadString('\n'); err != nil {
		t.Fatalf("reading ack terminator: %v", err)
	}

	tlsClient := tls.Client(&bufferedConn{Conn: upstream, r: br}, &tls.Config{InsecureSkipVerify: true})
	defer tlsClient.Close()

	done := make(chan error, 1)
	go func() { done <- tlsClient.Handshake() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("TLS handshake: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("TLS handshake timed out")
	}

	cs := tlsClient.ConnectionState()
	if len(cs.PeerCertificates) == 0 {
		t.Fatal("expected a minted leaf certificate")
	}
	if cs.PeerCertificates[0].Subject.CommonName != "secure.example.com" {
		t.Fatalf("leaf CN = %q", cs.PeerCertificates[0].Subject.CommonName)
	}
}

// bufferedConn lets a bufio.Reader that already buffered bytes off a
// net.Conn be handed back to crypto/tls as a plain net.Conn.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// Package engine, continued: C7 is the per-CONNECT-tunnel state
// machine. It hijacks the raw client connection from goproxy (rather
// than goproxy's own ConnectMitm, which only offers a fixed TLS-or-
// nothing branch) so each tunnel can be sniffed and routed as
// plaintext HTTP, TLS, or an opaque byte stream, grounded on
// other_examples' go-mitmproxy attacker.go three-way dispatch and the
// teacher's enableMITM CA wiring (src/proxy.go).
package engine

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/elazarl/goproxy"

	"github.com/ezshark/ezshark-go/internal/certauthority"
	"github.com/ezshark/ezshark-go/internal/logging"
	"github.com/ezshark/ezshark-go/internal/model"
)

// ConnHandler is C7: it owns the CA used to mint per-host leaf certs
// and dispatches each hijacked CONNECT tunnel to the Pipeline (C8)
// over a synthetic single-connection HTTP server.
type ConnHandler struct {
	CA       *certauthority.CA
	Pipeline *Pipeline
	Logger   *logging.Logger
}

// NewConnHandler builds a ConnHandler.
func NewConnHandler(ca *certauthority.CA, pipeline *Pipeline, logger *logging.Logger) *ConnHandler {
	return &ConnHandler{CA: ca, Pipeline: pipeline, Logger: logger}
}

// HTTPSHandler returns the goproxy FuncHttpsHandler that routes every
// CONNECT through Hijack instead of goproxy's built-in MITM action.
func (h *ConnHandler) HTTPSHandler() goproxy.FuncHttpsHandler {
	return func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		return &goproxy.ConnectAction{
			Action: goproxy.ConnectHijack,
			Hijack: func(req *http.Request, client net.Conn, ctx *goproxy.ProxyCtx) {
				h.serveTunnel(host, client)
			},
		}, host
	}
}

// serveTunnel is the C7 state machine body: acknowledge the CONNECT,
// peek the first bytes of the tunnel, and dispatch to the matching
// protocol handler. authority is host:port as sent in the CONNECT
// request line.
func (h *ConnHandler) serveTunnel(authority string, client net.Conn) {
	defer client.Close()

	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		if h.Logger != nil {
			h.Logger.Warnf("tunnel %s: write CONNECT ack: %v", authority, err)
		}
		return
	}

	peeked, rewound, err := peekBytes(client, 4)
	if err != nil && len(peeked) == 0 {
		if h.Logger != nil {
			h.Logger.Warnf("tunnel %s: peek: %v", authority, err)
		}
		return
	}

	switch SniffTunnelProtocol(peeked) {
	case ProtocolPlaintextHTTP:
		h.serveHTTPOverTunnel(authority, rewound, "http")
	case ProtocolTLS:
		h.serveTLSOverTunnel(authority, rewound)
	default:
		h.serveOpaqueTunnel(authority, rewound)
	}
}

// serveHTTPOverTunnel drives a single-connection *http.Server over a
// plaintext tunnel, rewriting each inbound request's URL to carry the
// tunnel's scheme and authority before handing off to the Pipeline.
func (h *ConnHandler) serveHTTPOverTunnel(authority string, conn net.Conn, scheme string) {
	l := newSingleConnListener(conn)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.URL.Scheme = scheme
			r.URL.Host = authority
			h.Pipeline.Handle(w, r)
		}),
	}
	_ = srv.Serve(l)
}

// serveTLSOverTunnel performs the server-side TLS handshake using a
// leaf certificate minted for authority, then drives the same
// single-connection HTTP server over the decrypted stream.
func (h *ConnHandler) serveTLSOverTunnel(authority string, conn net.Conn) {
	conf, err := h.CA.GenServerConfig(authority)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warnf("tunnel %s: gen server config: %v", authority, err)
		}
		return
	}
	tlsConn := tls.Server(conn, conf)
	if err := tlsConn.Handshake(); err != nil {
		if h.Logger != nil {
			h.Logger.Warnf("tunnel %s: TLS handshake: %v", authority, err)
		}
		return
	}
	h.serveHTTPOverTunnel(authority, tlsConn, "https")
}

// serveOpaqueTunnel falls back to raw byte forwarding for tunnels that
// are neither plaintext HTTP nor a TLS ClientHello, recording a single
// transaction marking the traffic as unparsed when monitoring is
// active, mirroring the original's unconditional tunnel passthrough
// for protocols it can't parse.
func (h *ConnHandler) serveOpaqueTunnel(authority string, client net.Conn) {
	sessionID := h.Pipeline.MonitorSession()
	monitored := sessionID != ""

	var tx *model.Transaction
	if monitored {
		tx = model.NewTransaction(sessionID, "CONNECT", authority, "opaque", &model.Headers{})
		tx.AppendError("unknown protocol: forwarded opaque")
		h.Pipeline.Store().Insert(tx)
	}

	upstream, err := net.Dial("tcp", authority)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warnf("tunnel %s: dial upstream: %v", authority, err)
		}
		if tx != nil {
			tx.Fail(fmt.Sprintf("dial upstream: %v", err))
		}
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(upstream, client)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, upstream)
		done <- struct{}{}
	}()
	<-done
	if tx != nil {
		tx.FinalizeOpaque(0)
	}
}

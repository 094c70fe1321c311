// External-proxy bypass/dial decisions for C8's upstream-dispatch step.
// Grounded on the original's check_proxy_config/is_local_request/
// extract_domain (models/external_proxy.rs, utils.rs); the SOCKS5
// dialer uses golang.org/x/net/proxy, the ecosystem's client for a
// scheme the teacher never implements.
package engine

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	xnetproxy "golang.org/x/net/proxy"

	"github.com/ezshark/ezshark-go/internal/crypto"
	"github.com/ezshark/ezshark-go/internal/model"
)

// isLocalHost mirrors is_local_request: localhost, 127.0.0.1, ::1, or
// any loopback IP.
func isLocalHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if host == "127.0.0.1" || host == "::1" || host == "[::1]" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// shouldBypassExternalProxy decides whether rawURL should skip the
// external proxy entirely, mirroring check_proxy_config.
func shouldBypassExternalProxy(cfg model.ExternalProxyConfig, rawURL string) bool {
	if !cfg.Enabled {
		return true
	}

	host := extractHost(rawURL)
	if cfg.AlwaysBypassLocalhost && isLocalHost(host) {
		return true
	}

	if len(cfg.BypassDomains) > 0 {
		for _, d := range cfg.BypassDomains {
			if strings.EqualFold(d, host) {
				return true
			}
		}
	}

	entry, ok := cfg.Configurations[cfg.ProxyType]
	if !ok || entry.Empty() {
		return true
	}
	if entry.RequiresAuthentication && (entry.Username == "" || entry.EncryptedPassword == "") {
		return true
	}
	return false
}

func extractHost(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Hostname()
	}
	_, without, found := strings.Cut(rawURL, "://")
	if !found {
		without = rawURL
	}
	host, _, _ := strings.Cut(without, "/")
	host, _, _ = strings.Cut(host, "?")
	return host
}

// proxyConnector carries everything the upstream transport needs to
// route a request through the configured external proxy.
type proxyConnector struct {
	scheme   model.ProxyScheme
	entry    model.ExternalProxyEntry
	password string
}

func newProxyConnector(entry model.ExternalProxyEntry, scheme model.ProxyScheme) (*proxyConnector, error) {
	pc := &proxyConnector{scheme: scheme, entry: entry}
	if entry.RequiresAuthentication && entry.EncryptedPassword != "" {
		pw, err := crypto.Default().Decrypt(entry.EncryptedPassword)
		if err != nil {
			return nil, err
		}
		pc.password = pw
	}
	return pc, nil
}

// proxyURL returns the http(s)-style proxy URL for use as a
// net/http.Transport.Proxy function.
func (c *proxyConnector) proxyURL() *url.URL {
	u := &url.URL{Scheme: "http", Host: net.JoinHostPort(c.entry.Host, portString(c.entry.Port))}
	if c.entry.RequiresAuthentication {
		u.User = url.UserPassword(c.entry.Username, c.password)
	}
	return u
}

// proxyHeaders returns the headers to merge into outgoing plaintext
// HTTP (not HTTPS CONNECT) requests dispatched through this connector,
// matching spec.md §4.8's "merge the connector's proxy headers".
func (c *proxyConnector) proxyHeaders() http.Header {
	h := http.Header{}
	if c.entry.RequiresAuthentication {
		req := &http.Request{Header: http.Header{}}
		req.SetBasicAuth(c.entry.Username, c.password)
		h.Set("Proxy-Authorization", req.Header.Get("Authorization"))
	}
	return h
}

// socksDialer returns a dialer that connects through the configured
// SOCKS5 proxy, used when scheme=socks rather than the Transport.Proxy
// http path.
func (c *proxyConnector) socksDialer() (xnetproxy.Dialer, error) {
	var auth *xnetproxy.Auth
	if c.entry.RequiresAuthentication {
		auth = &xnetproxy.Auth{User: c.entry.Username, Password: c.password}
	}
	return xnetproxy.SOCKS5("tcp", net.JoinHostPort(c.entry.Host, portString(c.entry.Port)), auth, xnetproxy.Direct)
}

func portString(p uint16) string {
	return strconv.Itoa(int(p))
}

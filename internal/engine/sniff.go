package engine

// TunnelProtocol classifies a freshly-hijacked CONNECT tunnel by its
// first bytes, per spec.md §4.7.
type TunnelProtocol int

const (
	ProtocolUnknown TunnelProtocol = iota
	ProtocolPlaintextHTTP
	ProtocolTLS
	ProtocolOpaque
)

// SniffTunnelProtocol classifies peek (up to the first 4 bytes read
// from the tunnel) as plaintext HTTP, a TLS ClientHello, or opaque.
func SniffTunnelProtocol(peek []byte) TunnelProtocol {
	if len(peek) >= 4 && string(peek[:4]) == "GET " {
		return ProtocolPlaintextHTTP
	}
	if len(peek) >= 2 && peek[0] == 0x16 && peek[1] == 0x03 {
		return ProtocolTLS
	}
	return ProtocolOpaque
}

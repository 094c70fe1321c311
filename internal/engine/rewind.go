// rewindConn lets C7 peek the first bytes of a freshly-hijacked CONNECT
// tunnel to classify its protocol, then replay those bytes ahead of
// the live connection so the downstream HTTP/TLS parser sees the
// entire stream untouched. Grounded on the original's "peek first 4
// bytes, then re-serve the whole stream" handle_connect behavior
// (server.rs), expressed in Go as an io.MultiReader wrapper rather
// than the original's BytesMut cursor trick.
package engine

import (
	"bytes"
	"io"
	"net"
)

type rewindConn struct {
	net.Conn
	r io.Reader
}

// newRewindConn wraps c so Read first replays peeked, then continues
// reading from c.
func newRewindConn(c net.Conn, peeked []byte) *rewindConn {
	return &rewindConn{Conn: c, r: io.MultiReader(bytes.NewReader(peeked), c)}
}

func (rc *rewindConn) Read(p []byte) (int, error) { return rc.r.Read(p) }

// peekBytes reads exactly n bytes from c and returns a new net.Conn
// that will yield those same n bytes again before continuing to read
// from c live.
func peekBytes(c net.Conn, n int) ([]byte, net.Conn, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(c, buf)
	if err != nil && read == 0 {
		return nil, nil, err
	}
	buf = buf[:read]
	return buf, newRewindConn(c, buf), nil
}

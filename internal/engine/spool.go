// Body spool paths and the decompress-on-finalize step, grounded on
// spec.md §6 ("Body spool at <tempdir>/ez-shark-<pid>/<gid:05>-{req|
// res}<.ext>[.enc.<codec>]") and the original's BodyWrapper spool-to-
// file + done_traffic uncompress-in-place behavior (server.rs).
package engine

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ezshark/ezshark-go/internal/codec"
)

// SpoolDir returns the per-process spool directory under tmpDir.
func SpoolDir(tmpDir string, pid int) string {
	return filepath.Join(tmpDir, "ez-shark-"+strconv.Itoa(pid))
}

// extFromContentType maps a Content-Type to a file extension, falling
// back to .bin when unrecognized.
func extFromContentType(contentType string) string {
	if contentType == "" {
		return ".bin"
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}

// spoolPath builds the path for a transaction body spool file: either
// the final decoded path (no .enc suffix) or the still-encoded path
// when enc is non-identity.
func spoolPath(dir string, gid uint64, side string, contentType string, enc codec.Encoding) string {
	base := fmt.Sprintf("%05d-%s%s", gid, side, extFromContentType(contentType))
	if enc == codec.Identity || enc == "" {
		return filepath.Join(dir, base)
	}
	return filepath.Join(dir, base+enc.Ext())
}

// finalDecodedPath strips the trailing .enc.<codec> suffix.
func finalDecodedPath(encodedPath string, enc codec.Encoding) string {
	if enc == codec.Identity || enc == "" {
		return encodedPath
	}
	suffix := enc.Ext()
	if len(encodedPath) > len(suffix) && encodedPath[len(encodedPath)-len(suffix):] == suffix {
		return encodedPath[:len(encodedPath)-len(suffix)]
	}
	return encodedPath
}

// decodeSpoolFile reads the encoded spool file, decompresses it per
// enc, writes the final decoded file, and removes the still-encoded
// sibling. Returns the decoded byte count. A decode failure falls back
// to copying the raw bytes through untouched (CodecError: fall back to
// raw bytes, warning only, per spec.md §7).
func decodeSpoolFile(encodedPath string, enc codec.Encoding) (int64, error) {
	finalPath := finalDecodedPath(encodedPath, enc)
	if enc == codec.Identity || enc == "" {
		info, err := os.Stat(finalPath)
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	}

	raw, err := os.ReadFile(encodedPath)
	if err != nil {
		return 0, err
	}

	decoded, decodeErr := codec.Decompress(enc, raw)
	if decodeErr != nil {
		decoded = raw // CodecError fallback: raw bytes, best effort
	}

	if err := os.WriteFile(finalPath, decoded, 0o644); err != nil {
		return 0, err
	}
	_ = os.Remove(encodedPath)
	return int64(len(decoded)), nil
}

// spoolToFile streams src to path while also returning the bytes
// written, creating parent directories as needed.
func spoolToFile(path string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(f, src)
}

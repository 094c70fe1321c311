package codec

import (
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Hard limits on the unknown-protobuf decoder, tighter than the
// original ProtobufUnknownParser (utils.rs): this walk runs over bytes
// from arbitrary upstream servers and must always terminate.
const (
	maxFieldBytes       = 10 << 20 // 10 MB per length-delimited field
	maxFields           = 100_000
	maxConsecutiveError = 10
	recoveryScanBytes   = 1024
)

// DecodeUnknownProtobuf best-effort decodes data as a Protobuf message
// with no known schema, producing a JSON-able map keyed by field
// number. Repeated fields promote to a []any. It never panics and
// always terminates, even on non-protobuf input: unparseable regions
// are skipped via a bounded forward recovery scan.
func DecodeUnknownProtobuf(data []byte) (map[string]any, error) {
	out := make(map[string]any)
	fieldCount := 0
	consecutiveErrors := 0
	pos := 0

	for pos < len(data) {
		if fieldCount >= maxFields {
			break
		}

		num, typ, n := protowire.ConsumeTag(data[pos:])
		if n < 0 {
			if !recover1(&pos, data, &consecutiveErrors) {
				break
			}
			continue
		}

		value, consumed, err := decodeField(typ, data[pos+n:])
		if err != nil {
			if !recover1(&pos, data, &consecutiveErrors) {
				break
			}
			continue
		}

		consecutiveErrors = 0
		fieldCount++
		key := fmt.Sprintf("%d", num)
		mergeField(out, key, value)
		pos += n + consumed
	}

	return out, nil
}

// recover1 advances pos by one byte and scans forward up to
// recoveryScanBytes for a plausible tag (valid wire type, nonzero
// field number), mirroring the original parser's resync behavior. It
// reports whether decoding should continue.
func recover1(pos *int, data []byte, consecutiveErrors *int) bool {
	*consecutiveErrors++
	if *consecutiveErrors > maxConsecutiveError {
		return false
	}

	limit := *pos + recoveryScanBytes
	if limit > len(data) {
		limit = len(data)
	}
	for p := *pos + 1; p < limit; p++ {
		b := data[p]
		wireType := protowire.Type(b & 0x07)
		fieldNum := b >> 3
		if fieldNum != 0 && isValidWireType(wireType) {
			*pos = p
			return true
		}
	}
	*pos = len(data)
	return false
}

func isValidWireType(t protowire.Type) bool {
	switch t {
	case protowire.VarintType, protowire.Fixed64Type, protowire.BytesType, protowire.Fixed32Type:
		return true
	default:
		return false
	}
}

func decodeField(typ protowire.Type, rest []byte) (any, int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(rest)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		return v, n, nil
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(rest)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		return v, n, nil
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(rest)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		return v, n, nil
	case protowire.BytesType:
		v, n := protowire.ConsumeBytes(rest)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		if len(v) > maxFieldBytes {
			return nil, 0, fmt.Errorf("codec: length-delimited field exceeds %d bytes", maxFieldBytes)
		}
		return decodeBytesField(v), n, nil
	default:
		return nil, 0, fmt.Errorf("codec: unsupported wire type %d", typ)
	}
}

// decodeBytesField classifies a length-delimited field's payload: a
// UTF-8 string if valid, else base64-encoded raw bytes. Matches the
// original parser (utils.rs's is_valid_utf8 check), which never
// attempts nested-message recovery for a field that is valid UTF-8.
func decodeBytesField(v []byte) any {
	if utf8.Valid(v) {
		return string(v)
	}
	return base64.StdEncoding.EncodeToString(v)
}

// mergeField inserts value under key, promoting to a slice on the
// second and later occurrence of a repeated field.
func mergeField(out map[string]any, key string, value any) {
	existing, ok := out[key]
	if !ok {
		out[key] = value
		return
	}
	if arr, ok := existing.([]any); ok {
		out[key] = append(arr, value)
		return
	}
	out[key] = []any{existing, value}
}

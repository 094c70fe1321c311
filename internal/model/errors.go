package model

import "errors"

// Error taxonomy from the error handling design: each category is a
// sentinel that call sites wrap with fmt.Errorf("...: %w", category).
var (
	ErrClientProtocol  = errors.New("client protocol error")
	ErrTLSHandshake    = errors.New("tls handshake error")
	ErrUpstreamConnect = errors.New("upstream connect error")
	ErrUpstreamRead    = errors.New("upstream read error")
	ErrTimeout         = errors.New("timeout")
	ErrCodec           = errors.New("codec error")
	ErrConfig          = errors.New("config error")
	ErrInternal        = errors.New("internal invariant violation")
)

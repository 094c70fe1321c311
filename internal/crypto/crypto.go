// Package crypto decrypts the external-proxy password stored in
// settings.json. It mirrors the original system's CryptoService: a
// process-wide AES-256-CBC/PKCS7 service keyed with a fixed key/IV, the
// same scheme the desktop UI's settings editor encrypts passwords with.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
)

// fixed process-wide key/IV, matching the original CRYPTO_SERVICE constants.
const (
	processKey = "mK9bP2vN8xL5tR7hJ4fD1cA3gE6iQ0wS" // 32 bytes
	processIV  = "uY5nM2kX7pJ9vB4c"                 // 16 bytes
)

// Service decrypts base64(AES-256-CBC/PKCS7(plaintext)) strings.
type Service struct {
	key []byte
	iv  []byte
}

// New validates key/iv lengths and returns a Service.
func New(key, iv string) (*Service, error) {
	if len(key) != 32 {
		return nil, errors.New("crypto: key must be 32 bytes")
	}
	if len(iv) != 16 {
		return nil, errors.New("crypto: iv must be 16 bytes")
	}
	return &Service{key: []byte(key), iv: []byte(iv)}, nil
}

// defaultService builds the process-wide Service on first use.
var defaultService = sync.OnceValue(func() *Service {
	svc, err := New(processKey, processIV)
	if err != nil {
		panic(err)
	}
	return svc
})

// Default returns the process-wide crypto service.
func Default() *Service { return defaultService() }

// Decrypt base64-decodes encryptedText and decrypts it with
// AES-256-CBC, removing PKCS7 padding.
func (s *Service) Decrypt(encryptedText string) (string, error) {
	if encryptedText == "" {
		return "", errors.New("crypto: empty input")
	}
	data, err := base64.StdEncoding.DecodeString(encryptedText)
	if err != nil {
		return "", fmt.Errorf("crypto: base64 decode: %w", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", errors.New("crypto: ciphertext is not a multiple of the block size")
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	mode := cipher.NewCBCDecrypter(block, s.iv)
	plain := make([]byte, len(data))
	mode.CryptBlocks(plain, data)

	plain, err = unpadPKCS7(plain)
	if err != nil {
		return "", fmt.Errorf("crypto: %w", err)
	}
	return string(plain), nil
}

func unpadPKCS7(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, errors.New("empty plaintext")
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > n {
		return nil, errors.New("invalid padding")
	}
	if !bytes.Equal(data[n-padLen:], bytes.Repeat([]byte{byte(padLen)}, padLen)) {
		return nil, errors.New("invalid padding")
	}
	return data[:n-padLen], nil
}

// Package certauthority implements C1: a local certificate authority
// that persists a root key/cert and mints cached leaf certificates for
// on-the-fly TLS MITM. Grounded in the teacher's generateCA/
// loadOrCreateCA/saveCA/enableMITM (src/proxy.go) and the original's
// CertificateAuthority::gen_server_config.
package certauthority

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// CA holds the root key/cert and a read-mostly cache of minted leaf
// certificates keyed by authority (host:port, host case-folded).
type CA struct {
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey

	mu    sync.RWMutex
	cache map[string]*cachedLeaf
}

type cachedLeaf struct {
	cert       tls.Certificate
	serverConf *tls.Config
}

// Load loads root material from certPath/keyPath, generating and
// persisting a fresh self-signed CA (atomically, via temp+rename) if
// either file is absent.
func Load(certPath, keyPath string) (*CA, error) {
	cert, key, err := loadRoot(certPath, keyPath)
	if err == nil {
		return &CA{rootCert: cert, rootKey: key, cache: make(map[string]*cachedLeaf)}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("certauthority: load root: %w", err)
	}

	cert, key, err = generateRootCA()
	if err != nil {
		return nil, fmt.Errorf("certauthority: generate root: %w", err)
	}
	if err := saveRootAtomic(cert, key, certPath, keyPath); err != nil {
		return nil, fmt.Errorf("certauthority: persist root: %w", err)
	}
	return &CA{rootCert: cert, rootKey: key, cache: make(map[string]*cachedLeaf)}, nil
}

// Ephemeral builds an in-memory-only CA, useful for tests.
func Ephemeral() (*CA, error) {
	cert, key, err := generateRootCA()
	if err != nil {
		return nil, err
	}
	return &CA{rootCert: cert, rootKey: key, cache: make(map[string]*cachedLeaf)}, nil
}

func cacheKey(authority string) string {
	host, port, err := net.SplitHostPort(authority)
	if err != nil {
		return strings.ToLower(authority)
	}
	return strings.ToLower(host) + ":" + port
}

// GenServerConfig returns a TLS server config offering a leaf cert
// minted (or cached) for authority's host. A per-authority read-mostly
// cache makes repeat connections to the same host cheap; a missing
// entry mints under a double-checked write lock.
func (c *CA) GenServerConfig(authority string) (*tls.Config, error) {
	key := cacheKey(authority)

	c.mu.RLock()
	if leaf, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return leaf.serverConf, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if leaf, ok := c.cache[key]; ok {
		return leaf.serverConf, nil
	}

	host, _, err := net.SplitHostPort(authority)
	if err != nil {
		host = authority
	}
	leafCert, err := c.mintLeaf(host)
	if err != nil {
		return nil, fmt.Errorf("certauthority: mint leaf for %s: %w", host, err)
	}
	conf := &tls.Config{
		Certificates: []tls.Certificate{leafCert},
		NextProtos:   []string{"h2", "http/1.1"},
	}
	c.cache[key] = &cachedLeaf{cert: leafCert, serverConf: conf}
	return conf, nil
}

func (c *CA) mintLeaf(host string) (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, err
	}

	tpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host, Organization: []string{"ez-shark MITM"}},
		NotBefore:    time.Now().Add(-1 * time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{host},
	}
	if ip := net.ParseIP(host); ip != nil {
		tpl.IPAddresses = []net.IP{ip}
		tpl.DNSNames = nil
	}

	der, err := x509.CreateCertificate(rand.Reader, tpl, c.rootCert, &priv.PublicKey, c.rootKey)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der, c.rootCert.Raw},
		PrivateKey:  priv,
		Leaf:        nil,
	}, nil
}

// RootCert returns the root certificate, e.g. for export to clients.
func (c *CA) RootCert() *x509.Certificate { return c.rootCert }

func generateRootCA() (*x509.Certificate, *rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, nil, err
	}
	tpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"ez-shark Interception CA"},
			CommonName:   "ez-shark Interception CA",
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

func loadRoot(certPath, keyPath string) (*x509.Certificate, *rsa.PrivateKey, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, err
	}
	return parsePEMPair(certPEM, keyPEM)
}

func saveRootAtomic(cert *x509.Certificate, key *rsa.PrivateKey, certPath, keyPath string) error {
	if err := os.MkdirAll(filepath.Dir(certPath), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o755); err != nil {
		return err
	}
	certPEM, keyPEM := encodePEMPair(cert, key)

	if err := writeAtomic(certPath, certPEM, 0o644); err != nil {
		return err
	}
	if err := writeAtomic(keyPath, keyPEM, 0o600); err != nil {
		return err
	}
	return nil
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Package tlschannel performs the TLS handshake and identity enforcement
// that gates every AMQP connection: it builds a *tls.Config from a node's
// own SSL keystore and truststore, completes the handshake, recovers the
// peer's legal name from its certificate subject, and checks that name
// against both the truststore root and an optional allow-list before the
// connection is handed off to the AMQP layer.
package tlschannel

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/zonemesh/peernet/internal/certkit"
)

// Identity bundles the key material a node presents during the handshake:
// its own leaf-to-root certificate chain and matching private key, plus the
// single root certificate it extends trust to.
type Identity struct {
	KeyPair     *certkit.KeyPair
	Chain       certkit.CertChain
	TrustedRoot *x509.Certificate
}

// TLSConfig builds the *tls.Config both the server and client sides of a
// peer connection use. Both directions present a certificate and both
// require and verify the peer's: this is a closed, mutually-authenticated
// network, not a public-facing service with anonymous clients.
func TLSConfig(id Identity, serverMode bool) (*tls.Config, error) {
	if id.KeyPair == nil || id.Chain.Leaf() == nil {
		return nil, fmt.Errorf("tlschannel: identity has no certificate chain")
	}
	if id.TrustedRoot == nil {
		return nil, fmt.Errorf("tlschannel: identity has no trusted root")
	}

	rawChain := make([][]byte, len(id.Chain))
	for i, c := range id.Chain {
		rawChain[i] = c.Raw
	}
	cert := tls.Certificate{
		Certificate: rawChain,
		PrivateKey:  id.KeyPair.Private,
		Leaf:        id.Chain.Leaf(),
	}

	pool := x509.NewCertPool()
	pool.AddCert(id.TrustedRoot)

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}
	if serverMode {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

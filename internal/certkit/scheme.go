// Package certkit implements the X.509 toolkit: keypair generation, CA and
// leaf certificate issuance, PKCS#10 CSR construction/parsing, and chain
// validation against a configured trust root.
package certkit

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"fmt"
)

// SignatureScheme selects the asymmetric algorithm used for a generated
// KeyPair. The default, SchemeECDSAP256SHA256, matches the zone-wide
// tlsSignatureScheme default.
type SignatureScheme int

const (
	SchemeECDSAP256SHA256 SignatureScheme = iota
	SchemeEd25519
)

func (s SignatureScheme) String() string {
	switch s {
	case SchemeECDSAP256SHA256:
		return "ECDSA-P256-SHA256"
	case SchemeEd25519:
		return "Ed25519"
	default:
		return "unknown"
	}
}

// SignatureAlgorithm returns the x509.SignatureAlgorithm a certificate
// issued over a key of this scheme must use.
func (s SignatureScheme) SignatureAlgorithm() x509.SignatureAlgorithm {
	switch s {
	case SchemeEd25519:
		return x509.PureEd25519
	default:
		return x509.ECDSAWithSHA256
	}
}

// KeyPair wraps a generated asymmetric key. The private half is sensitive
// and is only ever serialized through the credstore package.
type KeyPair struct {
	Scheme  SignatureScheme
	Private crypto.Signer
	Public  crypto.PublicKey
}

// GenerateKeyPair generates fresh key material for the given scheme.
func GenerateKeyPair(scheme SignatureScheme) (*KeyPair, error) {
	switch scheme {
	case SchemeEd25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		return &KeyPair{Scheme: scheme, Private: priv, Public: pub}, nil
	case SchemeECDSAP256SHA256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ecdsa key: %w", err)
		}
		return &KeyPair{Scheme: scheme, Private: priv, Public: &priv.PublicKey}, nil
	default:
		return nil, fmt.Errorf("generate key pair: unsupported scheme %v", scheme)
	}
}

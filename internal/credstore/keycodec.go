package credstore

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"fmt"

	"github.com/zonemesh/peernet/internal/certkit"
)

// marshalPrivateKey encodes a KeyPair's private half as PKCS#8 DER.
func marshalPrivateKey(kp *certkit.KeyPair) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.Private)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return der, nil
}

// unmarshalPrivateKey decodes PKCS#8 DER back into a KeyPair of the given
// scheme.
func unmarshalPrivateKey(scheme certkit.SignatureScheme, der []byte) (*certkit.KeyPair, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("unmarshal private key: %w", err)
	}
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		return &certkit.KeyPair{Scheme: scheme, Private: k, Public: &k.PublicKey}, nil
	case ed25519.PrivateKey:
		return &certkit.KeyPair{Scheme: scheme, Private: k, Public: k.Public()}, nil
	default:
		return nil, fmt.Errorf("unmarshal private key: unsupported key type %T", key)
	}
}

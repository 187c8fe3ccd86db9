package certkit

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"time"
)

// CertChain is an ordered sequence of certificates leaf -> ... -> root.
type CertChain []*x509.Certificate

// Leaf returns the first (leaf) certificate, or nil if the chain is empty.
func (c CertChain) Leaf() *x509.Certificate {
	if len(c) == 0 {
		return nil
	}
	return c[0]
}

// ValidateChain checks that chain is non-empty, each link is signed by its
// successor, the final link is bit-identical (DER) to trustedRoot, each
// certificate is currently within its validity window, and key usage is
// consistent with the role each certificate is expected to hold.
//
// roleOf, when non-nil, maps chain index to the Role that certificate is
// expected to carry (index 0 = leaf); entries are checked for key-usage
// consistency. When roleOf is nil only structural and temporal validity are
// checked.
func ValidateChain(trustedRoot *x509.Certificate, chain CertChain, roleOf func(index int) Role) error {
	if len(chain) == 0 {
		return ErrChainDoesNotTerminateAtRoot
	}

	now := time.Now()
	for i, cert := range chain {
		if now.Before(cert.NotBefore) {
			return fmt.Errorf("%w: certificate %d (%s)", ErrNotYetValid, i, cert.Subject)
		}
		if now.After(cert.NotAfter) {
			return fmt.Errorf("%w: certificate %d (%s)", ErrExpired, i, cert.Subject)
		}
		if roleOf != nil {
			role := roleOf(i)
			if !role.matchesKeyUsage(cert) {
				return fmt.Errorf("%w: certificate %d (%s) expected role %s", ErrRoleMismatch, i, cert.Subject, role)
			}
		}
		if i+1 < len(chain) {
			if err := cert.CheckSignatureFrom(chain[i+1]); err != nil {
				return fmt.Errorf("%w: certificate %d not signed by certificate %d: %v", ErrSignatureInvalid, i, i+1, err)
			}
		}
	}

	last := chain[len(chain)-1]
	if !bytes.Equal(last.Raw, trustedRoot.Raw) {
		return ErrChainDoesNotTerminateAtRoot
	}
	return nil
}

package certkit

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"math/big"
	"time"
)

// DefaultValidityWindow is used by createCertificate when the caller does
// not specify a requested lifetime.
const DefaultValidityWindow = 365 * 24 * time.Hour

// randomSerial generates a cryptographically random 128-bit certificate serial.
func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}
	return serial, nil
}

// CreateSelfSignedCA builds a new self-signed ROOT_CA-shaped certificate
// over keypair, under the given legal name.
func CreateSelfSignedCA(principal LegalName, keypair *KeyPair) (*x509.Certificate, error) {
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               principal.X500Principal(),
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              RoleRootCA.keyUsage(),
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, keypair.Public, keypair.Private)
	if err != nil {
		return nil, fmt.Errorf("create self-signed CA: %w", err)
	}
	return x509.ParseCertificate(der)
}

// validityWindow derives the (NotBefore, NotAfter) pair for a child
// certificate per spec §4.2: start = max(now, issuer.NotBefore),
// end = min(now+requestedLifetime, issuer.NotAfter).
func validityWindow(issuer *x509.Certificate, requestedLifetime time.Duration) (time.Time, time.Time, error) {
	if requestedLifetime == 0 {
		requestedLifetime = DefaultValidityWindow
	}
	now := time.Now().UTC()
	start := now
	if issuer.NotBefore.After(start) {
		start = issuer.NotBefore
	}
	end := now.Add(requestedLifetime)
	if issuer.NotAfter.Before(end) {
		end = issuer.NotAfter
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, ErrNoValidityOverlap
	}
	return start, end, nil
}

// CreateCertificate issues a certificate of the given role, signed by
// issuerCert/issuerSigner, over subjectPublicKey, for subjectPrincipal.
// requestedLifetime is the requested lifetime (0 = DefaultValidityWindow);
// the resulting window is clamped to the issuer's own NotBefore/NotAfter.
func CreateCertificate(
	role Role,
	issuerCert *x509.Certificate,
	issuerSigner crypto.Signer,
	subjectPrincipal LegalName,
	subjectPublicKey crypto.PublicKey,
	requestedLifetime time.Duration,
) (*x509.Certificate, error) {
	start, end, err := validityWindow(issuerCert, requestedLifetime)
	if err != nil {
		return nil, err
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subjectPrincipal.X500Principal(),
		NotBefore:             start,
		NotAfter:              end,
		KeyUsage:              role.keyUsage(),
		ExtKeyUsage:           role.extKeyUsage(),
		BasicConstraintsValid: true,
		IsCA:                  role.IsCA(),
	}
	if role == RoleIntermediateCA {
		template.MaxPathLen = 0
		template.MaxPathLenZero = true
	}

	der, err := x509.CreateCertificate(rand.Reader, template, issuerCert, subjectPublicKey, issuerSigner)
	if err != nil {
		return nil, fmt.Errorf("create %s certificate: %w", role, err)
	}
	return x509.ParseCertificate(der)
}

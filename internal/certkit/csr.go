package certkit

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
)

// CreateCSR builds a DER-encoded PKCS#10 certificate signing request over
// keypair, with subject = principal and, when email is non-empty, an
// EmailAddresses SAN.
func CreateCSR(principal LegalName, email string, keypair *KeyPair) ([]byte, error) {
	template := &x509.CertificateRequest{
		Subject:            principal.X500Principal(),
		SignatureAlgorithm: keypair.Scheme.SignatureAlgorithm(),
	}
	if email != "" {
		template.EmailAddresses = []string{email}
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, keypair.Private)
	if err != nil {
		return nil, fmt.Errorf("create CSR: %w", err)
	}
	return der, nil
}

// ParsedCSR is the recovered content of a PKCS#10 request.
type ParsedCSR struct {
	Subject   pkix.Name
	PublicKey any
	Email     string
}

// ParseCSR parses a DER-encoded PKCS#10 request and verifies its
// self-signature, recovering the subject, public key, and (if present)
// email address exactly as submitted by CreateCSR.
func ParseCSR(der []byte) (*ParsedCSR, error) {
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, fmt.Errorf("parse CSR: %w", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("CSR signature invalid: %w", err)
	}
	email := ""
	if len(csr.EmailAddresses) > 0 {
		email = csr.EmailAddresses[0]
	}
	return &ParsedCSR{
		Subject:   csr.Subject,
		PublicKey: csr.PublicKey,
		Email:     email,
	}, nil
}

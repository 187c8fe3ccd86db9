package certkit

import "crypto/x509"

// Role governs the key usages and path-length constraints a certificate is
// permitted to carry.
type Role int

const (
	RoleRootCA Role = iota
	RoleIntermediateCA
	RoleNodeCA // a.k.a. CLIENT_CA
	RoleTLS
	RoleLegalIdentity
	RoleConfidentialLegalIdentity
	RoleServiceIdentity
)

func (r Role) String() string {
	switch r {
	case RoleRootCA:
		return "ROOT_CA"
	case RoleIntermediateCA:
		return "INTERMEDIATE_CA"
	case RoleNodeCA:
		return "NODE_CA"
	case RoleTLS:
		return "TLS"
	case RoleLegalIdentity:
		return "LEGAL_IDENTITY"
	case RoleConfidentialLegalIdentity:
		return "CONFIDENTIAL_LEGAL_IDENTITY"
	case RoleServiceIdentity:
		return "SERVICE_IDENTITY"
	default:
		return "UNKNOWN"
	}
}

// IsCA reports whether certificates of this role may sign other certificates.
func (r Role) IsCA() bool {
	switch r {
	case RoleRootCA, RoleIntermediateCA, RoleNodeCA:
		return true
	default:
		return false
	}
}

// keyUsage returns the x509.KeyUsage bits required for this role.
func (r Role) keyUsage() x509.KeyUsage {
	if r.IsCA() {
		return x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	}
	if r == RoleTLS {
		return x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	}
	return x509.KeyUsageDigitalSignature
}

// extKeyUsage returns the extended key usages required for this role.
func (r Role) extKeyUsage() []x509.ExtKeyUsage {
	if r == RoleTLS {
		return []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}
	}
	if r == RoleServiceIdentity {
		return []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}
	return nil
}

// matchesKeyUsage reports whether a parsed certificate's key usage is
// consistent with this role, for use by validateChain.
func (r Role) matchesKeyUsage(cert *x509.Certificate) bool {
	want := r.keyUsage()
	// CA certificates must carry at least CertSign and be marked CA; leaf
	// roles must carry all of their role's usages and must not be marked CA.
	if r.IsCA() {
		return cert.KeyUsage&x509.KeyUsageCertSign != 0 && cert.IsCA
	}
	return cert.KeyUsage&want == want && !cert.IsCA
}

package certkit_test

import (
	"testing"
	"time"

	"github.com/zonemesh/peernet/internal/certkit"
)

func testLegalName(cn string) certkit.LegalName {
	return certkit.LegalName{Organisation: "Acme Corp", Locality: "London", Country: "GB", CommonName: cn}
}

func buildRootAndNode(t *testing.T) (rootKeyPair, nodeKeyPair *certkit.KeyPair, chain certkit.CertChain, root certkit.CertChain) {
	t.Helper()
	rootKP, err := certkit.GenerateKeyPair(certkit.SchemeECDSAP256SHA256)
	if err != nil {
		t.Fatal(err)
	}
	rootCertX, err := certkit.CreateSelfSignedCA(testLegalName("Root CA"), rootKP)
	if err != nil {
		t.Fatal(err)
	}
	nodeKP, err := certkit.GenerateKeyPair(certkit.SchemeECDSAP256SHA256)
	if err != nil {
		t.Fatal(err)
	}
	nodeCertX, err := certkit.CreateCertificate(certkit.RoleNodeCA, rootCertX, rootKP.Private, testLegalName("Node"), nodeKP.Public, 0)
	if err != nil {
		t.Fatal(err)
	}
	return rootKP, nodeKP, certkit.CertChain{nodeCertX, rootCertX}, certkit.CertChain{rootCertX}
}

func TestValidateChain_Success(t *testing.T) {
	_, _, chain, root := buildRootAndNode(t)
	roleOf := func(i int) certkit.Role {
		if i == 0 {
			return certkit.RoleNodeCA
		}
		return certkit.RoleRootCA
	}
	if err := certkit.ValidateChain(root.Leaf(), chain, roleOf); err != nil {
		t.Fatalf("ValidateChain() = %v, want nil", err)
	}
}

func TestValidateChain_EmptyChain(t *testing.T) {
	_, _, _, root := buildRootAndNode(t)
	err := certkit.ValidateChain(root.Leaf(), nil, nil)
	if err != certkit.ErrChainDoesNotTerminateAtRoot {
		t.Fatalf("err = %v, want ErrChainDoesNotTerminateAtRoot", err)
	}
}

func TestValidateChain_WrongRoot(t *testing.T) {
	_, _, chain, _ := buildRootAndNode(t)
	otherKP, err := certkit.GenerateKeyPair(certkit.SchemeECDSAP256SHA256)
	if err != nil {
		t.Fatal(err)
	}
	otherRoot, err := certkit.CreateSelfSignedCA(testLegalName("Other Root"), otherKP)
	if err != nil {
		t.Fatal(err)
	}
	if err := certkit.ValidateChain(otherRoot, chain, nil); err != certkit.ErrChainDoesNotTerminateAtRoot {
		t.Fatalf("err = %v, want ErrChainDoesNotTerminateAtRoot", err)
	}
}

func TestCreateCertificate_ValidityWindowClampedToIssuer(t *testing.T) {
	rootKP, err := certkit.GenerateKeyPair(certkit.SchemeECDSAP256SHA256)
	if err != nil {
		t.Fatal(err)
	}
	rootCert, err := certkit.CreateSelfSignedCA(testLegalName("Root"), rootKP)
	if err != nil {
		t.Fatal(err)
	}
	nodeKP, err := certkit.GenerateKeyPair(certkit.SchemeECDSAP256SHA256)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := certkit.CreateCertificate(certkit.RoleNodeCA, rootCert, rootKP.Private, testLegalName("Node"), nodeKP.Public, 50*365*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if cert.NotAfter.After(rootCert.NotAfter) {
		t.Errorf("child NotAfter %v exceeds issuer NotAfter %v", cert.NotAfter, rootCert.NotAfter)
	}
}

func TestCreateCertificate_NoValidityOverlap(t *testing.T) {
	rootKP, err := certkit.GenerateKeyPair(certkit.SchemeECDSAP256SHA256)
	if err != nil {
		t.Fatal(err)
	}
	rootCert, err := certkit.CreateSelfSignedCA(testLegalName("Root"), rootKP)
	if err != nil {
		t.Fatal(err)
	}
	// Force the issuer's own window to have already elapsed relative to "now".
	rootCert.NotAfter = rootCert.NotBefore.Add(time.Second)

	nodeKP, err := certkit.GenerateKeyPair(certkit.SchemeECDSAP256SHA256)
	if err != nil {
		t.Fatal(err)
	}
	_, err = certkit.CreateCertificate(certkit.RoleNodeCA, rootCert, rootKP.Private, testLegalName("Node"), nodeKP.Public, time.Hour)
	if err != certkit.ErrNoValidityOverlap {
		t.Fatalf("err = %v, want ErrNoValidityOverlap", err)
	}
}

func TestValidateChain_Expired(t *testing.T) {
	_, _, chain, root := buildRootAndNode(t)
	chain[0].NotAfter = time.Now().Add(-time.Hour)
	if err := certkit.ValidateChain(root.Leaf(), chain, nil); err == nil {
		t.Fatal("expected Expired error, got nil")
	}
}

func TestCSR_RoundTrip(t *testing.T) {
	kp, err := certkit.GenerateKeyPair(certkit.SchemeECDSAP256SHA256)
	if err != nil {
		t.Fatal(err)
	}
	principal := testLegalName("Node1")
	der, err := certkit.CreateCSR(principal, "node1@example.com", kp)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := certkit.ParseCSR(der)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Email != "node1@example.com" {
		t.Errorf("Email = %q, want node1@example.com", parsed.Email)
	}
	got := certkit.FromX500Principal(parsed.Subject)
	if got.CommonName != principal.CommonName || got.Organisation != principal.Organisation {
		t.Errorf("recovered subject = %+v, want %+v", got, principal)
	}
}

func TestLegalName_StringParseRoundTrip(t *testing.T) {
	ln := certkit.LegalName{Organisation: "Acme Corp", Locality: "London", Country: "GB", OrgUnit: "Engineering", CommonName: "node-1"}
	parsed, err := certkit.Parse(ln.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != ln {
		t.Errorf("Parse(String()) = %+v, want %+v", parsed, ln)
	}
}

package registration_test

import (
	"context"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zonemesh/peernet/internal/certkit"
	"github.com/zonemesh/peernet/internal/credstore"
	"github.com/zonemesh/peernet/internal/registration"
	"github.com/zonemesh/peernet/internal/registration/doormantest"
)

func nodeLegalName() certkit.LegalName {
	return certkit.LegalName{Organisation: "Acme Node", Locality: "London", Country: "GB", CommonName: "node-1"}
}

// testZone builds a root CA, a truststore file trusting it, and an issue
// function that signs CSRs as that root would.
type testZone struct {
	dir         string
	rootCert    *x509.Certificate
	rootKeyPair *certkit.KeyPair
}

func setupZone(t *testing.T) *testZone {
	t.Helper()
	dir := t.TempDir()

	rootKP, err := certkit.GenerateKeyPair(certkit.SchemeECDSAP256SHA256)
	if err != nil {
		t.Fatal(err)
	}
	rootCert, err := certkit.CreateSelfSignedCA(certkit.LegalName{Organisation: "Zone Root", Locality: "London", Country: "GB"}, rootKP)
	if err != nil {
		t.Fatal(err)
	}

	trustStore, err := credstore.LoadOrCreate(filepath.Join(dir, "truststore.jks"), []byte("trust-pw"))
	if err != nil {
		t.Fatal(err)
	}
	if err := trustStore.PutTrustedCert("ROOT_CA", rootCert); err != nil {
		t.Fatal(err)
	}
	if err := trustStore.Save(filepath.Join(dir, "truststore.jks"), []byte("trust-pw")); err != nil {
		t.Fatal(err)
	}

	return &testZone{dir: dir, rootCert: rootCert, rootKeyPair: rootKP}
}

func (z *testZone) issue(csrDER []byte) (certkit.CertChain, error) {
	parsed, err := certkit.ParseCSR(csrDER)
	if err != nil {
		return nil, err
	}
	subject := certkit.FromX500Principal(parsed.Subject)
	nodeCert, err := certkit.CreateCertificate(certkit.RoleNodeCA, z.rootCert, z.rootKeyPair.Private, subject, parsed.PublicKey, 0)
	if err != nil {
		return nil, err
	}
	return certkit.CertChain{nodeCert, z.rootCert}, nil
}

func baseConfig(dir string, service registration.NetworkRegistrationService) registration.Config {
	return registration.Config{
		LegalName:             nodeLegalName(),
		Email:                 "node1@example.com",
		CertificatesDirectory: dir,
		KeyStorePassword:      []byte("key-pw"),
		TrustStorePassword:    []byte("trust-pw"),
		PollInterval:          5 * time.Millisecond,
		SignatureScheme:       certkit.SchemeECDSAP256SHA256,
		Service:               service,
	}
}

func runToApproval(t *testing.T, server *doormantest.Server, zone *testZone) error {
	t.Helper()
	service := registration.NewHTTPDoorman(server.URL(), nil)
	cfg := baseConfig(zone.dir, service)
	m := registration.NewMachine(cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for server.PendingCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for CSR submission")
		}
		time.Sleep(time.Millisecond)
	}
	if err := server.Approve(zone.issue); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for enrolment to finish")
		return nil
	}
}

func TestMachine_CorrectEnrolment(t *testing.T) {
	zone := setupZone(t)
	server := doormantest.NewServer()
	defer server.Close()

	if err := runToApproval(t, server, zone); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}

	nodeStore, err := credstore.Load(filepath.Join(zone.dir, "nodekeystore.jks"), []byte("key-pw"))
	if err != nil {
		t.Fatal(err)
	}
	if nodeStore.Contains("SELF_SIGNED_PRIVATE_KEY") {
		t.Error("SELF_SIGNED_PRIVATE_KEY should have been removed after install")
	}
	if !nodeStore.Contains("CLIENT_CA") {
		t.Fatal("CLIENT_CA missing after enrolment")
	}

	sslStore, err := credstore.Load(filepath.Join(zone.dir, "sslkeystore.jks"), []byte("key-pw"))
	if err != nil {
		t.Fatal(err)
	}
	tlsCert, err := sslStore.GetCert("CLIENT_TLS")
	if err != nil {
		t.Fatal(err)
	}
	clientCaCert, err := nodeStore.GetCert("CLIENT_CA")
	if err != nil {
		t.Fatal(err)
	}
	if tlsCert.Issuer.String() != clientCaCert.Subject.String() {
		t.Errorf("TLS leaf issuer %q != CLIENT_CA subject %q", tlsCert.Issuer, clientCaCert.Subject)
	}

	if _, err := os.Stat(filepath.Join(zone.dir, "certificate-request-id.txt")); err == nil {
		t.Error("certificate-request-id.txt should be absent after enrolment")
	}
}

func TestMachine_WrongRoot(t *testing.T) {
	zone := setupZone(t)
	server := doormantest.NewServer()
	defer server.Close()

	otherRootKP, err := certkit.GenerateKeyPair(certkit.SchemeECDSAP256SHA256)
	if err != nil {
		t.Fatal(err)
	}
	otherRootCert, err := certkit.CreateSelfSignedCA(certkit.LegalName{Organisation: "Rogue Root", Locality: "Paris", Country: "FR"}, otherRootKP)
	if err != nil {
		t.Fatal(err)
	}
	rogueZone := &testZone{dir: zone.dir, rootCert: otherRootCert, rootKeyPair: otherRootKP}

	err = runToApproval(t, server, rogueZone)
	if err == nil {
		t.Fatal("expected chain validation error, got nil")
	}

	nodeStore, loadErr := credstore.Load(filepath.Join(zone.dir, "nodekeystore.jks"), []byte("key-pw"))
	if loadErr != nil {
		t.Fatal(loadErr)
	}
	if nodeStore.Contains("CLIENT_CA") {
		t.Error("CLIENT_CA must not be installed when the issued chain does not trace to the trusted root")
	}
	if _, statErr := os.Stat(filepath.Join(zone.dir, "certificate-request-id.txt")); statErr == nil {
		t.Error("certificate-request-id.txt should be deleted after a failed install")
	}
}

func TestMachine_Rejected(t *testing.T) {
	zone := setupZone(t)
	server := doormantest.NewServer()
	defer server.Close()

	service := registration.NewHTTPDoorman(server.URL(), nil)
	cfg := baseConfig(zone.dir, service)
	m := registration.NewMachine(cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for server.PendingCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for CSR submission")
		}
		time.Sleep(time.Millisecond)
	}
	server.Reject("identity could not be verified")

	select {
	case err := <-errCh:
		var rejected *registration.ErrCertificateRequestRejected
		if !errors.As(err, &rejected) {
			t.Fatalf("Run() = %v, want ErrCertificateRequestRejected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rejection to propagate")
	}

	if _, statErr := os.Stat(filepath.Join(zone.dir, "certificate-request-id.txt")); statErr == nil {
		t.Error("certificate-request-id.txt should be deleted after rejection")
	}
}

func TestMachine_AlreadyEnrolledIsNoOp(t *testing.T) {
	zone := setupZone(t)
	server := doormantest.NewServer()
	defer server.Close()

	if err := runToApproval(t, server, zone); err != nil {
		t.Fatalf("first Run() = %v, want nil", err)
	}

	service := registration.NewHTTPDoorman(server.URL(), nil)
	cfg := baseConfig(zone.dir, service)
	m := registration.NewMachine(cfg)
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("second Run() = %v, want nil (already enrolled)", err)
	}
}

package tlschannel_test

import (
	"context"
	"crypto/x509"
	"net"
	"testing"
	"time"

	"github.com/zonemesh/peernet/internal/certkit"
	"github.com/zonemesh/peernet/internal/tlschannel"
)

func buildRoot(t *testing.T) (*certkit.KeyPair, *x509.Certificate) {
	t.Helper()
	kp, err := certkit.GenerateKeyPair(certkit.SchemeECDSAP256SHA256)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := certkit.CreateSelfSignedCA(certkit.LegalName{Organisation: "Zone Root", Locality: "London", Country: "GB"}, kp)
	if err != nil {
		t.Fatal(err)
	}
	return kp, cert
}

func buildIdentity(t *testing.T, rootKP *certkit.KeyPair, rootCert *x509.Certificate, name certkit.LegalName) tlschannel.Identity {
	t.Helper()
	kp, err := certkit.GenerateKeyPair(certkit.SchemeECDSAP256SHA256)
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := certkit.CreateCertificate(certkit.RoleTLS, rootCert, rootKP.Private, name, kp.Public, 0)
	if err != nil {
		t.Fatal(err)
	}
	return tlschannel.Identity{
		KeyPair:     kp,
		Chain:       certkit.CertChain{leaf, rootCert},
		TrustedRoot: rootCert,
	}
}

func runHandshake(t *testing.T, serverHS, clientHS *tlschannel.Handshaker) (server, client *tlschannel.Result, serverErr, clientErr error) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type outcome struct {
		result *tlschannel.Result
		err    error
	}
	serverCh := make(chan outcome, 1)
	clientCh := make(chan outcome, 1)

	go func() {
		r, err := serverHS.Handshake(ctx, serverConn, true)
		serverCh <- outcome{r, err}
	}()
	go func() {
		r, err := clientHS.Handshake(ctx, clientConn, false)
		clientCh <- outcome{r, err}
	}()

	so := <-serverCh
	co := <-clientCh
	return so.result, co.result, so.err, co.err
}

func TestHandshake_AcceptsTrustedPeer(t *testing.T) {
	rootKP, rootCert := buildRoot(t)

	serverName := certkit.LegalName{Organisation: "Server Co", Locality: "London", Country: "GB"}
	clientName := certkit.LegalName{Organisation: "Client Co", Locality: "Paris", Country: "FR"}

	serverIdentity := buildIdentity(t, rootKP, rootCert, serverName)
	clientIdentity := buildIdentity(t, rootKP, rootCert, clientName)

	serverHS := &tlschannel.Handshaker{Identity: serverIdentity}
	clientHS := &tlschannel.Handshaker{Identity: clientIdentity}

	server, client, serverErr, clientErr := runHandshake(t, serverHS, clientHS)
	if serverErr != nil {
		t.Fatalf("server handshake: %v", serverErr)
	}
	if clientErr != nil {
		t.Fatalf("client handshake: %v", clientErr)
	}
	if server.RemoteLegalName != clientName {
		t.Errorf("server saw remote legal name %v, want %v", server.RemoteLegalName, clientName)
	}
	if client.RemoteLegalName != serverName {
		t.Errorf("client saw remote legal name %v, want %v", client.RemoteLegalName, serverName)
	}
}

func TestHandshake_RejectsUnlistedPeer(t *testing.T) {
	rootKP, rootCert := buildRoot(t)

	serverName := certkit.LegalName{Organisation: "Server Co", Locality: "London", Country: "GB"}
	clientName := certkit.LegalName{Organisation: "Client Co", Locality: "Paris", Country: "FR"}
	strangerName := certkit.LegalName{Organisation: "Someone Else", Locality: "Berlin", Country: "DE"}

	serverIdentity := buildIdentity(t, rootKP, rootCert, serverName)
	clientIdentity := buildIdentity(t, rootKP, rootCert, clientName)

	allowList := []certkit.LegalName{strangerName}
	serverHS := &tlschannel.Handshaker{Identity: serverIdentity, AllowedList: &allowList}
	clientHS := &tlschannel.Handshaker{Identity: clientIdentity}

	_, _, serverErr, _ := runHandshake(t, serverHS, clientHS)
	if serverErr == nil {
		t.Fatal("expected the server to reject a client not on its allow-list")
	}
}

func TestHandshake_RejectsEveryPeerWhenAllowListPresentButEmpty(t *testing.T) {
	rootKP, rootCert := buildRoot(t)

	serverName := certkit.LegalName{Organisation: "Server Co", Locality: "London", Country: "GB"}
	clientName := certkit.LegalName{Organisation: "Client Co", Locality: "Paris", Country: "FR"}

	serverIdentity := buildIdentity(t, rootKP, rootCert, serverName)
	clientIdentity := buildIdentity(t, rootKP, rootCert, clientName)

	emptyAllowList := []certkit.LegalName{}
	serverHS := &tlschannel.Handshaker{Identity: serverIdentity, AllowedList: &emptyAllowList}
	clientHS := &tlschannel.Handshaker{Identity: clientIdentity}

	_, _, serverErr, _ := runHandshake(t, serverHS, clientHS)
	if serverErr == nil {
		t.Fatal("expected the server to reject every peer when its allow-list is present but empty")
	}
}

func TestHandshake_RejectsUntrustedRoot(t *testing.T) {
	rogueKP, rogueRootCert := buildRoot(t)
	realKP, realRootCert := buildRoot(t)

	serverName := certkit.LegalName{Organisation: "Server Co", Locality: "London", Country: "GB"}
	clientName := certkit.LegalName{Organisation: "Client Co", Locality: "Paris", Country: "FR"}

	// The server trusts the rogue root; the client's chain is rooted in an
	// entirely different zone, so the server must refuse it.
	serverIdentity := buildIdentity(t, rogueKP, rogueRootCert, serverName)
	clientIdentity := buildIdentity(t, realKP, realRootCert, clientName)

	serverHS := &tlschannel.Handshaker{Identity: serverIdentity}
	clientHS := &tlschannel.Handshaker{Identity: clientIdentity}

	_, _, serverErr, _ := runHandshake(t, serverHS, clientHS)
	if serverErr == nil {
		t.Fatal("expected the handshake to fail: client chain is rooted in an untrusted CA")
	}
}

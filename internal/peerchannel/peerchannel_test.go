package peerchannel_test

import (
	"context"
	"crypto/x509"
	"net"
	"testing"
	"time"

	"github.com/zonemesh/peernet/internal/certkit"
	"github.com/zonemesh/peernet/internal/peerchannel"
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

func waitFor[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func TestPeerChannel_RoundTrip(t *testing.T) {
	rootKP, rootCert := buildRoot(t)
	serverName := certkit.LegalName{Organisation: "Server Co", Locality: "London", Country: "GB"}
	clientName := certkit.LegalName{Organisation: "Client Co", Locality: "Paris", Country: "FR"}

	server := peerchannel.NewServer(peerchannel.ServerConfig{
		ListenAddress:  "127.0.0.1:0",
		LocalLegalName: serverName,
		Identity:       buildIdentity(t, rootKP, rootCert, serverName),
	})
	if err := server.Listen(); err != nil {
		t.Fatal(err)
	}
	defer server.Stop()

	received, unsubReceive := server.OnReceive(4)
	defer unsubReceive()
	connected, unsubConn := server.OnConnection(4)
	defer unsubConn()

	client := peerchannel.NewClient(peerchannel.ClientConfig{
		CandidateAddresses: []string{server.Addr().String()},
		LocalLegalName:     clientName,
		Identity:           buildIdentity(t, rootKP, rootCert, clientName),
	})
	if err := client.Start(); err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	change := waitFor(t, connected, 5*time.Second)
	if !change.Connected {
		t.Fatal("expected a Connected=true event from the server")
	}

	msg := peerchannel.NewPeerMessage("greeting", []byte("hello"), server.Addr().String(), certkit.LegalName{})
	if err := client.Write(msg); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := waitFor(t, received, 5*time.Second)
	if string(got.Payload) != "hello" {
		t.Errorf("payload = %q, want %q", got.Payload, "hello")
	}
	if got.Topic != "greeting" {
		t.Errorf("topic = %q, want %q", got.Topic, "greeting")
	}

	select {
	case outcome := <-msg.Outcome():
		if outcome != peerchannel.Acknowledged {
			t.Errorf("outcome = %v, want Acknowledged", outcome)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery outcome")
	}
}

func TestPeerChannel_ServerRejectsUnexpectedPeer(t *testing.T) {
	rootKP, rootCert := buildRoot(t)
	serverName := certkit.LegalName{Organisation: "Server Co", Locality: "London", Country: "GB"}
	clientName := certkit.LegalName{Organisation: "Client Co", Locality: "Paris", Country: "FR"}
	allowedName := certkit.LegalName{Organisation: "Only This One", Locality: "Berlin", Country: "DE"}
	allowedList := []certkit.LegalName{allowedName}

	server := peerchannel.NewServer(peerchannel.ServerConfig{
		ListenAddress:           "127.0.0.1:0",
		LocalLegalName:          serverName,
		Identity:                buildIdentity(t, rootKP, rootCert, serverName),
		AllowedRemoteLegalNames: &allowedList,
	})
	if err := server.Listen(); err != nil {
		t.Fatal(err)
	}
	defer server.Stop()

	connected, unsub := server.OnConnection(4)
	defer unsub()

	raw, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	clientHS := &tlschannel.Handshaker{Identity: buildIdentity(t, rootKP, rootCert, clientName)}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = clientHS.Handshake(ctx, raw, false)
	if err == nil {
		t.Fatal("expected the client-side handshake to fail when the server refuses the peer")
	}

	select {
	case change := <-connected:
		if change.Connected {
			t.Fatal("server should not have published a Connected=true event for a rejected peer")
		}
	case <-time.After(2 * time.Second):
		// no event at all is also an acceptable outcome: the connection
		// never reached the point of being registered.
	}
}

func TestPeerChannel_WriteRejectsMisroutedMessage(t *testing.T) {
	rootKP, rootCert := buildRoot(t)
	serverName := certkit.LegalName{Organisation: "Server Co", Locality: "London", Country: "GB"}
	clientName := certkit.LegalName{Organisation: "Client Co", Locality: "Paris", Country: "FR"}

	server := peerchannel.NewServer(peerchannel.ServerConfig{
		ListenAddress:  "127.0.0.1:0",
		LocalLegalName: serverName,
		Identity:       buildIdentity(t, rootKP, rootCert, serverName),
	})
	if err := server.Listen(); err != nil {
		t.Fatal(err)
	}
	defer server.Stop()

	connected, unsub := server.OnConnection(4)
	defer unsub()

	client := peerchannel.NewClient(peerchannel.ClientConfig{
		CandidateAddresses: []string{server.Addr().String()},
		LocalLegalName:     clientName,
		Identity:           buildIdentity(t, rootKP, rootCert, clientName),
	})
	if err := client.Start(); err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	waitFor(t, connected, 5*time.Second)

	msg := peerchannel.NewPeerMessage("x", []byte("y"), "not-the-server-address:1234", certkit.LegalName{})
	if err := client.Write(msg); err != peerchannel.ErrMessageMisrouted {
		t.Fatalf("err = %v, want ErrMessageMisrouted", err)
	}
}

func TestPeerChannel_ClientPublishesDisconnectEvents(t *testing.T) {
	rootKP, rootCert := buildRoot(t)
	serverName := certkit.LegalName{Organisation: "Server Co", Locality: "London", Country: "GB"}
	clientName := certkit.LegalName{Organisation: "Client Co", Locality: "Paris", Country: "FR"}

	server := peerchannel.NewServer(peerchannel.ServerConfig{
		ListenAddress:  "127.0.0.1:0",
		LocalLegalName: serverName,
		Identity:       buildIdentity(t, rootKP, rootCert, serverName),
	})
	if err := server.Listen(); err != nil {
		t.Fatal(err)
	}

	client := peerchannel.NewClient(peerchannel.ClientConfig{
		CandidateAddresses: []string{server.Addr().String()},
		LocalLegalName:     clientName,
		Identity:           buildIdentity(t, rootKP, rootCert, clientName),
	})
	if err := client.Start(); err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	connected, unsub := client.OnConnection(4)
	defer unsub()

	up := waitFor(t, connected, 5*time.Second)
	if !up.Connected {
		t.Fatal("expected a Connected=true event once the client reaches the server")
	}

	server.Stop()

	down := waitFor(t, connected, 5*time.Second)
	if down.Connected {
		t.Fatal("expected a Connected=false event once the established connection drops")
	}
	if down.RemoteAddress != up.RemoteAddress {
		t.Errorf("disconnect event remote address = %q, want %q", down.RemoteAddress, up.RemoteAddress)
	}
}

func TestPeerChannel_ClientFirstEventIsFalseOnDialFailure(t *testing.T) {
	rootKP, rootCert := buildRoot(t)
	clientName := certkit.LegalName{Organisation: "Client Co", Locality: "Paris", Country: "FR"}

	// Bind and immediately close a listener to obtain a address nothing
	// is listening on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadAddr := ln.Addr().String()
	ln.Close()

	client := peerchannel.NewClient(peerchannel.ClientConfig{
		CandidateAddresses: []string{deadAddr},
		LocalLegalName:     clientName,
		Identity:           buildIdentity(t, rootKP, rootCert, clientName),
	})
	if err := client.Start(); err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	connected, unsub := client.OnConnection(4)
	defer unsub()

	first := waitFor(t, connected, 5*time.Second)
	if first.Connected {
		t.Fatal("expected the client's first ConnectionChange to have Connected=false")
	}
}

func TestPeerChannel_ClientStartRejectsEmptyCandidateList(t *testing.T) {
	client := peerchannel.NewClient(peerchannel.ClientConfig{})
	if err := client.Start(); err != peerchannel.ErrNoCandidateAddresses {
		t.Fatalf("err = %v, want ErrNoCandidateAddresses", err)
	}
}

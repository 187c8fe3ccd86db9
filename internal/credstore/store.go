// Package credstore implements the password-protected credential stores
// (node keystore, SSL keystore, truststore) described in spec §4.1: an
// alias -> (private-key + chain) or alias -> (trusted certificate) map,
// persisted atomically to a single encrypted file per store.
package credstore

import (
	"bytes"
	"crypto/x509"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zonemesh/peernet/internal/certkit"
)

type entryKind int

const (
	kindPrivateKey entryKind = iota
	kindTrustedCert
)

// storedEntry is the on-disk (post-decryption) shape of one alias. Private
// key material, when present, is sealed a second time under its own
// password — distinct from the store's own open password, per spec §9
// Open Question 2 — so that whoever can open the store still cannot use a
// private key without also knowing its per-entry password.
type storedEntry struct {
	Kind         entryKind
	Scheme       certkit.SignatureScheme
	KeySalt      []byte
	KeyNonce     []byte
	KeyCiphertext []byte // PKCS#8 DER, sealed under the entry's private-key password
	ChainDER     [][]byte
}

// Store is an in-memory, loaded view of one credential store file.
type Store struct {
	mu      sync.Mutex
	path    string
	entries map[string]storedEntry
}

// Load reads and decrypts the store file at path using password.
func Load(path string, password []byte) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read store %q: %w", path, err)
	}

	var envelope struct {
		Salt       []byte
		Nonce      []byte
		Ciphertext []byte
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	}

	plaintext, err := open(password, envelope.Salt, envelope.Nonce, envelope.Ciphertext)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]storedEntry)
	if len(plaintext) > 0 {
		if err := gob.NewDecoder(bytes.NewReader(plaintext)).Decode(&entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
		}
	}

	return &Store{path: path, entries: entries}, nil
}

// LoadOrCreate loads path if it exists, otherwise returns a fresh empty
// Store that will be written to path on the first Save.
func LoadOrCreate(path string, password []byte) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path, password)
	}
	return &Store{path: path, entries: make(map[string]storedEntry)}, nil
}

// Save encrypts and atomically persists the store: write to a temp file in
// the same directory, fsync, then rename over path.
func (s *Store) Save(path string, password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var plainBuf bytes.Buffer
	if err := gob.NewEncoder(&plainBuf).Encode(s.entries); err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	salt, nonce, ciphertext, err := seal(password, plainBuf.Bytes())
	if err != nil {
		return err
	}

	var envelopeBuf bytes.Buffer
	envelope := struct {
		Salt       []byte
		Nonce      []byte
		Ciphertext []byte
	}{salt, nonce, ciphertext}
	if err := gob.NewEncoder(&envelopeBuf).Encode(envelope); err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(envelopeBuf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp store file: %w", err)
	}
	s.path = path
	return nil
}

// Contains reports whether alias is present in the store.
func (s *Store) Contains(alias string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[alias]
	return ok
}

// Put stores a private key + chain under alias, sealing the private key
// under privateKeyPassword (which may, but need not, equal the store's own
// open password).
func (s *Store) Put(alias string, keypair *certkit.KeyPair, privateKeyPassword []byte, chain certkit.CertChain) error {
	der, err := marshalPrivateKey(keypair)
	if err != nil {
		return err
	}
	salt, nonce, ciphertext, err := seal(privateKeyPassword, der)
	if err != nil {
		return err
	}

	chainDER := make([][]byte, len(chain))
	for i, c := range chain {
		chainDER[i] = append([]byte(nil), c.Raw...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[alias] = storedEntry{
		Kind:          kindPrivateKey,
		Scheme:        keypair.Scheme,
		KeySalt:       salt,
		KeyNonce:      nonce,
		KeyCiphertext: ciphertext,
		ChainDER:      chainDER,
	}
	return nil
}

// PutTrustedCert stores a trusted certificate (no private key) under alias.
func (s *Store) PutTrustedCert(alias string, cert *x509.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[alias] = storedEntry{
		Kind:     kindTrustedCert,
		ChainDER: [][]byte{append([]byte(nil), cert.Raw...)},
	}
	return nil
}

// Delete removes alias from the store. It is not an error to delete an
// absent alias (idempotent, matching the "buildKeystore is idempotent"
// invariant that repeatedly deletes SELF_SIGNED_PRIVATE_KEY).
func (s *Store) Delete(alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, alias)
}

// Get recovers the private key + chain stored under alias.
func (s *Store) Get(alias string, privateKeyPassword []byte) (*certkit.KeyPair, certkit.CertChain, error) {
	s.mu.Lock()
	entry, ok := s.entries[alias]
	s.mu.Unlock()
	if !ok {
		return nil, nil, ErrAliasMissing
	}
	if entry.Kind != kindPrivateKey {
		return nil, nil, fmt.Errorf("credstore: alias %q does not hold a private key", alias)
	}

	der, err := open(privateKeyPassword, entry.KeySalt, entry.KeyNonce, entry.KeyCiphertext)
	if err != nil {
		return nil, nil, err
	}
	keypair, err := unmarshalPrivateKey(entry.Scheme, der)
	if err != nil {
		return nil, nil, err
	}

	chain, err := parseChain(entry.ChainDER)
	if err != nil {
		return nil, nil, err
	}
	return keypair, chain, nil
}

// GetCert returns the certificate stored under alias, whether the entry
// holds a private key (returns the leaf) or is a bare trusted certificate.
func (s *Store) GetCert(alias string) (*x509.Certificate, error) {
	s.mu.Lock()
	entry, ok := s.entries[alias]
	s.mu.Unlock()
	if !ok {
		return nil, ErrAliasMissing
	}
	if len(entry.ChainDER) == 0 {
		return nil, fmt.Errorf("credstore: alias %q has no certificate", alias)
	}
	return x509.ParseCertificate(entry.ChainDER[0])
}

func parseChain(chainDER [][]byte) (certkit.CertChain, error) {
	chain := make(certkit.CertChain, len(chainDER))
	for i, der := range chainDER {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: parse chain certificate %d: %v", ErrStoreCorrupt, i, err)
		}
		chain[i] = cert
	}
	return chain, nil
}

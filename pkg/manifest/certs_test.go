package manifest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestKeypair(t *testing.T, dir string, notBefore, notAfter time.Time) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "deploy-backend-client"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	certPath = filepath.Join(dir, "client.crt")
	keyPath = filepath.Join(dir, "client.key")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	return certPath, keyPath
}

func TestLoadCertStoreParsesValidity(t *testing.T) {
	now := time.Now()
	certPath, keyPath := writeTestKeypair(t, t.TempDir(), now.Add(-time.Hour), now.Add(24*time.Hour))

	store, err := LoadCertStore(certPath, keyPath)
	if err != nil {
		t.Fatalf("LoadCertStore: %v", err)
	}

	cert, err := store.Current(now)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cert.ExpiresAt.Before(now) {
		t.Errorf("expiresAt = %s parsed wrong", cert.ExpiresAt)
	}

	cfg, err := store.TLSConfig(now)
	if err != nil {
		t.Fatalf("TLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("tls config carries %d certificates", len(cfg.Certificates))
	}
}

func TestCertStoreRejectsExpired(t *testing.T) {
	now := time.Now()
	certPath, keyPath := writeTestKeypair(t, t.TempDir(), now.Add(-48*time.Hour), now.Add(-time.Hour))

	store, err := LoadCertStore(certPath, keyPath)
	if err != nil {
		t.Fatalf("LoadCertStore: %v", err)
	}

	if _, err := store.Current(now); !errors.Is(err, ErrCertificateExpired) {
		t.Errorf("Current on expired = %v, want ErrCertificateExpired", err)
	}
	if _, err := store.TLSConfig(now); !errors.Is(err, ErrCertificateExpired) {
		t.Errorf("TLSConfig on expired = %v, want ErrCertificateExpired", err)
	}
}

func TestRotatePicksUpNewKeypair(t *testing.T) {
	now := time.Now()
	dir := t.TempDir()
	certPath, keyPath := writeTestKeypair(t, dir, now.Add(-time.Hour), now.Add(time.Hour))

	store, err := LoadCertStore(certPath, keyPath)
	if err != nil {
		t.Fatal(err)
	}
	before, err := store.Current(now)
	if err != nil {
		t.Fatal(err)
	}

	// An external issuer writes a fresh keypair to the same paths.
	writeTestKeypair(t, dir, now.Add(-time.Minute), now.Add(90*24*time.Hour))
	if err := store.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	after, err := store.Current(now)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ExpiresAt.After(before.ExpiresAt) {
		t.Error("rotation did not extend the validity window")
	}
}

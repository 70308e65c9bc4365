package manifest

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tensorgrid/deploy-backend/internal/logger"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"go.uber.org/zap"
)

// ErrCertificateExpired is returned when the client certificate can no
// longer authenticate the delivery channel.
var ErrCertificateExpired = errors.New("client certificate expired")

// CertStore holds the process-wide mTLS client credential. Its lifetime
// spans many deployments; rotation is expiry-driven, never per-deployment.
// Readers get a consistent snapshot; Rotate swaps atomically.
type CertStore struct {
	mu       sync.RWMutex
	cert     *entities.Certificate
	tlsCert  tls.Certificate
	certPath string
	keyPath  string
}

// LoadCertStore reads the PEM keypair from disk and parses its validity
// window from the leaf certificate.
func LoadCertStore(certPath, keyPath string) (*CertStore, error) {
	s := &CertStore{certPath: certPath, keyPath: keyPath}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CertStore) load() error {
	certPEM, err := os.ReadFile(s.certPath)
	if err != nil {
		return fmt.Errorf("certstore: read cert: %w", err)
	}
	keyPEM, err := os.ReadFile(s.keyPath)
	if err != nil {
		return fmt.Errorf("certstore: read key: %w", err)
	}

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return fmt.Errorf("certstore: parse keypair: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return fmt.Errorf("certstore: no PEM block in %s", s.certPath)
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return fmt.Errorf("certstore: parse leaf: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cert = &entities.Certificate{
		PublicKeyPEM:  certPEM,
		PrivateKeyPEM: keyPEM,
		IssuedAt:      leaf.NotBefore,
		ExpiresAt:     leaf.NotAfter,
	}
	s.tlsCert = tlsCert
	return nil
}

// Current returns the certificate metadata, or ErrCertificateExpired when
// the credential is past its validity window.
func (s *CertStore) Current(now time.Time) (*entities.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cert.Expired(now) {
		return nil, ErrCertificateExpired
	}
	return s.cert, nil
}

// TLSConfig builds a client TLS config presenting the stored certificate.
func (s *CertStore) TLSConfig(now time.Time) (*tls.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cert.Expired(now) {
		return nil, ErrCertificateExpired
	}
	return &tls.Config{
		Certificates: []tls.Certificate{s.tlsCert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Rotate re-reads the keypair from disk. Issuance itself is an external
// service's job; this picks up whatever that service wrote.
func (s *CertStore) Rotate() error {
	if err := s.load(); err != nil {
		return err
	}
	s.mu.RLock()
	expires := s.cert.ExpiresAt
	s.mu.RUnlock()
	logger.Info("client certificate rotated", zap.Time("expiresAt", expires))
	return nil
}

// WatchExpiry periodically checks the validity window and rotates when the
// certificate is about to expire. Blocks until ctx is done.
func (s *CertStore) WatchExpiry(done <-chan struct{}, interval, rotateBefore time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.RLock()
			needsRotation := s.cert.ExpiresWithin(time.Now(), rotateBefore)
			s.mu.RUnlock()
			if needsRotation {
				if err := s.Rotate(); err != nil {
					logger.Error("certificate rotation failed", zap.Error(err))
				}
			}
		}
	}
}

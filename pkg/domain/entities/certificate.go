package entities

import "time"

// Certificate is the client credential for the mutually authenticated
// channel to a marketplace provider's ingress. It is process-wide state with
// a lifetime spanning many deployments; it is distinct from the wallet key
// that signs transactions.
type Certificate struct {
	// PEM-encoded keypair. The private key must never be logged or
	// serialized; it is excluded from JSON on purpose.
	PublicKeyPEM  []byte `json:"publicKeyPem"`
	PrivateKeyPEM []byte `json:"-"`

	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the certificate is no longer usable at the given
// instant.
func (c *Certificate) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ExpiresWithin reports whether the certificate will expire inside d,
// signalling that a rotation should be scheduled.
func (c *Certificate) ExpiresWithin(now time.Time, d time.Duration) bool {
	return now.Add(d).After(c.ExpiresAt)
}

package entities

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a record with the same identity exists.
	ErrAlreadyExists = errors.New("already exists")
)

// Machine-readable reason codes attached to ProviderError. These end up in
// the deployment's error field so operators can tell failure modes apart.
const (
	ReasonNoBids              = "no_bids"
	ReasonDeployTxFailed      = "deploy_tx_failed"
	ReasonLeaseTxFailed       = "lease_tx_failed"
	ReasonManifestRejected    = "manifest_rejected"
	ReasonStatusPollExhausted = "status_poll_exhausted"
	ReasonProvisionFailed     = "provision_failed"
	ReasonCapacityExhausted   = "capacity_exhausted"
	ReasonCancelled           = "cancelled"
)

// ValidationError rejects a request before any state is created.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// ConflictError reports an action that is illegal for the deployment's
// current state.
type ConflictError struct {
	Action string
	Status DeploymentStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot %s a deployment in state %s", e.Action, e.Status)
}

// ProviderError is an adapter-level failure that terminates the deployment
// in Failed. Reason is one of the Reason* codes; Err carries the underlying
// cause, e.g. the raw chain result.
type ProviderError struct {
	Reason string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TransientError marks an individual network call that may be retried with
// backoff before being promoted to a ProviderError.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

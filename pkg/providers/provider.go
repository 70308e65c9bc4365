// Package providers defines the uniform contract every compute back end
// implements. The orchestrator branches on declared capabilities, never on
// provider names.
package providers

import (
	"context"
	"io"

	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
)

// AdapterType distinguishes the two provisioning families.
type AdapterType string

const (
	AdapterTypeCloud AdapterType = "cloud"
	AdapterTypeChain AdapterType = "chain"
)

// Capabilities describes what an adapter can do. Checked at compile time via
// this interface rather than by string-matching provider names at call sites.
type Capabilities struct {
	// IsEphemeral means the compute resource exists only for the lease's
	// duration rather than on a persistent pool.
	IsEphemeral          bool        `json:"isEphemeral"`
	SupportsLogStreaming bool        `json:"supportsLogStreaming"`
	AdapterType          AdapterType `json:"adapterType"`
}

// ProgressFunc is called by an adapter as a multi-step provisioning protocol
// advances, letting the orchestrator record intermediate states (Bidding,
// Leasing). The returned error signals that the deployment left the happy
// path (e.g. was terminated) and the adapter should stop at the next safe
// checkpoint.
type ProgressFunc func(status entities.DeploymentStatus) error

// ProvisionResult is what a successful Create returns.
type ProvisionResult struct {
	// Endpoint is the reachable URL of the running workload.
	Endpoint string
}

// Adapter encapsulates one back end's provisioning mechanics. Create blocks
// until the workload is running or the attempt has definitively failed; it
// runs on a task-manager worker, never on a request goroutine. All methods
// must honor context cancellation at their protocol checkpoints.
type Adapter interface {
	Capabilities() Capabilities
	Create(ctx context.Context, d *entities.DeploymentEntity, progress ProgressFunc) (*ProvisionResult, error)
	Terminate(ctx context.Context, d *entities.DeploymentEntity) error
	Status(ctx context.Context, d *entities.DeploymentEntity) (entities.DeploymentStatus, error)
	Logs(ctx context.Context, d *entities.DeploymentEntity) (io.ReadCloser, error)
}

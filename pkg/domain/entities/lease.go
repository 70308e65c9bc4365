package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Bid is one marketplace participant's offer to run a deployment's manifest.
// Bids are ephemeral: they exist between deployment-tx confirmation and lease
// selection and are never persisted.
type Bid struct {
	ID              string    `json:"id"`
	DeploymentID    uuid.UUID `json:"deploymentId"`
	ProviderAddress string    `json:"providerAddress"`
	// Price is quoted in micro-units of the marketplace token per block.
	Price       uint64    `json:"price"`
	CollectedAt time.Time `json:"collectedAt"`
}

// LeaseEntity binds a deployment to the provider that won its bid. At most
// one non-closed lease exists per deployment.
type LeaseEntity struct {
	ID               string      `json:"id"`
	DeploymentID     uuid.UUID   `json:"deploymentId"`
	DSeq             uint64      `json:"dseq"`
	ProviderAddress  string      `json:"providerAddress"`
	ProviderEndpoint string      `json:"providerEndpoint"`
	ManifestSent     bool        `json:"manifestSent"`
	Status           LeaseStatus `json:"status"`
	CreatedAt        time.Time   `json:"createdAt"`
	ClosedAt         *time.Time  `json:"closedAt,omitempty"`
}

// LeaseID derives the lease identity from the on-chain deployment sequence
// and the winning provider's address.
func LeaseID(dseq uint64, providerAddress string) string {
	return fmt.Sprintf("%d/%s", dseq, providerAddress)
}

package entities

// ProviderType identifies which compute back end runs a deployment.
type ProviderType string

const (
	ProviderCloudPool    ProviderType = "cloud-pool"
	ProviderChainMarketA ProviderType = "chain-marketplace-a"
	ProviderChainMarketB ProviderType = "chain-marketplace-b"
)

func (p ProviderType) Valid() bool {
	switch p {
	case ProviderCloudPool, ProviderChainMarketA, ProviderChainMarketB:
		return true
	}
	return false
}

// EngineType is the inference engine a workload runs.
type EngineType string

const (
	EngineVLLM     EngineType = "vllm"
	EngineTEI      EngineType = "tei"
	EngineInfinity EngineType = "infinity"
)

func (e EngineType) Valid() bool {
	switch e {
	case EngineVLLM, EngineTEI, EngineInfinity:
		return true
	}
	return false
}

// DeploymentStatus is the canonical lifecycle state of a deployment.
type DeploymentStatus string

const (
	DeploymentStatusPending    DeploymentStatus = "Pending"
	DeploymentStatusDeploying  DeploymentStatus = "Deploying"
	DeploymentStatusBidding    DeploymentStatus = "Bidding"
	DeploymentStatusLeasing    DeploymentStatus = "Leasing"
	DeploymentStatusActive     DeploymentStatus = "Active"
	DeploymentStatusStopping   DeploymentStatus = "Stopping"
	DeploymentStatusStopped    DeploymentStatus = "Stopped"
	DeploymentStatusTerminated DeploymentStatus = "Terminated"
	DeploymentStatusFailed     DeploymentStatus = "Failed"
)

// LeaseStatus tracks a marketplace lease from creation to close.
type LeaseStatus string

const (
	LeaseStatusPending          LeaseStatus = "pending"
	LeaseStatusManifestAccepted LeaseStatus = "manifest-accepted"
	LeaseStatusActive           LeaseStatus = "active"
	LeaseStatusClosed           LeaseStatus = "closed"
)

// NodeState is the health state of a node inside a compute pool.
type NodeState string

const (
	NodeStateReady    NodeState = "ready"
	NodeStateCordoned NodeState = "cordoned"
	NodeStateOffline  NodeState = "offline"
)

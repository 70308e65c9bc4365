package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResourceRequest is the compute a workload asks for, per replica.
type ResourceRequest struct {
	GPUs      int `json:"gpus"`
	VCPUs     int `json:"vcpus"`
	MemoryGB  int `json:"memoryGb"`
	StorageGB int `json:"storageGb"`
}

// WorkloadSpec is the declarative description of what should run. It is
// immutable while a deployment is provisioning; replicas and inference model
// may be changed through UpdateConfig while the deployment is stopped.
type WorkloadSpec struct {
	Engine         EngineType        `json:"engine"`
	Image          string            `json:"image"`
	Command        []string          `json:"command,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Resources      ResourceRequest   `json:"resources"`
	Replicas       int               `json:"replicas"`
	InferenceModel string            `json:"inferenceModel"`
	Port           int               `json:"port"`
}

// Validate rejects specs that could never provision. Errors are returned as
// ValidationError so callers can map them to a 400 before any state exists.
func (s *WorkloadSpec) Validate() error {
	if !s.Engine.Valid() {
		return &ValidationError{Field: "engine", Msg: fmt.Sprintf("unknown engine %q", s.Engine)}
	}
	if s.Image == "" {
		return &ValidationError{Field: "image", Msg: "image must not be empty"}
	}
	if s.Replicas < 1 {
		return &ValidationError{Field: "replicas", Msg: "replicas must be >= 1"}
	}
	if s.Resources.GPUs < 0 || s.Resources.GPUs > 64 {
		return &ValidationError{Field: "resources.gpus", Msg: fmt.Sprintf("gpus must be 0-64, got %d", s.Resources.GPUs)}
	}
	if s.Resources.VCPUs < 1 || s.Resources.VCPUs > 512 {
		return &ValidationError{Field: "resources.vcpus", Msg: fmt.Sprintf("vcpus must be 1-512, got %d", s.Resources.VCPUs)}
	}
	if s.Resources.MemoryGB < 1 || s.Resources.MemoryGB > 2048 {
		return &ValidationError{Field: "resources.memoryGb", Msg: fmt.Sprintf("memoryGb must be 1-2048, got %d", s.Resources.MemoryGB)}
	}
	if s.Port <= 0 || s.Port > 65535 {
		return &ValidationError{Field: "port", Msg: fmt.Sprintf("port must be 1-65535, got %d", s.Port)}
	}
	return nil
}

// DeploymentEntity is the canonical record for one deployment. It is owned
// by the orchestrator and mutated only through state-machine transitions.
type DeploymentEntity struct {
	ID               uuid.UUID        `json:"id"`
	OrgID            string           `json:"orgId"`
	Provider         ProviderType     `json:"provider"`
	Spec             WorkloadSpec     `json:"spec"`
	Status           DeploymentStatus `json:"status"`
	Endpoint         string           `json:"endpoint,omitempty"`
	Error            string           `json:"error,omitempty"`
	Tombstoned       bool             `json:"tombstoned"`
	CreatedAt        time.Time        `json:"createdAt"`
	LastTransitionAt time.Time        `json:"lastTransitionAt"`
}

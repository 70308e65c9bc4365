package dtos

import (
	"time"

	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
)

type CreateDeploymentRequest struct {
	OrgID        string                `json:"orgId" binding:"required"`
	Provider     entities.ProviderType `json:"provider" binding:"required"`
	WorkloadSpec entities.WorkloadSpec `json:"workloadSpec" binding:"required"`
}

type CreateDeploymentResponse struct {
	DeploymentID string `json:"deploymentId"`
}

type LifecycleRequest struct {
	DeploymentID string `json:"deploymentId" binding:"required"`
}

type UpdateConfigRequest struct {
	Env            map[string]string `json:"env,omitempty"`
	Replicas       *int              `json:"replicas,omitempty"`
	InferenceModel *string           `json:"inferenceModel,omitempty"`
}

type DeploymentResponse struct {
	DeploymentID     string                    `json:"deploymentId"`
	OrgID            string                    `json:"orgId"`
	Provider         entities.ProviderType     `json:"provider"`
	WorkloadSpec     entities.WorkloadSpec     `json:"workloadSpec"`
	Status           entities.DeploymentStatus `json:"status"`
	Endpoint         string                    `json:"endpoint,omitempty"`
	Error            string                    `json:"error,omitempty"`
	CreatedAt        time.Time                 `json:"createdAt"`
	LastTransitionAt time.Time                 `json:"lastTransitionAt"`
}

func FromDeployment(d *entities.DeploymentEntity) DeploymentResponse {
	return DeploymentResponse{
		DeploymentID:     d.ID.String(),
		OrgID:            d.OrgID,
		Provider:         d.Provider,
		WorkloadSpec:     d.Spec,
		Status:           d.Status,
		Endpoint:         d.Endpoint,
		Error:            d.Error,
		CreatedAt:        d.CreatedAt,
		LastTransitionAt: d.LastTransitionAt,
	}
}

type NodeResponse struct {
	NodeID        string             `json:"nodeId"`
	State         entities.NodeState `json:"state"`
	GPUAllocated  int                `json:"gpuAllocated"`
	GPUTotal      int                `json:"gpuTotal"`
	VCPUAllocated int                `json:"vcpuAllocated"`
	VCPUTotal     int                `json:"vcpuTotal"`
	ExposeURL     string             `json:"exposeUrl,omitempty"`
}

type PoolInventoryResponse struct {
	PoolID string         `json:"poolId"`
	Name   string         `json:"name,omitempty"`
	Nodes  []NodeResponse `json:"nodes"`
}

func FromPool(p *entities.ComputePool) PoolInventoryResponse {
	nodes := make([]NodeResponse, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		nodes = append(nodes, NodeResponse{
			NodeID:        n.ID,
			State:         n.State,
			GPUAllocated:  n.GPUAllocated,
			GPUTotal:      n.GPUTotal,
			VCPUAllocated: n.VCPUAllocated,
			VCPUTotal:     n.VCPUTotal,
			ExposeURL:     n.ExposeURL,
		})
	}
	return PoolInventoryResponse{PoolID: p.ID, Name: p.Name, Nodes: nodes}
}

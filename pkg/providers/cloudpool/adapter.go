package cloudpool

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/tensorgrid/deploy-backend/internal/logger"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"github.com/tensorgrid/deploy-backend/pkg/providers"
	"go.uber.org/zap"
)

// Placement records which node and container a deployment landed on, so
// terminate and status can find it again after a restart.
type Placement struct {
	DeploymentID uuid.UUID                `json:"deploymentId"`
	PoolID       string                   `json:"poolId"`
	NodeID       string                   `json:"nodeId"`
	ContainerID  string                   `json:"containerId"`
	Resources    entities.ResourceRequest `json:"resources"`
}

// InventoryStore is the persistent pool inventory. Allocate must be a
// conditional update that fails when the node no longer has capacity, so
// concurrent creates cannot oversubscribe a node.
type InventoryStore interface {
	GetPool(poolID string) (*entities.ComputePool, error)
	FindNodeWithCapacity(r entities.ResourceRequest) (*entities.Node, error)
	Allocate(nodeID string, r entities.ResourceRequest) error
	Release(nodeID string, r entities.ResourceRequest) error
	SavePlacement(p *Placement) error
	GetPlacement(deploymentID uuid.UUID) (*Placement, error)
	DeletePlacement(deploymentID uuid.UUID) error
}

// Adapter implements providers.Adapter against a managed instance pool.
// Provisioning is a single near-synchronous API call; there is no bidding
// phase.
type Adapter struct {
	client    PoolClient
	inventory InventoryStore
}

func New(client PoolClient, inventory InventoryStore) *Adapter {
	return &Adapter{client: client, inventory: inventory}
}

func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		IsEphemeral:          false,
		SupportsLogStreaming: true,
		AdapterType:          providers.AdapterTypeCloud,
	}
}

func (a *Adapter) Create(ctx context.Context, d *entities.DeploymentEntity, progress providers.ProgressFunc) (*providers.ProvisionResult, error) {
	node, err := a.inventory.FindNodeWithCapacity(d.Spec.Resources)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return nil, &entities.ProviderError{
				Reason: entities.ReasonCapacityExhausted,
				Err:    fmt.Errorf("no node can fit %d gpus / %d vcpus", d.Spec.Resources.GPUs, d.Spec.Resources.VCPUs),
			}
		}
		return nil, err
	}

	if err := a.inventory.Allocate(node.ID, d.Spec.Resources); err != nil {
		return nil, &entities.ProviderError{Reason: entities.ReasonCapacityExhausted, Err: err}
	}

	req := ProvisionRequest{
		NodeID:   node.ID,
		Image:    d.Spec.Image,
		Command:  d.Spec.Command,
		Env:      d.Spec.Env,
		GPUs:     d.Spec.Resources.GPUs,
		VCPUs:    d.Spec.Resources.VCPUs,
		MemoryGB: d.Spec.Resources.MemoryGB,
		Replicas: d.Spec.Replicas,
		Port:     d.Spec.Port,
		Model:    d.Spec.InferenceModel,
	}

	var resp *ProvisionResponse
	err = retryTransient(ctx, func() error {
		var perr error
		resp, perr = a.client.Provision(ctx, req)
		return perr
	})
	if err != nil {
		if rerr := a.inventory.Release(node.ID, d.Spec.Resources); rerr != nil {
			logger.Error("release after failed provision", zap.String("nodeId", node.ID), zap.Error(rerr))
		}
		return nil, &entities.ProviderError{Reason: entities.ReasonProvisionFailed, Err: err}
	}

	placement := &Placement{
		DeploymentID: d.ID,
		PoolID:       node.PoolID,
		NodeID:       node.ID,
		ContainerID:  resp.ContainerID,
		Resources:    d.Spec.Resources,
	}
	if err := a.inventory.SavePlacement(placement); err != nil {
		return nil, fmt.Errorf("cloudpool: persist placement: %w", err)
	}

	logger.Info("container provisioned",
		zap.String("deploymentId", d.ID.String()),
		zap.String("nodeId", node.ID),
		zap.String("containerId", resp.ContainerID))

	return &providers.ProvisionResult{Endpoint: resp.Endpoint}, nil
}

// Terminate tears the container down and releases the node allocation.
// Idempotent: a missing placement means there is nothing left to tear down.
func (a *Adapter) Terminate(ctx context.Context, d *entities.DeploymentEntity) error {
	placement, err := a.inventory.GetPlacement(d.ID)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return nil
		}
		return err
	}

	err = retryTransient(ctx, func() error {
		return a.client.Terminate(ctx, placement.NodeID, placement.ContainerID)
	})
	if err != nil {
		logger.Warn("container teardown failed, releasing allocation anyway",
			zap.String("deploymentId", d.ID.String()), zap.Error(err))
	}

	if err := a.inventory.Release(placement.NodeID, placement.Resources); err != nil {
		return err
	}
	return a.inventory.DeletePlacement(d.ID)
}

func (a *Adapter) Status(ctx context.Context, d *entities.DeploymentEntity) (entities.DeploymentStatus, error) {
	placement, err := a.inventory.GetPlacement(d.ID)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return entities.DeploymentStatusStopped, nil
		}
		return "", err
	}

	running, err := a.client.ContainerRunning(ctx, placement.NodeID, placement.ContainerID)
	if err != nil {
		return "", err
	}
	if running {
		return entities.DeploymentStatusActive, nil
	}
	return entities.DeploymentStatusFailed, nil
}

func (a *Adapter) Logs(ctx context.Context, d *entities.DeploymentEntity) (io.ReadCloser, error) {
	placement, err := a.inventory.GetPlacement(d.ID)
	if err != nil {
		return nil, err
	}
	return a.client.StreamLogs(ctx, placement.NodeID, placement.ContainerID)
}

func retryTransient(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !entities.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

var _ providers.Adapter = (*Adapter)(nil)

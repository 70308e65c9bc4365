package repositories

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"github.com/tensorgrid/deploy-backend/pkg/infrastructure/postgres/schemas"
	"github.com/tensorgrid/deploy-backend/pkg/providers/cloudpool"
	"gorm.io/gorm"
)

type PoolRepository struct {
	db *gorm.DB
}

func NewPoolRepository(db *gorm.DB) *PoolRepository {
	return &PoolRepository{db: db}
}

func (r *PoolRepository) GetPool(poolID string) (*entities.ComputePool, error) {
	var pool schemas.Pool
	if err := r.db.First(&pool, "id = ?", poolID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, entities.ErrNotFound
		}
		return nil, err
	}

	var rows []schemas.Node
	if err := r.db.Where("pool_id = ?", poolID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}

	nodes := make([]entities.Node, 0, len(rows))
	for i := range rows {
		nodes = append(nodes, rows[i].ToEntity())
	}
	return &entities.ComputePool{ID: pool.ID, Name: pool.Name, Nodes: nodes}, nil
}

// FindNodeWithCapacity picks the ready node with the most free GPUs that can
// still fit the request. Selection is advisory; Allocate is the arbiter.
func (r *PoolRepository) FindNodeWithCapacity(req entities.ResourceRequest) (*entities.Node, error) {
	var row schemas.Node
	err := r.db.Where("state = ?", entities.NodeStateReady).
		Where("gpu_total - gpu_allocated >= ?", req.GPUs).
		Where("vcpu_total - vcpu_allocated >= ?", req.VCPUs).
		Order("gpu_total - gpu_allocated DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, entities.ErrNotFound
		}
		return nil, err
	}
	node := row.ToEntity()
	return &node, nil
}

// Allocate reserves capacity with a conditional update so two concurrent
// creates cannot both win the same headroom.
func (r *PoolRepository) Allocate(nodeID string, req entities.ResourceRequest) error {
	res := r.db.Model(&schemas.Node{}).
		Where("id = ? AND state = ?", nodeID, entities.NodeStateReady).
		Where("gpu_total - gpu_allocated >= ?", req.GPUs).
		Where("vcpu_total - vcpu_allocated >= ?", req.VCPUs).
		Updates(map[string]any{
			"gpu_allocated":  gorm.Expr("gpu_allocated + ?", req.GPUs),
			"vcpu_allocated": gorm.Expr("vcpu_allocated + ?", req.VCPUs),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("node capacity changed, allocation lost")
	}
	return nil
}

func (r *PoolRepository) Release(nodeID string, req entities.ResourceRequest) error {
	return r.db.Model(&schemas.Node{}).
		Where("id = ?", nodeID).
		Updates(map[string]any{
			"gpu_allocated":  gorm.Expr("GREATEST(gpu_allocated - ?, 0)", req.GPUs),
			"vcpu_allocated": gorm.Expr("GREATEST(vcpu_allocated - ?, 0)", req.VCPUs),
		}).Error
}

func (r *PoolRepository) SavePlacement(p *cloudpool.Placement) error {
	resources, err := json.Marshal(p.Resources)
	if err != nil {
		return err
	}
	return r.db.Save(&schemas.Placement{
		DeploymentID: p.DeploymentID,
		PoolID:       p.PoolID,
		NodeID:       p.NodeID,
		ContainerID:  p.ContainerID,
		Resources:    resources,
	}).Error
}

func (r *PoolRepository) GetPlacement(deploymentID uuid.UUID) (*cloudpool.Placement, error) {
	var row schemas.Placement
	if err := r.db.First(&row, "deployment_id = ?", deploymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, entities.ErrNotFound
		}
		return nil, err
	}

	var resources entities.ResourceRequest
	if err := json.Unmarshal(row.Resources, &resources); err != nil {
		return nil, err
	}
	return &cloudpool.Placement{
		DeploymentID: row.DeploymentID,
		PoolID:       row.PoolID,
		NodeID:       row.NodeID,
		ContainerID:  row.ContainerID,
		Resources:    resources,
	}, nil
}

func (r *PoolRepository) DeletePlacement(deploymentID uuid.UUID) error {
	return r.db.Delete(&schemas.Placement{}, "deployment_id = ?", deploymentID).Error
}

var _ cloudpool.InventoryStore = (*PoolRepository)(nil)

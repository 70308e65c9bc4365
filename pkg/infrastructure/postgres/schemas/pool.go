package schemas

import (
	"github.com/google/uuid"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"gorm.io/datatypes"
)

type Pool struct {
	ID   string `gorm:"primaryKey;column:id"`
	Name string `gorm:"column:name"`
}

func (Pool) TableName() string {
	return "pools"
}

type Node struct {
	ID            string             `gorm:"primaryKey;column:id"`
	PoolID        string             `gorm:"column:pool_id;index"`
	State         entities.NodeState `gorm:"column:state;not null"`
	GPUAllocated  int                `gorm:"column:gpu_allocated;not null;default:0"`
	GPUTotal      int                `gorm:"column:gpu_total;not null"`
	VCPUAllocated int                `gorm:"column:vcpu_allocated;not null;default:0"`
	VCPUTotal     int                `gorm:"column:vcpu_total;not null"`
	ExposeURL     string             `gorm:"column:expose_url"`
}

func (Node) TableName() string {
	return "nodes"
}

func (n *Node) ToEntity() entities.Node {
	return entities.Node{
		ID:            n.ID,
		PoolID:        n.PoolID,
		State:         n.State,
		GPUAllocated:  n.GPUAllocated,
		GPUTotal:      n.GPUTotal,
		VCPUAllocated: n.VCPUAllocated,
		VCPUTotal:     n.VCPUTotal,
		ExposeURL:     n.ExposeURL,
	}
}

type Placement struct {
	DeploymentID uuid.UUID      `gorm:"type:uuid;primaryKey;column:deployment_id"`
	PoolID       string         `gorm:"column:pool_id"`
	NodeID       string         `gorm:"column:node_id;index"`
	ContainerID  string         `gorm:"column:container_id"`
	Resources    datatypes.JSON `gorm:"type:jsonb;column:resources"`
}

func (Placement) TableName() string {
	return "placements"
}

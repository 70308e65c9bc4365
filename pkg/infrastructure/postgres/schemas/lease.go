package schemas

import (
	"time"

	"github.com/google/uuid"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
)

type Lease struct {
	ID               string               `gorm:"primaryKey;column:id"`
	DeploymentID     uuid.UUID            `gorm:"type:uuid;column:deployment_id;index"`
	DSeq             uint64               `gorm:"column:dseq;not null"`
	ProviderAddress  string               `gorm:"column:provider_address;not null"`
	ProviderEndpoint string               `gorm:"column:provider_endpoint"`
	ManifestSent     bool                 `gorm:"column:manifest_sent;not null;default:false"`
	Status           entities.LeaseStatus `gorm:"column:status;not null"`
	CreatedAt        time.Time            `gorm:"autoCreateTime;column:created_at"`
	ClosedAt         *time.Time           `gorm:"column:closed_at"`
}

func (Lease) TableName() string {
	return "leases"
}

func FromLeaseEntity(l *entities.LeaseEntity) *Lease {
	return &Lease{
		ID:               l.ID,
		DeploymentID:     l.DeploymentID,
		DSeq:             l.DSeq,
		ProviderAddress:  l.ProviderAddress,
		ProviderEndpoint: l.ProviderEndpoint,
		ManifestSent:     l.ManifestSent,
		Status:           l.Status,
		CreatedAt:        l.CreatedAt,
		ClosedAt:         l.ClosedAt,
	}
}

func (l *Lease) ToEntity() *entities.LeaseEntity {
	return &entities.LeaseEntity{
		ID:               l.ID,
		DeploymentID:     l.DeploymentID,
		DSeq:             l.DSeq,
		ProviderAddress:  l.ProviderAddress,
		ProviderEndpoint: l.ProviderEndpoint,
		ManifestSent:     l.ManifestSent,
		Status:           l.Status,
		CreatedAt:        l.CreatedAt,
		ClosedAt:         l.ClosedAt,
	}
}

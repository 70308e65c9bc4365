package repositories

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"github.com/tensorgrid/deploy-backend/pkg/infrastructure/postgres/schemas"
	"gorm.io/gorm"
)

type LeaseRepository struct {
	db *gorm.DB
}

func NewLeaseRepository(db *gorm.DB) *LeaseRepository {
	return &LeaseRepository{db: db}
}

func (r *LeaseRepository) Create(l *entities.LeaseEntity) error {
	return r.db.Create(schemas.FromLeaseEntity(l)).Error
}

func (r *LeaseRepository) UpdateStatus(leaseID string, status entities.LeaseStatus) error {
	res := r.db.Model(&schemas.Lease{}).Where("id = ?", leaseID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return entities.ErrNotFound
	}
	return nil
}

func (r *LeaseRepository) SetManifestSent(leaseID string) error {
	res := r.db.Model(&schemas.Lease{}).Where("id = ?", leaseID).
		Update("manifest_sent", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return entities.ErrNotFound
	}
	return nil
}

func (r *LeaseRepository) GetOpenByDeploymentID(deploymentID uuid.UUID) (*entities.LeaseEntity, error) {
	var row schemas.Lease
	err := r.db.Where("deployment_id = ? AND status <> ?", deploymentID, entities.LeaseStatusClosed).
		Order("created_at DESC").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, entities.ErrNotFound
		}
		return nil, err
	}
	return row.ToEntity(), nil
}

func (r *LeaseRepository) CloseByDeploymentID(deploymentID uuid.UUID) error {
	now := time.Now().UTC()
	return r.db.Model(&schemas.Lease{}).
		Where("deployment_id = ? AND status <> ?", deploymentID, entities.LeaseStatusClosed).
		Updates(map[string]any{"status": entities.LeaseStatusClosed, "closed_at": now}).Error
}

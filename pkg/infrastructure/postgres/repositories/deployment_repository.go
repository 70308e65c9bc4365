package repositories

import (
	"errors"

	"github.com/google/uuid"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"github.com/tensorgrid/deploy-backend/pkg/infrastructure/postgres/schemas"
	"gorm.io/gorm"
)

type DeploymentRepository struct {
	db *gorm.DB
}

func NewDeploymentRepository(db *gorm.DB) *DeploymentRepository {
	return &DeploymentRepository{db: db}
}

func (r *DeploymentRepository) Create(d *entities.DeploymentEntity) error {
	row, err := schemas.FromDeploymentEntity(d)
	if err != nil {
		return err
	}
	if err := r.db.Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return entities.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *DeploymentRepository) Save(d *entities.DeploymentEntity) error {
	row, err := schemas.FromDeploymentEntity(d)
	if err != nil {
		return err
	}
	return r.db.Save(row).Error
}

func (r *DeploymentRepository) GetByID(id uuid.UUID) (*entities.DeploymentEntity, error) {
	var row schemas.Deployment
	if err := r.db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, entities.ErrNotFound
		}
		return nil, err
	}
	return row.ToEntity()
}

func (r *DeploymentRepository) ListByOrg(orgID string) ([]*entities.DeploymentEntity, error) {
	var rows []schemas.Deployment
	if err := r.db.Where("org_id = ? AND tombstoned = false", orgID).
		Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toEntities(rows)
}

func (r *DeploymentRepository) ListByStatus(statuses ...entities.DeploymentStatus) ([]*entities.DeploymentEntity, error) {
	var rows []schemas.Deployment
	if err := r.db.Where("status IN ? AND tombstoned = false", statuses).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toEntities(rows)
}

func (r *DeploymentRepository) Delete(id uuid.UUID) error {
	res := r.db.Delete(&schemas.Deployment{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return entities.ErrNotFound
	}
	return nil
}

func toEntities(rows []schemas.Deployment) ([]*entities.DeploymentEntity, error) {
	out := make([]*entities.DeploymentEntity, 0, len(rows))
	for i := range rows {
		e, err := rows[i].ToEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

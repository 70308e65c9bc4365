package schemas

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"gorm.io/datatypes"
)

type Deployment struct {
	ID               uuid.UUID                 `gorm:"type:uuid;primaryKey;column:id"`
	OrgID            string                    `gorm:"column:org_id;index"`
	Provider         entities.ProviderType     `gorm:"column:provider;not null"`
	Spec             datatypes.JSON            `gorm:"type:jsonb;not null;column:spec"`
	Status           entities.DeploymentStatus `gorm:"column:status;not null;index"`
	Endpoint         string                    `gorm:"column:endpoint"`
	Error            string                    `gorm:"column:error"`
	Tombstoned       bool                      `gorm:"column:tombstoned;not null;default:false"`
	CreatedAt        time.Time                 `gorm:"autoCreateTime;column:created_at"`
	LastTransitionAt time.Time                 `gorm:"column:last_transition_at"`
}

func (Deployment) TableName() string {
	return "deployments"
}

// FromDeploymentEntity maps a domain deployment onto the persistence row.
func FromDeploymentEntity(d *entities.DeploymentEntity) (*Deployment, error) {
	spec, err := json.Marshal(d.Spec)
	if err != nil {
		return nil, err
	}
	return &Deployment{
		ID:               d.ID,
		OrgID:            d.OrgID,
		Provider:         d.Provider,
		Spec:             spec,
		Status:           d.Status,
		Endpoint:         d.Endpoint,
		Error:            d.Error,
		Tombstoned:       d.Tombstoned,
		CreatedAt:        d.CreatedAt,
		LastTransitionAt: d.LastTransitionAt,
	}, nil
}

// ToEntity maps a persistence row back to the domain deployment.
func (d *Deployment) ToEntity() (*entities.DeploymentEntity, error) {
	var spec entities.WorkloadSpec
	if err := json.Unmarshal(d.Spec, &spec); err != nil {
		return nil, err
	}
	return &entities.DeploymentEntity{
		ID:               d.ID,
		OrgID:            d.OrgID,
		Provider:         d.Provider,
		Spec:             spec,
		Status:           d.Status,
		Endpoint:         d.Endpoint,
		Error:            d.Error,
		Tombstoned:       d.Tombstoned,
		CreatedAt:        d.CreatedAt,
		LastTransitionAt: d.LastTransitionAt,
	}, nil
}

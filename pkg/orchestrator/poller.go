package orchestrator

import (
	"context"
	"time"

	"github.com/tensorgrid/deploy-backend/internal/logger"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"go.uber.org/zap"
)

// Poller refreshes the cached status of active deployments by asking the
// adapters. It is the only place a provider status call happens outside a
// provisioning run; the status API itself only reads the database.
type Poller struct {
	orch     *Orchestrator
	interval time.Duration
}

func NewPoller(orch *Orchestrator, interval time.Duration) *Poller {
	return &Poller{orch: orch, interval: interval}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Poller) sweep(ctx context.Context) {
	active, err := p.orch.store.ListByStatus(entities.DeploymentStatusActive)
	if err != nil {
		logger.Error("poller list", zap.Error(err))
		return
	}

	for _, d := range active {
		adapter := p.orch.adapters[d.Provider]
		if adapter == nil {
			continue
		}

		pollCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		reported, err := adapter.Status(pollCtx, d)
		cancel()
		if err != nil {
			logger.Warn("poller status check",
				zap.String("deploymentId", d.ID.String()), zap.Error(err))
			continue
		}

		if reported == entities.DeploymentStatusFailed {
			if _, err := p.orch.transition(d.ID, entities.DeploymentStatusFailed, func(d *entities.DeploymentEntity) {
				d.Error = "workload is no longer running on the provider"
			}); err != nil {
				logger.Warn("poller transition",
					zap.String("deploymentId", d.ID.String()), zap.Error(err))
			}
		}
	}
}

// Package events publishes deployment state-transition events for downstream
// consumers (audit sink, spend tracking).
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/tensorgrid/deploy-backend/internal/logger"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"go.uber.org/zap"
)

// TransitionEvent describes one state-machine transition. Exactly one event
// is emitted per transition.
type TransitionEvent struct {
	DeploymentID uuid.UUID                 `json:"deploymentId"`
	OrgID        string                    `json:"orgId"`
	Provider     entities.ProviderType     `json:"provider"`
	From         entities.DeploymentStatus `json:"from"`
	To           entities.DeploymentStatus `json:"to"`
	Error        string                    `json:"error,omitempty"`
	At           time.Time                 `json:"at"`
}

// Publisher delivers transition events. Implementations must not block the
// orchestrator; delivery is best-effort.
type Publisher interface {
	Publish(event TransitionEvent)
}

// LogPublisher writes every transition to the structured log. It is the
// default sink when no external audit bus is configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher { return &LogPublisher{} }

func (p *LogPublisher) Publish(event TransitionEvent) {
	logger.Info("deployment transition",
		zap.String("deploymentId", event.DeploymentID.String()),
		zap.String("provider", string(event.Provider)),
		zap.String("from", string(event.From)),
		zap.String("to", string(event.To)),
		zap.String("error", event.Error),
	)
}

// Multi fans one event out to several publishers.
type Multi []Publisher

func (m Multi) Publish(event TransitionEvent) {
	for _, p := range m {
		p.Publish(event)
	}
}

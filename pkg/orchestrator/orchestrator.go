// Package orchestrator owns the deployment state machine. It is the only
// component that writes deployment status, and every write goes through the
// lifecycle legality table.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tensorgrid/deploy-backend/internal/logger"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"github.com/tensorgrid/deploy-backend/pkg/events"
	"github.com/tensorgrid/deploy-backend/pkg/providers"
	"github.com/tensorgrid/deploy-backend/pkg/taskmanager"
	"go.uber.org/zap"
)

// DeploymentStore is the persistence the orchestrator needs.
type DeploymentStore interface {
	Create(d *entities.DeploymentEntity) error
	Save(d *entities.DeploymentEntity) error
	GetByID(id uuid.UUID) (*entities.DeploymentEntity, error)
	ListByOrg(orgID string) ([]*entities.DeploymentEntity, error)
	ListByStatus(statuses ...entities.DeploymentStatus) ([]*entities.DeploymentEntity, error)
	Delete(id uuid.UUID) error
}

// CapabilityCache caches adapter capabilities between config changes. A nil
// implementation is a valid no-op cache.
type CapabilityCache interface {
	Get(ctx context.Context, key string, out any) error
	Set(ctx context.Context, key string, value any)
}

type Orchestrator struct {
	store     DeploymentStore
	adapters  map[entities.ProviderType]providers.Adapter
	tasks     *taskmanager.TaskManager
	publisher events.Publisher
	cache     CapabilityCache

	// locks serializes transitions per deployment id.
	locks sync.Map

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc

	now func() time.Time
}

func New(store DeploymentStore, adapters map[entities.ProviderType]providers.Adapter, tasks *taskmanager.TaskManager, publisher events.Publisher, cache CapabilityCache) *Orchestrator {
	return &Orchestrator{
		store:     store,
		adapters:  adapters,
		tasks:     tasks,
		publisher: publisher,
		cache:     cache,
		cancels:   make(map[uuid.UUID]context.CancelFunc),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the request, persists the deployment as Pending and hands
// provisioning to a worker. The caller gets the id back immediately.
func (o *Orchestrator) Create(orgID string, provider entities.ProviderType, spec entities.WorkloadSpec) (*entities.DeploymentEntity, error) {
	if !provider.Valid() {
		return nil, &entities.ValidationError{Field: "provider", Msg: fmt.Sprintf("unknown provider %q", provider)}
	}
	if _, ok := o.adapters[provider]; !ok {
		return nil, &entities.ValidationError{Field: "provider", Msg: fmt.Sprintf("provider %q is not configured", provider)}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	now := o.now()
	d := &entities.DeploymentEntity{
		ID:               uuid.New(),
		OrgID:            orgID,
		Provider:         provider,
		Spec:             spec,
		Status:           entities.DeploymentStatusPending,
		CreatedAt:        now,
		LastTransitionAt: now,
	}
	if err := o.store.Create(d); err != nil {
		return nil, err
	}

	id := d.ID
	o.tasks.AddTask(func() { o.provision(id) })
	return d, nil
}

// Status returns the persisted record. It never triggers a provider call;
// freshness comes from the background poller.
func (o *Orchestrator) Status(id uuid.UUID) (*entities.DeploymentEntity, error) {
	return o.store.GetByID(id)
}

func (o *Orchestrator) List(orgID string) ([]*entities.DeploymentEntity, error) {
	return o.store.ListByOrg(orgID)
}

// Stop tears the workload down but keeps the record restartable. Re-stopping
// a stopping or stopped deployment is a no-op.
func (o *Orchestrator) Stop(id uuid.UUID) (*entities.DeploymentEntity, error) {
	d, err := o.store.GetByID(id)
	if err != nil {
		return nil, err
	}
	switch d.Status {
	case entities.DeploymentStatusStopping, entities.DeploymentStatusStopped:
		return d, nil
	}
	if !entities.CanTransition(d.Status, entities.DeploymentStatusStopping) {
		return nil, &entities.ConflictError{Action: "stop", Status: d.Status}
	}

	// Record the new state before cancelling the in-flight run, so the run's
	// cancellation error cannot race this transition and land in Failed.
	d, err = o.transition(id, entities.DeploymentStatusStopping, nil)
	if err != nil {
		return nil, err
	}
	o.cancelInFlight(id)

	o.tasks.AddTask(func() { o.teardown(id, entities.DeploymentStatusStopped) })
	return d, nil
}

// Start re-provisions a stopped deployment with its stored spec.
func (o *Orchestrator) Start(id uuid.UUID) (*entities.DeploymentEntity, error) {
	d, err := o.store.GetByID(id)
	if err != nil {
		return nil, err
	}
	if d.Status != entities.DeploymentStatusStopped {
		return nil, &entities.ConflictError{Action: "start", Status: d.Status}
	}

	d, err = o.transition(id, entities.DeploymentStatusDeploying, func(d *entities.DeploymentEntity) {
		d.Error = ""
		d.Endpoint = ""
	})
	if err != nil {
		return nil, err
	}

	o.tasks.AddTask(func() { o.provision(id) })
	return d, nil
}

// Terminate always succeeds locally for a non-terminal deployment: the
// record moves to Terminated immediately and provider teardown happens
// asynchronously, best effort. Re-terminating is a no-op.
func (o *Orchestrator) Terminate(id uuid.UUID) (*entities.DeploymentEntity, error) {
	d, err := o.store.GetByID(id)
	if err != nil {
		return nil, err
	}
	if d.Status == entities.DeploymentStatusTerminated {
		return d, nil
	}
	if !entities.CanTransition(d.Status, entities.DeploymentStatusTerminated) {
		return nil, &entities.ConflictError{Action: "terminate", Status: d.Status}
	}

	d, err = o.transition(id, entities.DeploymentStatusTerminated, func(d *entities.DeploymentEntity) {
		d.Tombstoned = true
	})
	if err != nil {
		return nil, err
	}
	o.cancelInFlight(id)

	o.tasks.AddTask(func() {
		adapter := o.adapters[d.Provider]
		if adapter == nil {
			return
		}
		if err := adapter.Terminate(context.Background(), d); err != nil {
			logger.Warn("provider teardown after terminate",
				zap.String("deploymentId", id.String()), zap.Error(err))
		}
	})
	return d, nil
}

// Delete hard-deletes the record. Only deployments that can never run again
// may be deleted.
func (o *Orchestrator) Delete(id uuid.UUID) error {
	d, err := o.store.GetByID(id)
	if err != nil {
		return err
	}
	if !d.Status.IsDeletable() {
		return &entities.ConflictError{Action: "delete", Status: d.Status}
	}
	return o.store.Delete(id)
}

// ConfigPatch is a partial spec update. Nil fields are left unchanged.
type ConfigPatch struct {
	Env            map[string]string
	Replicas       *int
	InferenceModel *string
}

// UpdateConfig applies a spec patch. Rejected unless the deployment is
// Stopped, so a running workload never diverges from its stored spec.
func (o *Orchestrator) UpdateConfig(id uuid.UUID, patch ConfigPatch) (*entities.DeploymentEntity, error) {
	mu := o.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	d, err := o.store.GetByID(id)
	if err != nil {
		return nil, err
	}
	if d.Status != entities.DeploymentStatusStopped {
		return nil, &entities.ConflictError{Action: "update", Status: d.Status}
	}

	updated := d.Spec
	if patch.Env != nil {
		updated.Env = patch.Env
	}
	if patch.Replicas != nil {
		updated.Replicas = *patch.Replicas
	}
	if patch.InferenceModel != nil {
		updated.InferenceModel = *patch.InferenceModel
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	d.Spec = updated
	if err := o.store.Save(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Logs streams workload logs. Adapters without log streaming get a single
// placeholder line instead of an error, so callers can treat the endpoint
// uniformly.
func (o *Orchestrator) Logs(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	d, err := o.store.GetByID(id)
	if err != nil {
		return nil, err
	}
	adapter := o.adapters[d.Provider]
	if adapter == nil {
		return nil, &entities.ValidationError{Field: "provider", Msg: fmt.Sprintf("provider %q is not configured", d.Provider)}
	}
	if !o.Capabilities(ctx, d.Provider).SupportsLogStreaming {
		return io.NopCloser(strings.NewReader("log streaming is not supported by this provider\n")), nil
	}
	return adapter.Logs(ctx, d)
}

// Capabilities returns the adapter's declared capabilities, through the TTL
// cache when one is configured.
func (o *Orchestrator) Capabilities(ctx context.Context, provider entities.ProviderType) providers.Capabilities {
	key := "capabilities:" + string(provider)
	var caps providers.Capabilities
	if o.cache != nil {
		if err := o.cache.Get(ctx, key, &caps); err == nil {
			return caps
		}
	}
	caps = o.adapters[provider].Capabilities()
	if o.cache != nil {
		o.cache.Set(ctx, key, caps)
	}
	return caps
}

// Recover reconciles persisted state after a restart: queued deployments are
// re-provisioned, deployments that were mid-protocol are failed because their
// in-memory protocol state is gone.
func (o *Orchestrator) Recover() error {
	pending, err := o.store.ListByStatus(entities.DeploymentStatusPending)
	if err != nil {
		return err
	}
	for _, d := range pending {
		id := d.ID
		o.tasks.AddTask(func() { o.provision(id) })
	}

	interrupted, err := o.store.ListByStatus(
		entities.DeploymentStatusDeploying,
		entities.DeploymentStatusBidding,
		entities.DeploymentStatusLeasing,
		entities.DeploymentStatusStopping,
	)
	if err != nil {
		return err
	}
	for _, d := range interrupted {
		if _, err := o.transition(d.ID, entities.DeploymentStatusFailed, func(d *entities.DeploymentEntity) {
			d.Error = "provisioning interrupted by restart"
		}); err != nil {
			logger.Error("recover transition", zap.String("deploymentId", d.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// provision runs one full provisioning protocol on a worker goroutine.
func (o *Orchestrator) provision(id uuid.UUID) {
	ctx, cancel := context.WithCancel(context.Background())
	o.registerCancel(id, cancel)
	defer o.unregisterCancel(id)

	d, err := o.store.GetByID(id)
	if err != nil {
		logger.Error("provision load", zap.String("deploymentId", id.String()), zap.Error(err))
		return
	}

	switch d.Status {
	case entities.DeploymentStatusPending:
		if d, err = o.transition(id, entities.DeploymentStatusDeploying, nil); err != nil {
			logger.Warn("provision abandoned", zap.String("deploymentId", id.String()), zap.Error(err))
			return
		}
	case entities.DeploymentStatusDeploying:
		// re-entry from Start, which already transitioned.
	default:
		logger.Warn("provision abandoned",
			zap.String("deploymentId", id.String()), zap.String("status", string(d.Status)))
		return
	}

	adapter := o.adapters[d.Provider]
	progress := func(status entities.DeploymentStatus) error {
		_, err := o.transition(id, status, nil)
		return err
	}

	result, err := adapter.Create(ctx, d, progress)
	if err != nil {
		o.recordFailure(id, err)
		return
	}

	if _, err := o.transition(id, entities.DeploymentStatusActive, func(d *entities.DeploymentEntity) {
		d.Endpoint = result.Endpoint
		d.Error = ""
	}); err != nil {
		// The deployment was stopped or terminated while the final call
		// resolved. Tear the fresh workload down again.
		logger.Warn("activation superseded", zap.String("deploymentId", id.String()), zap.Error(err))
		if terr := adapter.Terminate(context.Background(), d); terr != nil {
			logger.Error("teardown of superseded workload", zap.String("deploymentId", id.String()), zap.Error(terr))
		}
	}
}

// teardown finishes a stop: provider resources are released, then the record
// lands in the target state.
func (o *Orchestrator) teardown(id uuid.UUID, target entities.DeploymentStatus) {
	d, err := o.store.GetByID(id)
	if err != nil {
		logger.Error("teardown load", zap.String("deploymentId", id.String()), zap.Error(err))
		return
	}

	adapter := o.adapters[d.Provider]
	if adapter != nil {
		if err := adapter.Terminate(context.Background(), d); err != nil {
			logger.Warn("provider teardown", zap.String("deploymentId", id.String()), zap.Error(err))
		}
	}

	if _, err := o.transition(id, target, func(d *entities.DeploymentEntity) {
		d.Endpoint = ""
	}); err != nil {
		logger.Warn("teardown transition", zap.String("deploymentId", id.String()), zap.Error(err))
	}
}

// recordFailure moves the deployment to Failed unless a concurrent terminate
// already moved it to a terminal state.
func (o *Orchestrator) recordFailure(id uuid.UUID, cause error) {
	d, err := o.store.GetByID(id)
	if err != nil {
		logger.Error("failure load", zap.String("deploymentId", id.String()), zap.Error(err))
		return
	}
	// A concurrent stop or terminate owns the record now; the cancellation
	// error it induced is not a failure.
	if d.Status.IsTerminal() || d.Status == entities.DeploymentStatusStopping || d.Status == entities.DeploymentStatusStopped {
		logger.Info("provisioning aborted",
			zap.String("deploymentId", id.String()),
			zap.String("status", string(d.Status)),
			zap.Error(cause))
		return
	}

	if _, err := o.transition(id, entities.DeploymentStatusFailed, func(d *entities.DeploymentEntity) {
		d.Error = cause.Error()
	}); err != nil {
		logger.Error("failure transition", zap.String("deploymentId", id.String()), zap.Error(err))
	}
}

// transition performs one validated state-machine step under the
// deployment's lock, persists it and publishes exactly one event.
func (o *Orchestrator) transition(id uuid.UUID, to entities.DeploymentStatus, mutate func(*entities.DeploymentEntity)) (*entities.DeploymentEntity, error) {
	mu := o.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	d, err := o.store.GetByID(id)
	if err != nil {
		return nil, err
	}
	if !entities.CanTransition(d.Status, to) {
		return nil, &entities.ConflictError{Action: "transition to " + string(to), Status: d.Status}
	}

	from := d.Status
	d.Status = to
	d.LastTransitionAt = o.now()
	if mutate != nil {
		mutate(d)
	}
	if err := o.store.Save(d); err != nil {
		return nil, err
	}

	o.publisher.Publish(events.TransitionEvent{
		DeploymentID: d.ID,
		OrgID:        d.OrgID,
		Provider:     d.Provider,
		From:         from,
		To:           to,
		Error:        d.Error,
		At:           d.LastTransitionAt,
	})
	return d, nil
}

func (o *Orchestrator) lockFor(id uuid.UUID) *sync.Mutex {
	v, _ := o.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (o *Orchestrator) registerCancel(id uuid.UUID, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels[id] = cancel
}

func (o *Orchestrator) unregisterCancel(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.cancels[id]; ok {
		cancel()
		delete(o.cancels, id)
	}
}

// cancelInFlight interrupts a running provisioning protocol, if any. The
// protocol observes the cancellation at its next checkpoint.
func (o *Orchestrator) cancelInFlight(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.cancels[id]; ok {
		cancel()
	}
}

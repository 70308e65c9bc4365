// Package chainmarket drives the on-chain bid/lease negotiation protocol for
// one decentralized GPU marketplace.
package chainmarket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/tensorgrid/deploy-backend/internal/logger"
	"github.com/tensorgrid/deploy-backend/pkg/chain"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"github.com/tensorgrid/deploy-backend/pkg/manifest"
	"github.com/tensorgrid/deploy-backend/pkg/providers"
	"go.uber.org/zap"
)

// Config holds protocol timing for one marketplace.
type Config struct {
	BidWindow          time.Duration
	BidPollInterval    time.Duration
	StatusPollAttempts int
	StatusPollInterval time.Duration
}

// LeaseStore persists lease records. The adapter owns lease lifecycle; the
// orchestrator only reads.
type LeaseStore interface {
	Create(lease *entities.LeaseEntity) error
	UpdateStatus(id string, status entities.LeaseStatus) error
	SetManifestSent(id string) error
	GetOpenByDeploymentID(deploymentID uuid.UUID) (*entities.LeaseEntity, error)
	CloseByDeploymentID(deploymentID uuid.UUID) error
}

// Adapter implements providers.Adapter for a chain marketplace. Provisioning
// is a multi-step asynchronous protocol: deployment tx, bid collection,
// lease tx, manifest delivery, status confirmation.
type Adapter struct {
	cfg     Config
	client  chain.Client
	sender  manifest.Sender
	leases  LeaseStore
	nowFunc func() time.Time
}

func New(cfg Config, client chain.Client, sender manifest.Sender, leases LeaseStore) *Adapter {
	return &Adapter{
		cfg:     cfg,
		client:  client,
		sender:  sender,
		leases:  leases,
		nowFunc: time.Now,
	}
}

func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		IsEphemeral:          true,
		SupportsLogStreaming: false,
		AdapterType:          providers.AdapterTypeChain,
	}
}

// Create runs the negotiation protocol to completion. Transaction broadcasts
// are never retried (duplicate broadcast risks duplicate on-chain spend);
// read-only calls retry transient failures with bounded exponential backoff.
// Cancellation is honored at every step boundary, but an in-flight broadcast
// is always allowed to resolve first.
func (a *Adapter) Create(ctx context.Context, d *entities.DeploymentEntity, progress providers.ProgressFunc) (*providers.ProvisionResult, error) {
	// The deployment sequence is derived from wall clock so two attempts by
	// the same signer can never collide. It is consumed on-chain even when
	// the attempt fails, which is why a failed attempt requires a fresh
	// create rather than a retry.
	dseq := uint64(a.nowFunc().UnixNano())

	m, err := manifest.Compile(d.Spec, dseq)
	if err != nil {
		return nil, err
	}

	hash, err := m.Hash()
	if err != nil {
		return nil, err
	}

	txResult, err := a.client.BroadcastDeployment(ctx, dseq, hash)
	if err != nil {
		return nil, &entities.ProviderError{Reason: entities.ReasonDeployTxFailed, Err: err}
	}
	if txResult.Code != 0 {
		return nil, &entities.ProviderError{
			Reason: entities.ReasonDeployTxFailed,
			Err:    fmt.Errorf("tx %s: code %d: %s", txResult.TxHash, txResult.Code, txResult.RawLog),
		}
	}

	logger.Info("deployment tx confirmed",
		zap.String("deploymentId", d.ID.String()),
		zap.Uint64("dseq", dseq),
		zap.String("txHash", txResult.TxHash))

	if err := progress(entities.DeploymentStatusBidding); err != nil {
		return nil, a.abort(ctx, dseq, err)
	}

	bids, err := collectBids(ctx, a.client, d.ID, dseq, a.cfg.BidWindow, a.cfg.BidPollInterval)
	if err != nil {
		return nil, a.abort(ctx, dseq, err)
	}
	winner := SelectBid(bids)
	if winner == nil {
		_ = a.closeDeployment(dseq)
		return nil, &entities.ProviderError{Reason: entities.ReasonNoBids, Err: errors.New("no bids")}
	}

	logger.Info("bid selected",
		zap.String("deploymentId", d.ID.String()),
		zap.String("provider", winner.ProviderAddress),
		zap.Uint64("price", winner.Price),
		zap.Int("bidCount", len(bids)))

	if err := progress(entities.DeploymentStatusLeasing); err != nil {
		return nil, a.abort(ctx, dseq, err)
	}

	// The lease broadcast runs detached from ctx: once submitted it cannot
	// be aborted, so cancellation degrades to closing the resulting lease
	// right after it resolves.
	leaseTx, err := a.client.BroadcastLease(context.WithoutCancel(ctx), dseq, winner.ProviderAddress, winner.Price)
	if err != nil {
		return nil, &entities.ProviderError{Reason: entities.ReasonLeaseTxFailed, Err: err}
	}
	if leaseTx.Code != 0 {
		return nil, &entities.ProviderError{
			Reason: entities.ReasonLeaseTxFailed,
			Err:    fmt.Errorf("tx %s: code %d: %s", leaseTx.TxHash, leaseTx.Code, leaseTx.RawLog),
		}
	}

	lease := &entities.LeaseEntity{
		ID:              entities.LeaseID(dseq, winner.ProviderAddress),
		DeploymentID:    d.ID,
		DSeq:            dseq,
		ProviderAddress: winner.ProviderAddress,
		Status:          entities.LeaseStatusPending,
		CreatedAt:       a.nowFunc(),
	}
	if err := a.leases.Create(lease); err != nil {
		return nil, fmt.Errorf("chainmarket: persist lease: %w", err)
	}

	if err := ctx.Err(); err != nil {
		// Cancelled while the lease tx resolved: close both the chain record
		// and the lease row just persisted.
		_ = a.closeLease(dseq, d.ID)
		return nil, &entities.ProviderError{Reason: entities.ReasonCancelled, Err: err}
	}

	var endpoint string
	err = a.retryTransient(ctx, func() error {
		var qerr error
		endpoint, qerr = a.client.QueryProviderEndpoint(ctx, winner.ProviderAddress)
		return qerr
	})
	if err != nil {
		_ = a.closeLease(dseq, d.ID)
		return nil, &entities.ProviderError{Reason: entities.ReasonManifestRejected, Err: fmt.Errorf("resolve provider endpoint: %w", err)}
	}
	lease.ProviderEndpoint = endpoint

	// Manifest delivery failure is reported distinctly from transaction
	// failure: the lease was paid for but the workload never shipped.
	err = a.retryTransient(ctx, func() error {
		return a.sender.Send(ctx, endpoint, m)
	})
	if err != nil {
		_ = a.closeLease(dseq, d.ID)
		return nil, &entities.ProviderError{Reason: entities.ReasonManifestRejected, Err: err}
	}
	if err := a.leases.SetManifestSent(lease.ID); err != nil {
		return nil, fmt.Errorf("chainmarket: mark manifest sent: %w", err)
	}
	if err := a.leases.UpdateStatus(lease.ID, entities.LeaseStatusManifestAccepted); err != nil {
		return nil, fmt.Errorf("chainmarket: update lease: %w", err)
	}

	workloadEndpoint, err := a.confirmRunning(ctx, winner.ProviderAddress, dseq)
	if err != nil {
		_ = a.closeLease(dseq, d.ID)
		return nil, err
	}

	if err := a.leases.UpdateStatus(lease.ID, entities.LeaseStatusActive); err != nil {
		return nil, fmt.Errorf("chainmarket: activate lease: %w", err)
	}

	if workloadEndpoint == "" {
		workloadEndpoint = endpoint
	}
	return &providers.ProvisionResult{Endpoint: workloadEndpoint}, nil
}

// confirmRunning polls the provider's status endpoint until the workload
// reports running, for a bounded number of attempts.
func (a *Adapter) confirmRunning(ctx context.Context, providerAddress string, dseq uint64) (string, error) {
	ticker := time.NewTicker(a.cfg.StatusPollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < a.cfg.StatusPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", &entities.ProviderError{Reason: entities.ReasonCancelled, Err: ctx.Err()}
		case <-ticker.C:
			status, err := a.client.QueryWorkloadStatus(ctx, providerAddress, dseq)
			if err != nil {
				if entities.IsTransient(err) {
					continue
				}
				return "", &entities.ProviderError{Reason: entities.ReasonStatusPollExhausted, Err: err}
			}
			if status.Running {
				return status.Endpoint, nil
			}
		}
	}

	return "", &entities.ProviderError{
		Reason: entities.ReasonStatusPollExhausted,
		Err:    fmt.Errorf("workload not running after %d attempts", a.cfg.StatusPollAttempts),
	}
}

// Terminate closes the open lease and the on-chain deployment record.
// Best-effort: the orchestrator has already recorded the local state.
func (a *Adapter) Terminate(ctx context.Context, d *entities.DeploymentEntity) error {
	lease, err := a.leases.GetOpenByDeploymentID(d.ID)
	if err != nil && !errors.Is(err, entities.ErrNotFound) {
		return err
	}

	if lease != nil {
		if err := a.closeDeployment(lease.DSeq); err != nil {
			logger.Warn("close deployment tx failed",
				zap.String("deploymentId", d.ID.String()), zap.Error(err))
		}
		return a.leases.CloseByDeploymentID(d.ID)
	}
	return nil
}

// Status asks the provider whether the leased workload is still running.
func (a *Adapter) Status(ctx context.Context, d *entities.DeploymentEntity) (entities.DeploymentStatus, error) {
	lease, err := a.leases.GetOpenByDeploymentID(d.ID)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return entities.DeploymentStatusStopped, nil
		}
		return "", err
	}

	status, err := a.client.QueryWorkloadStatus(ctx, lease.ProviderAddress, lease.DSeq)
	if err != nil {
		return "", err
	}
	if status.Running {
		return entities.DeploymentStatusActive, nil
	}
	return entities.DeploymentStatusFailed, nil
}

// Logs returns a single placeholder line: marketplace providers expose no
// log-streaming channel, and log access is best-effort.
func (a *Adapter) Logs(ctx context.Context, d *entities.DeploymentEntity) (io.ReadCloser, error) {
	msg := fmt.Sprintf("log streaming is not available for provider %s; check the provider console\n", d.Provider)
	return io.NopCloser(bytes.NewBufferString(msg)), nil
}

// abort handles a cancellation or veto mid-protocol: it closes whatever
// on-chain state this attempt created and returns a cancelled ProviderError.
func (a *Adapter) abort(ctx context.Context, dseq uint64, cause error) error {
	_ = a.closeDeployment(dseq)
	return &entities.ProviderError{Reason: entities.ReasonCancelled, Err: cause}
}

func (a *Adapter) closeLease(dseq uint64, deploymentID uuid.UUID) error {
	if err := a.closeDeployment(dseq); err != nil {
		logger.Warn("close deployment tx failed", zap.Uint64("dseq", dseq), zap.Error(err))
	}
	return a.leases.CloseByDeploymentID(deploymentID)
}

// closeDeployment broadcasts a close tx detached from any request context,
// since teardown must proceed even when the caller is gone.
func (a *Adapter) closeDeployment(dseq uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, err := a.client.BroadcastClose(ctx, dseq)
	if err != nil {
		return err
	}
	if result.Code != 0 {
		return fmt.Errorf("close tx %s: code %d: %s", result.TxHash, result.Code, result.RawLog)
	}
	return nil
}

// retryTransient retries op with bounded exponential backoff while it keeps
// failing transiently. Permanent errors stop the retry loop immediately.
func (a *Adapter) retryTransient(ctx context.Context, op func() error) error {
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

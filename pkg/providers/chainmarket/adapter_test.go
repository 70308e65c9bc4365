package chainmarket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tensorgrid/deploy-backend/pkg/chain"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"github.com/tensorgrid/deploy-backend/pkg/manifest"
	"github.com/tensorgrid/deploy-backend/pkg/providers"
)

type fakeChainClient struct {
	mu sync.Mutex

	bids          []entities.Bid
	deployTxCode  uint32
	leaseTxCode   uint32
	workloadRuns  bool
	endpoint      string
	closedDseqs   []uint64
	leaseRequests int
}

func (f *fakeChainClient) BroadcastDeployment(ctx context.Context, dseq uint64, manifestHash string) (*chain.TxResult, error) {
	return &chain.TxResult{TxHash: "0xdeploy", Code: f.deployTxCode, RawLog: "insufficient funds"}, nil
}

func (f *fakeChainClient) BroadcastLease(ctx context.Context, dseq uint64, providerAddress string, price uint64) (*chain.TxResult, error) {
	f.mu.Lock()
	f.leaseRequests++
	f.mu.Unlock()
	return &chain.TxResult{TxHash: "0xlease", Code: f.leaseTxCode, RawLog: "bid gone"}, nil
}

func (f *fakeChainClient) BroadcastClose(ctx context.Context, dseq uint64) (*chain.TxResult, error) {
	f.mu.Lock()
	f.closedDseqs = append(f.closedDseqs, dseq)
	f.mu.Unlock()
	return &chain.TxResult{TxHash: "0xclose"}, nil
}

func (f *fakeChainClient) QueryBids(ctx context.Context, deploymentID uuid.UUID, dseq uint64) ([]entities.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bids, nil
}

func (f *fakeChainClient) QueryProviderEndpoint(ctx context.Context, providerAddress string) (string, error) {
	return "https://provider.example.com:8443", nil
}

func (f *fakeChainClient) QueryWorkloadStatus(ctx context.Context, providerAddress string, dseq uint64) (*chain.WorkloadStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &chain.WorkloadStatus{Running: f.workloadRuns, Endpoint: f.endpoint}, nil
}

func (f *fakeChainClient) closed() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.closedDseqs...)
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []*manifest.Manifest
	sendAs error
}

func (f *fakeSender) Send(ctx context.Context, providerEndpoint string, m *manifest.Manifest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendAs != nil {
		return f.sendAs
	}
	f.sent = append(f.sent, m)
	return nil
}

type memLeaseStore struct {
	mu     sync.Mutex
	leases map[string]*entities.LeaseEntity
}

func newMemLeaseStore() *memLeaseStore {
	return &memLeaseStore{leases: map[string]*entities.LeaseEntity{}}
}

func (s *memLeaseStore) Create(l *entities.LeaseEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.leases[l.ID] = &cp
	return nil
}

func (s *memLeaseStore) UpdateStatus(id string, status entities.LeaseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[id]
	if !ok {
		return entities.ErrNotFound
	}
	l.Status = status
	return nil
}

func (s *memLeaseStore) SetManifestSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[id]
	if !ok {
		return entities.ErrNotFound
	}
	l.ManifestSent = true
	return nil
}

func (s *memLeaseStore) GetOpenByDeploymentID(deploymentID uuid.UUID) (*entities.LeaseEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leases {
		if l.DeploymentID == deploymentID && l.Status != entities.LeaseStatusClosed {
			cp := *l
			return &cp, nil
		}
	}
	return nil, entities.ErrNotFound
}

func (s *memLeaseStore) CloseByDeploymentID(deploymentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leases {
		if l.DeploymentID == deploymentID {
			l.Status = entities.LeaseStatusClosed
		}
	}
	return nil
}

func testConfig() Config {
	return Config{
		BidWindow:          40 * time.Millisecond,
		BidPollInterval:    10 * time.Millisecond,
		StatusPollAttempts: 3,
		StatusPollInterval: 10 * time.Millisecond,
	}
}

func testDeployment() *entities.DeploymentEntity {
	return &entities.DeploymentEntity{
		ID:       uuid.New(),
		OrgID:    "org-1",
		Provider: entities.ProviderChainMarketA,
		Spec: entities.WorkloadSpec{
			Engine:    entities.EngineVLLM,
			Image:     "vllm/vllm-openai:v0.6.2",
			Resources: entities.ResourceRequest{GPUs: 1, VCPUs: 8, MemoryGB: 32},
			Replicas:  1,
			Port:      8000,
		},
	}
}

func noProgress(entities.DeploymentStatus) error { return nil }

func TestCreateHappyPath(t *testing.T) {
	client := &fakeChainClient{
		bids: []entities.Bid{
			{ID: "b1", ProviderAddress: "0xprov", Price: 100, CollectedAt: time.Now()},
		},
		workloadRuns: true,
		endpoint:     "https://workload.example.com",
	}
	sender := &fakeSender{}
	leases := newMemLeaseStore()
	a := New(testConfig(), client, sender, leases)

	var seen []entities.DeploymentStatus
	progress := func(s entities.DeploymentStatus) error {
		seen = append(seen, s)
		return nil
	}

	d := testDeployment()
	result, err := a.Create(context.Background(), d, progress)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.Endpoint != "https://workload.example.com" {
		t.Errorf("endpoint = %q", result.Endpoint)
	}

	if len(seen) != 2 || seen[0] != entities.DeploymentStatusBidding || seen[1] != entities.DeploymentStatusLeasing {
		t.Errorf("progress sequence = %v", seen)
	}

	lease, err := leases.GetOpenByDeploymentID(d.ID)
	if err != nil {
		t.Fatalf("lease not persisted: %v", err)
	}
	if lease.Status != entities.LeaseStatusActive {
		t.Errorf("lease status = %s, want active", lease.Status)
	}
	if !lease.ManifestSent {
		t.Error("manifest_sent not recorded")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d manifests, want 1", len(sender.sent))
	}
	if sender.sent[0].DSeq != lease.DSeq {
		t.Error("manifest dseq does not match lease dseq")
	}
}

func TestCreateNoBids(t *testing.T) {
	client := &fakeChainClient{}
	a := New(testConfig(), client, &fakeSender{}, newMemLeaseStore())

	_, err := a.Create(context.Background(), testDeployment(), noProgress)

	var perr *entities.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Reason != entities.ReasonNoBids {
		t.Errorf("reason = %s, want %s", perr.Reason, entities.ReasonNoBids)
	}
	if len(client.closed()) != 1 {
		t.Error("empty window should close the on-chain deployment")
	}
}

func TestCreateDeployTxRejected(t *testing.T) {
	client := &fakeChainClient{deployTxCode: 5}
	a := New(testConfig(), client, &fakeSender{}, newMemLeaseStore())

	_, err := a.Create(context.Background(), testDeployment(), noProgress)

	var perr *entities.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Reason != entities.ReasonDeployTxFailed {
		t.Errorf("reason = %s, want %s", perr.Reason, entities.ReasonDeployTxFailed)
	}
}

func TestCreateLeaseTxRejected(t *testing.T) {
	client := &fakeChainClient{
		bids:        []entities.Bid{{ID: "b1", ProviderAddress: "0xprov", Price: 7, CollectedAt: time.Now()}},
		leaseTxCode: 9,
	}
	a := New(testConfig(), client, &fakeSender{}, newMemLeaseStore())

	_, err := a.Create(context.Background(), testDeployment(), noProgress)

	var perr *entities.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Reason != entities.ReasonLeaseTxFailed {
		t.Errorf("reason = %s, want %s", perr.Reason, entities.ReasonLeaseTxFailed)
	}
	if client.leaseRequests != 1 {
		t.Errorf("lease broadcast attempted %d times, must never retry", client.leaseRequests)
	}
}

func TestCreateManifestRejected(t *testing.T) {
	client := &fakeChainClient{
		bids: []entities.Bid{{ID: "b1", ProviderAddress: "0xprov", Price: 7, CollectedAt: time.Now()}},
	}
	sender := &fakeSender{sendAs: errors.New("status 403: unknown certificate")}
	leases := newMemLeaseStore()
	a := New(testConfig(), client, sender, leases)

	d := testDeployment()
	_, err := a.Create(context.Background(), d, noProgress)

	var perr *entities.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Reason != entities.ReasonManifestRejected {
		t.Errorf("reason = %s, want %s", perr.Reason, entities.ReasonManifestRejected)
	}

	// The paid-for lease must be closed after the manifest was refused.
	if _, err := leases.GetOpenByDeploymentID(d.ID); !errors.Is(err, entities.ErrNotFound) {
		t.Error("lease left open after manifest rejection")
	}
}

func TestCreateStatusPollExhausted(t *testing.T) {
	client := &fakeChainClient{
		bids:         []entities.Bid{{ID: "b1", ProviderAddress: "0xprov", Price: 7, CollectedAt: time.Now()}},
		workloadRuns: false,
	}
	a := New(testConfig(), client, &fakeSender{}, newMemLeaseStore())

	_, err := a.Create(context.Background(), testDeployment(), noProgress)

	var perr *entities.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Reason != entities.ReasonStatusPollExhausted {
		t.Errorf("reason = %s, want %s", perr.Reason, entities.ReasonStatusPollExhausted)
	}
}

func TestCreateCancelledDuringBidWindow(t *testing.T) {
	client := &fakeChainClient{
		bids: []entities.Bid{{ID: "b1", ProviderAddress: "0xprov", Price: 7, CollectedAt: time.Now()}},
	}
	cfg := testConfig()
	cfg.BidWindow = 5 * time.Second
	a := New(cfg, client, &fakeSender{}, newMemLeaseStore())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := a.Create(ctx, testDeployment(), noProgress)

	var perr *entities.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Reason != entities.ReasonCancelled {
		t.Errorf("reason = %s, want %s", perr.Reason, entities.ReasonCancelled)
	}
	if len(client.closed()) != 1 {
		t.Error("cancelled attempt should close the on-chain deployment")
	}
}

func TestCreateCancelledAfterLeaseTxClosesLease(t *testing.T) {
	client := &fakeChainClient{
		bids:         []entities.Bid{{ID: "b1", ProviderAddress: "0xprov", Price: 7, CollectedAt: time.Now()}},
		workloadRuns: true,
	}
	leases := newMemLeaseStore()
	a := New(testConfig(), client, &fakeSender{}, leases)

	// Cancel right before the lease broadcast: the in-flight tx still
	// resolves, so the resulting lease must be closed, not left pending.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	progress := func(s entities.DeploymentStatus) error {
		if s == entities.DeploymentStatusLeasing {
			cancel()
		}
		return nil
	}

	d := testDeployment()
	_, err := a.Create(ctx, d, progress)

	var perr *entities.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Reason != entities.ReasonCancelled {
		t.Errorf("reason = %s, want %s", perr.Reason, entities.ReasonCancelled)
	}
	if client.leaseRequests != 1 {
		t.Errorf("lease broadcast attempted %d times, the detached tx must resolve once", client.leaseRequests)
	}
	if _, err := leases.GetOpenByDeploymentID(d.ID); !errors.Is(err, entities.ErrNotFound) {
		t.Error("lease left open after cancellation")
	}
	if len(client.closed()) != 1 {
		t.Errorf("closed %d deployments, want 1", len(client.closed()))
	}
}

func TestProgressVetoAbortsProtocol(t *testing.T) {
	client := &fakeChainClient{
		bids: []entities.Bid{{ID: "b1", ProviderAddress: "0xprov", Price: 7, CollectedAt: time.Now()}},
	}
	a := New(testConfig(), client, &fakeSender{}, newMemLeaseStore())

	veto := errors.New("deployment was terminated")
	progress := func(s entities.DeploymentStatus) error {
		if s == entities.DeploymentStatusLeasing {
			return veto
		}
		return nil
	}

	_, err := a.Create(context.Background(), testDeployment(), progress)

	var perr *entities.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Reason != entities.ReasonCancelled {
		t.Errorf("reason = %s, want %s", perr.Reason, entities.ReasonCancelled)
	}
	if client.leaseRequests != 0 {
		t.Error("lease tx must not be broadcast after a veto")
	}
}

func TestTerminateClosesOpenLease(t *testing.T) {
	client := &fakeChainClient{
		bids:         []entities.Bid{{ID: "b1", ProviderAddress: "0xprov", Price: 7, CollectedAt: time.Now()}},
		workloadRuns: true,
	}
	leases := newMemLeaseStore()
	a := New(testConfig(), client, &fakeSender{}, leases)

	d := testDeployment()
	if _, err := a.Create(context.Background(), d, noProgress); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := a.Terminate(context.Background(), d); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if _, err := leases.GetOpenByDeploymentID(d.ID); !errors.Is(err, entities.ErrNotFound) {
		t.Error("lease still open after terminate")
	}

	// Terminating again is a no-op.
	if err := a.Terminate(context.Background(), d); err != nil {
		t.Fatalf("repeat Terminate: %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	a := New(testConfig(), &fakeChainClient{}, &fakeSender{}, newMemLeaseStore())
	caps := a.Capabilities()
	if !caps.IsEphemeral {
		t.Error("marketplace compute should be ephemeral")
	}
	if caps.SupportsLogStreaming {
		t.Error("marketplace adapter has no log streaming")
	}
	if caps.AdapterType != providers.AdapterTypeChain {
		t.Errorf("adapter type = %s", caps.AdapterType)
	}
}

var _ chain.Client = (*fakeChainClient)(nil)

package cloudpool

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"github.com/tensorgrid/deploy-backend/pkg/providers"
)

type fakePoolClient struct {
	mu           sync.Mutex
	provisionErr error
	running      bool
	provisioned  []ProvisionRequest
	terminated   []string
}

func (f *fakePoolClient) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.provisionErr != nil {
		return nil, f.provisionErr
	}
	f.provisioned = append(f.provisioned, req)
	return &ProvisionResponse{
		ContainerID: "ctr-1",
		Endpoint:    "https://" + req.NodeID + ".pool.example.com:30080",
	}, nil
}

func (f *fakePoolClient) Terminate(ctx context.Context, nodeID, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, containerID)
	return nil
}

func (f *fakePoolClient) ContainerRunning(ctx context.Context, nodeID, containerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

func (f *fakePoolClient) StreamLogs(ctx context.Context, nodeID, containerID string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("log line\n")), nil
}

type memInventory struct {
	mu         sync.Mutex
	nodes      map[string]*entities.Node
	placements map[uuid.UUID]*Placement
}

func newMemInventory(nodes ...entities.Node) *memInventory {
	inv := &memInventory{
		nodes:      map[string]*entities.Node{},
		placements: map[uuid.UUID]*Placement{},
	}
	for i := range nodes {
		n := nodes[i]
		inv.nodes[n.ID] = &n
	}
	return inv
}

func (inv *memInventory) GetPool(poolID string) (*entities.ComputePool, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	pool := &entities.ComputePool{ID: poolID}
	for _, n := range inv.nodes {
		if n.PoolID == poolID {
			pool.Nodes = append(pool.Nodes, *n)
		}
	}
	if len(pool.Nodes) == 0 {
		return nil, entities.ErrNotFound
	}
	return pool, nil
}

func (inv *memInventory) FindNodeWithCapacity(r entities.ResourceRequest) (*entities.Node, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for _, n := range inv.nodes {
		if n.State == entities.NodeStateReady && n.CanFit(r) {
			cp := *n
			return &cp, nil
		}
	}
	return nil, entities.ErrNotFound
}

func (inv *memInventory) Allocate(nodeID string, r entities.ResourceRequest) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	n, ok := inv.nodes[nodeID]
	if !ok || !n.CanFit(r) {
		return errors.New("node capacity changed, allocation lost")
	}
	n.GPUAllocated += r.GPUs
	n.VCPUAllocated += r.VCPUs
	return nil
}

func (inv *memInventory) Release(nodeID string, r entities.ResourceRequest) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if n, ok := inv.nodes[nodeID]; ok {
		n.GPUAllocated -= r.GPUs
		n.VCPUAllocated -= r.VCPUs
	}
	return nil
}

func (inv *memInventory) SavePlacement(p *Placement) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	cp := *p
	inv.placements[p.DeploymentID] = &cp
	return nil
}

func (inv *memInventory) GetPlacement(deploymentID uuid.UUID) (*Placement, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	p, ok := inv.placements[deploymentID]
	if !ok {
		return nil, entities.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (inv *memInventory) DeletePlacement(deploymentID uuid.UUID) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	delete(inv.placements, deploymentID)
	return nil
}

func readyNode() entities.Node {
	return entities.Node{
		ID:        "node-1",
		PoolID:    "pool-1",
		State:     entities.NodeStateReady,
		GPUTotal:  8,
		VCPUTotal: 64,
		ExposeURL: "https://node-1.pool.example.com",
	}
}

func testDeployment() *entities.DeploymentEntity {
	return &entities.DeploymentEntity{
		ID:       uuid.New(),
		OrgID:    "org-1",
		Provider: entities.ProviderCloudPool,
		Spec: entities.WorkloadSpec{
			Engine:    entities.EngineTEI,
			Image:     "ghcr.io/huggingface/text-embeddings-inference:1.5",
			Resources: entities.ResourceRequest{GPUs: 2, VCPUs: 16, MemoryGB: 64},
			Replicas:  1,
			Port:      8080,
		},
	}
}

func noProgress(entities.DeploymentStatus) error { return nil }

func TestCreateAllocatesAndProvisions(t *testing.T) {
	client := &fakePoolClient{running: true}
	inv := newMemInventory(readyNode())
	a := New(client, inv)

	d := testDeployment()
	result, err := a.Create(context.Background(), d, noProgress)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.Endpoint != "https://node-1.pool.example.com:30080" {
		t.Errorf("endpoint = %q", result.Endpoint)
	}

	n := inv.nodes["node-1"]
	if n.GPUAllocated != 2 || n.VCPUAllocated != 16 {
		t.Errorf("allocation = %d gpu / %d vcpu", n.GPUAllocated, n.VCPUAllocated)
	}

	p, err := inv.GetPlacement(d.ID)
	if err != nil {
		t.Fatalf("placement not saved: %v", err)
	}
	if p.NodeID != "node-1" || p.ContainerID != "ctr-1" {
		t.Errorf("placement = %+v", p)
	}
}

func TestCreateCapacityExhausted(t *testing.T) {
	node := readyNode()
	node.GPUTotal = 1
	a := New(&fakePoolClient{}, newMemInventory(node))

	_, err := a.Create(context.Background(), testDeployment(), noProgress)

	var perr *entities.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Reason != entities.ReasonCapacityExhausted {
		t.Errorf("reason = %s, want %s", perr.Reason, entities.ReasonCapacityExhausted)
	}
}

func TestCreateReleasesAllocationOnProvisionFailure(t *testing.T) {
	client := &fakePoolClient{provisionErr: errors.New("image pull failed")}
	inv := newMemInventory(readyNode())
	a := New(client, inv)

	_, err := a.Create(context.Background(), testDeployment(), noProgress)

	var perr *entities.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Reason != entities.ReasonProvisionFailed {
		t.Errorf("reason = %s, want %s", perr.Reason, entities.ReasonProvisionFailed)
	}

	n := inv.nodes["node-1"]
	if n.GPUAllocated != 0 || n.VCPUAllocated != 0 {
		t.Errorf("allocation leaked: %d gpu / %d vcpu", n.GPUAllocated, n.VCPUAllocated)
	}
}

func TestTerminateReleasesAndIsIdempotent(t *testing.T) {
	client := &fakePoolClient{running: true}
	inv := newMemInventory(readyNode())
	a := New(client, inv)

	d := testDeployment()
	if _, err := a.Create(context.Background(), d, noProgress); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := a.Terminate(context.Background(), d); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	n := inv.nodes["node-1"]
	if n.GPUAllocated != 0 || n.VCPUAllocated != 0 {
		t.Errorf("allocation not released: %d gpu / %d vcpu", n.GPUAllocated, n.VCPUAllocated)
	}
	if _, err := inv.GetPlacement(d.ID); !errors.Is(err, entities.ErrNotFound) {
		t.Error("placement not removed")
	}

	// Second terminate finds no placement and succeeds.
	if err := a.Terminate(context.Background(), d); err != nil {
		t.Fatalf("repeat Terminate: %v", err)
	}
	if len(client.terminated) != 1 {
		t.Errorf("container terminated %d times, want 1", len(client.terminated))
	}
}

func TestStatusReflectsContainerState(t *testing.T) {
	client := &fakePoolClient{running: true}
	inv := newMemInventory(readyNode())
	a := New(client, inv)

	d := testDeployment()
	if _, err := a.Create(context.Background(), d, noProgress); err != nil {
		t.Fatalf("Create: %v", err)
	}

	status, err := a.Status(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if status != entities.DeploymentStatusActive {
		t.Errorf("status = %s, want Active", status)
	}

	client.running = false
	status, err = a.Status(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if status != entities.DeploymentStatusFailed {
		t.Errorf("status = %s, want Failed", status)
	}
}

func TestCapabilities(t *testing.T) {
	a := New(&fakePoolClient{}, newMemInventory())
	caps := a.Capabilities()
	if caps.IsEphemeral {
		t.Error("pool compute is not ephemeral")
	}
	if !caps.SupportsLogStreaming {
		t.Error("pool adapter streams logs")
	}
	if caps.AdapterType != providers.AdapterTypeCloud {
		t.Errorf("adapter type = %s", caps.AdapterType)
	}
}

var _ PoolClient = (*fakePoolClient)(nil)
var _ InventoryStore = (*memInventory)(nil)

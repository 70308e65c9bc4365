package entities

// Node is one machine in a managed compute pool. Allocation counters are
// updated by the cloud pool adapter on every create/terminate.
type Node struct {
	ID            string    `json:"id"`
	PoolID        string    `json:"poolId"`
	State         NodeState `json:"state"`
	GPUAllocated  int       `json:"gpuAllocated"`
	GPUTotal      int       `json:"gpuTotal"`
	VCPUAllocated int       `json:"vcpuAllocated"`
	VCPUTotal     int       `json:"vcpuTotal"`
	ExposeURL     string    `json:"exposeUrl"`
}

// CanFit reports whether the node has spare capacity for the request.
func (n *Node) CanFit(r ResourceRequest) bool {
	if n.State != NodeStateReady {
		return false
	}
	return n.GPUAllocated+r.GPUs <= n.GPUTotal &&
		n.VCPUAllocated+r.VCPUs <= n.VCPUTotal
}

// ComputePool is a pre-provisioned set of nodes on the cloud back end.
type ComputePool struct {
	ID    string `json:"poolId"`
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
}

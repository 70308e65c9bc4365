// Package manifest compiles workload specs into the marketplace's
// declarative manifest format and delivers them to the winning provider over
// a mutually authenticated channel.
package manifest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
)

// Manifest is the marketplace's declarative resource/service description.
type Manifest struct {
	Version  string    `json:"version"`
	DSeq     uint64    `json:"dseq"`
	Services []Service `json:"services"`
}

// Service describes one container the provider must run.
type Service struct {
	Name      string            `json:"name"`
	Image     string            `json:"image"`
	Command   []string          `json:"command,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Count     int               `json:"count"`
	Resources Resources         `json:"resources"`
	Expose    []Expose          `json:"expose"`
}

// Resources is the per-replica resource profile in marketplace units.
type Resources struct {
	GPU       int    `json:"gpu"`
	CPUMilli  int    `json:"cpuMilli"`
	MemoryMiB int    `json:"memoryMib"`
	DiskMiB   int    `json:"diskMib"`
	GPUVendor string `json:"gpuVendor,omitempty"`
}

// Expose maps a container port to a globally reachable service.
type Expose struct {
	Port   int  `json:"port"`
	AsPort int  `json:"asPort"`
	Global bool `json:"global"`
}

// Compile translates a workload spec into the marketplace manifest. The
// service name doubles as the workload identity on the provider side.
func Compile(spec entities.WorkloadSpec, dseq uint64) (*Manifest, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	env := map[string]string{}
	for k, v := range spec.Env {
		env[k] = v
	}
	if spec.InferenceModel != "" {
		env["MODEL_ID"] = spec.InferenceModel
	}

	svc := Service{
		Name:    fmt.Sprintf("%s-%d", spec.Engine, dseq),
		Image:   spec.Image,
		Command: spec.Command,
		Env:     env,
		Count:   spec.Replicas,
		Resources: Resources{
			GPU:       spec.Resources.GPUs,
			CPUMilli:  spec.Resources.VCPUs * 1000,
			MemoryMiB: spec.Resources.MemoryGB * 1024,
			DiskMiB:   spec.Resources.StorageGB * 1024,
			GPUVendor: "nvidia",
		},
		Expose: []Expose{
			{Port: spec.Port, AsPort: 80, Global: true},
		},
	}

	return &Manifest{
		Version:  "v2",
		DSeq:     dseq,
		Services: []Service{svc},
	}, nil
}

// Hash returns the hex-encoded keccak256 of the canonical JSON encoding.
// The deployment transaction commits to this hash on-chain.
func (m *Manifest) Hash() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("manifest: marshal for hash: %w", err)
	}
	return hex.EncodeToString(ethcrypto.Keccak256(data)), nil
}

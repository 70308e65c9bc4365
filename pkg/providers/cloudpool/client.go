// Package cloudpool provisions containers on a pre-existing managed
// instance pool through a synchronous API, and maintains the pool inventory
// as a side effect of create/terminate.
package cloudpool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
)

// ProvisionRequest asks the pool API to start a container on a node.
type ProvisionRequest struct {
	NodeID   string            `json:"nodeId"`
	Image    string            `json:"image"`
	Command  []string          `json:"command,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	GPUs     int               `json:"gpus"`
	VCPUs    int               `json:"vcpus"`
	MemoryGB int               `json:"memoryGb"`
	Replicas int               `json:"replicas"`
	Port     int               `json:"port"`
	Model    string            `json:"model,omitempty"`
}

// ProvisionResponse is the pool API's answer to a successful provision.
type ProvisionResponse struct {
	ContainerID string `json:"containerId"`
	Endpoint    string `json:"endpoint"`
}

// PoolClient is the managed pool's provisioning surface.
type PoolClient interface {
	Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error)
	Terminate(ctx context.Context, nodeID, containerID string) error
	ContainerRunning(ctx context.Context, nodeID, containerID string) (bool, error)
	StreamLogs(ctx context.Context, nodeID, containerID string) (io.ReadCloser, error)
}

// HTTPPoolClient talks to the pool control plane over HTTPS with a bearer
// token, and to node log endpoints over websocket.
type HTTPPoolClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPPoolClient(baseURL, token string) *HTTPPoolClient {
	return &HTTPPoolClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *HTTPPoolClient) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error) {
	respBody, err := c.do(ctx, http.MethodPost, "/containers", req)
	if err != nil {
		return nil, err
	}
	var resp ProvisionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("cloudpool: decode provision response: %w", err)
	}
	return &resp, nil
}

func (c *HTTPPoolClient) Terminate(ctx context.Context, nodeID, containerID string) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/nodes/%s/containers/%s", nodeID, containerID), nil)
	return err
}

func (c *HTTPPoolClient) ContainerRunning(ctx context.Context, nodeID, containerID string) (bool, error) {
	respBody, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/nodes/%s/containers/%s", nodeID, containerID), nil)
	if err != nil {
		return false, err
	}
	var status struct {
		Running bool `json:"running"`
	}
	if err := json.Unmarshal(respBody, &status); err != nil {
		return false, fmt.Errorf("cloudpool: decode container status: %w", err)
	}
	return status.Running, nil
}

// StreamLogs opens a websocket to the node's log endpoint and adapts the
// message stream into an io.ReadCloser. Closing the reader closes the
// connection.
func (c *HTTPPoolClient) StreamLogs(ctx context.Context, nodeID, containerID string) (io.ReadCloser, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) +
		fmt.Sprintf("/nodes/%s/containers/%s/logs", nodeID, containerID)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, &entities.TransientError{Err: fmt.Errorf("cloudpool: dial log stream: %w", err)}
	}

	pr, pw := io.Pipe()
	go func() {
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			if _, err := pw.Write(append(msg, '\n')); err != nil {
				return
			}
		}
	}()

	return pr, nil
}

func (c *HTTPPoolClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("cloudpool: marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("cloudpool: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &entities.TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &entities.TransientError{Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &entities.TransientError{Err: fmt.Errorf("cloudpool: %s %s: status %d: %s", method, path, resp.StatusCode, respBody)}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("cloudpool: %s %s: status %d: %s", method, path, resp.StatusCode, respBody)
	}

	return respBody, nil
}

var _ PoolClient = (*HTTPPoolClient)(nil)

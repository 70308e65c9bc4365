package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
)

// TxResult is the outcome of a broadcast transaction. A non-zero Code means
// the transaction was rejected by the chain; RawLog carries the chain's own
// error text.
type TxResult struct {
	TxHash string `json:"txHash"`
	Code   uint32 `json:"code"`
	RawLog string `json:"rawLog"`
}

// WorkloadStatus is what a marketplace provider reports about a leased
// workload.
type WorkloadStatus struct {
	Running  bool   `json:"running"`
	Endpoint string `json:"endpoint"`
}

// Client is the marketplace protocol surface the bid/lease adapter needs.
// The HTTP implementation below talks to a real chain gateway; tests use a
// fake.
type Client interface {
	// BroadcastDeployment creates the on-chain deployment record for dseq.
	BroadcastDeployment(ctx context.Context, dseq uint64, manifestHash string) (*TxResult, error)
	// BroadcastLease binds the deployment to the selected bid's provider.
	BroadcastLease(ctx context.Context, dseq uint64, providerAddress string, price uint64) (*TxResult, error)
	// BroadcastClose closes the on-chain deployment record. Best-effort.
	BroadcastClose(ctx context.Context, dseq uint64) (*TxResult, error)
	// QueryBids returns the open bids against dseq collected so far.
	QueryBids(ctx context.Context, deploymentID uuid.UUID, dseq uint64) ([]entities.Bid, error)
	// QueryProviderEndpoint resolves a provider's ingress URL.
	QueryProviderEndpoint(ctx context.Context, providerAddress string) (string, error)
	// QueryWorkloadStatus asks the provider whether the workload is running.
	QueryWorkloadStatus(ctx context.Context, providerAddress string, dseq uint64) (*WorkloadStatus, error)
}

// HTTPClient implements Client against a marketplace RPC gateway plus a
// read-only query endpoint. Every broadcast payload is signed with the
// wallet key before submission.
type HTTPClient struct {
	rpcURL     string
	queryURL   string
	signer     *Signer
	httpClient *http.Client
}

func NewHTTPClient(rpcURL, queryURL string, signer *Signer) *HTTPClient {
	return &HTTPClient{
		rpcURL:   rpcURL,
		queryURL: queryURL,
		signer:   signer,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HTTPClient) BroadcastDeployment(ctx context.Context, dseq uint64, manifestHash string) (*TxResult, error) {
	return c.broadcast(ctx, "/tx/deployment/create", map[string]any{
		"dseq":         dseq,
		"manifestHash": manifestHash,
	})
}

func (c *HTTPClient) BroadcastLease(ctx context.Context, dseq uint64, providerAddress string, price uint64) (*TxResult, error) {
	return c.broadcast(ctx, "/tx/lease/create", map[string]any{
		"dseq":     dseq,
		"provider": providerAddress,
		"price":    price,
	})
}

func (c *HTTPClient) BroadcastClose(ctx context.Context, dseq uint64) (*TxResult, error) {
	return c.broadcast(ctx, "/tx/deployment/close", map[string]any{
		"dseq": dseq,
	})
}

// broadcast signs and submits one transaction. Broadcasts are never retried
// here: a duplicate broadcast risks duplicate on-chain spend, so transient
// failures surface to the caller as-is.
func (c *HTTPClient) broadcast(ctx context.Context, path string, msg map[string]any) (*TxResult, error) {
	msg["owner"] = c.signer.Address().Hex()

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("chain: marshal tx: %w", err)
	}

	sig, err := c.signer.Sign(payload)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]any{
		"tx":        json.RawMessage(payload),
		"signature": sig,
	})
	if err != nil {
		return nil, fmt.Errorf("chain: marshal envelope: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, c.rpcURL+path, body)
	if err != nil {
		return nil, err
	}

	var result TxResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("chain: decode tx result: %w", err)
	}
	return &result, nil
}

func (c *HTTPClient) QueryBids(ctx context.Context, deploymentID uuid.UUID, dseq uint64) ([]entities.Bid, error) {
	respBody, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/bids?owner=%s&dseq=%d", c.queryURL, url.QueryEscape(c.signer.Address().Hex()), dseq), nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Bids []struct {
			ID          string    `json:"id"`
			Provider    string    `json:"provider"`
			Price       uint64    `json:"price"`
			CollectedAt time.Time `json:"collectedAt"`
		} `json:"bids"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("chain: decode bids: %w", err)
	}

	bids := make([]entities.Bid, 0, len(raw.Bids))
	for _, b := range raw.Bids {
		bids = append(bids, entities.Bid{
			ID:              b.ID,
			DeploymentID:    deploymentID,
			ProviderAddress: b.Provider,
			Price:           b.Price,
			CollectedAt:     b.CollectedAt,
		})
	}
	return bids, nil
}

func (c *HTTPClient) QueryProviderEndpoint(ctx context.Context, providerAddress string) (string, error) {
	respBody, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/providers/%s", c.queryURL, url.PathEscape(providerAddress)), nil)
	if err != nil {
		return "", err
	}

	var raw struct {
		HostURI string `json:"hostUri"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return "", fmt.Errorf("chain: decode provider: %w", err)
	}
	return raw.HostURI, nil
}

func (c *HTTPClient) QueryWorkloadStatus(ctx context.Context, providerAddress string, dseq uint64) (*WorkloadStatus, error) {
	respBody, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/providers/%s/workloads/%d", c.queryURL, url.PathEscape(providerAddress), dseq), nil)
	if err != nil {
		return nil, err
	}

	var status WorkloadStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return nil, fmt.Errorf("chain: decode workload status: %w", err)
	}
	return &status, nil
}

// do executes one HTTP call. Network failures and 5xx responses are wrapped
// as TransientError so callers can retry queries with backoff; 4xx responses
// are permanent.
func (c *HTTPClient) do(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("chain: build request: %w", err)
	}
	if body != nil {
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
		return nil, &entities.TransientError{Err: fmt.Errorf("chain: %s %s: status %d: %s", method, rawURL, resp.StatusCode, respBody)}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("chain: %s %s: status %d: %s", method, rawURL, resp.StatusCode, respBody)
	}

	return respBody, nil
}

var _ Client = (*HTTPClient)(nil)

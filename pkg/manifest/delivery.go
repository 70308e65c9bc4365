package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
)

// Sender pushes a compiled manifest to a provider's private ingress.
type Sender interface {
	Send(ctx context.Context, providerEndpoint string, m *Manifest) error
}

// Deliverer implements Sender over HTTPS with the client certificate from
// the CertStore. The certificate authenticates the data plane; the wallet
// key never touches this channel.
type Deliverer struct {
	certs   *CertStore
	timeout time.Duration
}

func NewDeliverer(certs *CertStore) *Deliverer {
	return &Deliverer{certs: certs, timeout: 30 * time.Second}
}

// Send PUTs the manifest to the provider. A handshake or transport failure
// is transient (retryable); a non-2xx response means the provider rejected
// the manifest and is permanent for this attempt.
func (d *Deliverer) Send(ctx context.Context, providerEndpoint string, m *Manifest) error {
	tlsCfg, err := d.certs.TLSConfig(time.Now())
	if err != nil {
		return err
	}

	client := &http.Client{
		Timeout: d.timeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsCfg,
		},
	}

	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/deployment/%d/manifest", providerEndpoint, m.DSeq)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("manifest: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &entities.TransientError{Err: fmt.Errorf("manifest: send to %s: %w", providerEndpoint, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("manifest: provider rejected manifest: status %d: %s", resp.StatusCode, respBody)
	}

	return nil
}

var _ Sender = (*Deliverer)(nil)

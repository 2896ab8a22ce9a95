package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/courierclub/courier/internal/resilience"
)

// BackendClient is the registry's view of the verification backend.
type BackendClient interface {
	// ListPending fetches the pending verifications for the customer the
	// client is bound to.
	ListPending(ctx context.Context) ([]*Entry, error)

	// SubmitDecision records an approval or rejection on the backend.
	SubmitDecision(ctx context.Context, id uuid.UUID, approved bool) error
}

// HTTPBackend talks to the verification service over the resilient HTTP
// client, so calls inherit its retry, dedup and degradation behavior.
type HTTPBackend struct {
	baseURL string
	client  *resilience.Client
}

func NewHTTPBackend(baseURL string, client *resilience.Client) *HTTPBackend {
	return &HTTPBackend{baseURL: baseURL, client: client}
}

func (b *HTTPBackend) ListPending(ctx context.Context) ([]*Entry, error) {
	var payload struct {
		Data []*Entry `json:"data"`
	}
	resp, err := b.client.Do(ctx, http.MethodGet, b.baseURL+"/verifications", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing verifications returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode verifications: %w", err)
	}
	return payload.Data, nil
}

func (b *HTTPBackend) SubmitDecision(ctx context.Context, id uuid.UUID, approved bool) error {
	body, err := json.Marshal(map[string]bool{"approved": approved})
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}

	url := fmt.Sprintf("%s/verifications/%s/decision", b.baseURL, id)
	resp, err := b.client.Do(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("decision submission returned status %d", resp.StatusCode)
	}
	return nil
}

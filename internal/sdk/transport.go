package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pulse/internal/event"
	"pulse/internal/queue"
	dErrors "pulse/pkg/domain-errors"
)

// BatchRequest is the wire payload for one ingestion round trip. Batch-level
// metadata travels separately from the per-event payloads so the backend can
// short-circuit empty batches.
type BatchRequest struct {
	Events    []event.Event `json:"events"`
	SessionID string        `json:"sessionId,omitempty"`
	UserID    string        `json:"userId,omitempty"`
	Count     int           `json:"count"`
	Timestamp time.Time     `json:"timestamp"`
}

// BatchResponse echoes per-event acceptance from the backend.
type BatchResponse struct {
	Results []queue.Result `json:"results"`
}

// HTTPTransport sends one batch per call to the ingestion endpoint. It is
// stateless; the queue owns all retry behavior. A non-2xx status or network
// error is a whole-batch failure.
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPTransport builds a transport with a bounded per-call timeout so a
// stalled network call cannot wedge the retry loop.
func NewHTTPTransport(endpoint, apiKey string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// SendBatch implements queue.Transport.
func (t *HTTPTransport) SendBatch(ctx context.Context, events []event.Event) ([]queue.Result, error) {
	if len(events) == 0 {
		return nil, nil
	}

	req := BatchRequest{
		Events:    events,
		SessionID: events[0].SessionID,
		UserID:    events[0].UserID,
		Count:     len(events),
		Timestamp: time.Now().UTC(),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode batch")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build batch request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "send batch")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, dErrors.New(dErrors.CodeTransport, fmt.Sprintf("ingestion endpoint returned %d", resp.StatusCode))
	}

	var decoded BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "decode batch response")
	}
	if len(decoded.Results) == 0 {
		// Older backends ack without per-event detail; treat as all accepted.
		results := make([]queue.Result, len(events))
		for i, e := range events {
			results[i] = queue.Result{EventID: e.ID, Accepted: true}
		}
		return results, nil
	}
	return decoded.Results, nil
}

package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ExpoGateway sends push messages through the Expo push HTTP API.
type ExpoGateway struct {
	endpoint    string
	accessToken string
	client      *http.Client
}

// NewExpoGateway creates a gateway posting to endpoint.
func NewExpoGateway(endpoint, accessToken string, timeout time.Duration) *ExpoGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExpoGateway{
		endpoint:    endpoint,
		accessToken: accessToken,
		client:      &http.Client{Timeout: timeout},
	}
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

type expoResponse struct {
	Data   []expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Send posts one chunk. A chunk fails if the request fails, the service
// rejects it, or any ticket comes back with an error status.
func (g *ExpoGateway) Send(ctx context.Context, messages []Message) error {
	body, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode push messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if g.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+g.accessToken)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read push response: %w", err)
	}

	var parsed expoResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode == http.StatusOK {
			return fmt.Errorf("decode push response: %w", err)
		}
	}

	if resp.StatusCode != http.StatusOK {
		if len(parsed.Errors) > 0 {
			return fmt.Errorf("push service returned %d: %s", resp.StatusCode, parsed.Errors[0].Message)
		}
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	if len(parsed.Errors) > 0 {
		return fmt.Errorf("push service error %s: %s", parsed.Errors[0].Code, parsed.Errors[0].Message)
	}

	failed := 0
	var first string
	for _, ticket := range parsed.Data {
		if ticket.Status == "error" {
			if failed == 0 {
				first = ticket.Message
			}
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d push tickets failed: %s", failed, len(messages), first)
	}
	return nil
}

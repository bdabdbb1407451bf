package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"inboxpilot/internal/config"
	"inboxpilot/internal/model"
)

// Gateway is the HTTP client for the device push service. Device token
// registration lives on the gateway side; the pipeline only addresses users.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
}

func NewGateway(cfg config.PushConfig) *Gateway {
	return &Gateway{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type sendResponse struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// SendToUser delivers the payload to every registered device of the user.
// Returns how many devices the gateway reached and how many failed.
func (g *Gateway) SendToUser(ctx context.Context, userID int, payload model.PushPayload) (int, int, error) {
	b, err := json.Marshal(map[string]any{
		"user_id": userID,
		"payload": payload,
	})
	if err != nil {
		return 0, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/push/user", bytes.NewReader(b))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return 0, 0, fmt.Errorf("push gateway 5xx: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("push gateway error: %d", resp.StatusCode)
	}

	var sr sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return 0, 0, err
	}
	return sr.Sent, sr.Failed, nil
}

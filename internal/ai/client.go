package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"inboxpilot/internal/config"
	"inboxpilot/pkg/circuitbreaker"
)

const healthCacheTTL = 30 * time.Second

// Options controls a single completion call.
type Options struct {
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// Client talks to the inference sidecar. Calls carry a short timeout and run
// behind a circuit breaker; when the breaker is open or the health probe
// fails, Available reports false and callers switch to rule-based fallbacks.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger

	mu          sync.Mutex
	lastProbe   time.Time
	lastHealthy bool
}

func NewClient(cfg config.AIConfig, logger *zap.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second // 避免分析流程卡死
	}

	return &Client{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:  logger,
	}
}

// Available reports whether the backend should be attempted at all.
// The health probe result is cached so concurrent sub-checks within one
// analysis don't each hit /health.
func (c *Client) Available(ctx context.Context) bool {
	if !c.breaker.Allow() {
		return false
	}

	c.mu.Lock()
	if time.Since(c.lastProbe) < healthCacheTTL {
		healthy := c.lastHealthy
		c.mu.Unlock()
		return healthy
	}
	c.mu.Unlock()

	healthy := c.probeHealth(ctx)

	c.mu.Lock()
	c.lastProbe = time.Now()
	c.lastHealthy = healthy
	c.mu.Unlock()

	return healthy
}

func (c *Client) probeHealth(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Inference health probe failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

type completeRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type completeResponse struct {
	Text string `json:"text"`
}

// Complete sends a prompt and returns the raw completion text.
func (c *Client) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	var text string

	err := c.breaker.Execute(func() error {
		b, err := json.Marshal(completeRequest{
			Model:       c.model,
			Prompt:      prompt,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/complete", bytes.NewReader(b))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			// 可重试错误
			return fmt.Errorf("inference service 5xx: %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("inference service error: %d", resp.StatusCode)
		}

		var cr completeResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return err
		}
		text = cr.Text
		return nil
	})
	if err != nil {
		return "", err
	}

	return text, nil
}

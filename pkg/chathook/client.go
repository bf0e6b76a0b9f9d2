package chathook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config 聊天 Webhook 客户端配置
type Config struct {
	Timeout time.Duration `yaml:"timeout"`
}

func DefaultConfig() *Config {
	return &Config{Timeout: 10 * time.Second}
}

// Client posts JSON payloads to incoming-webhook style endpoints (Slack
// compatible chat hooks and tenant-supplied custom webhooks). The endpoint
// URL comes from the rule's action params, not from configuration.
type Client struct {
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// PostMessage posts a chat notification in the incoming-webhook format.
func (c *Client) PostMessage(ctx context.Context, webhookURL, text string) error {
	return c.post(ctx, webhookURL, map[string]interface{}{"text": text})
}

// Call posts an arbitrary JSON payload to a tenant-supplied webhook.
func (c *Client) Call(ctx context.Context, url string, payload map[string]interface{}) error {
	return c.post(ctx, url, payload)
}

func (c *Client) post(ctx context.Context, url string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "CRMFlow-Webhook-Client/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	c.logger.Debugf("Webhook Response: %d %s", resp.StatusCode, string(respBody))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook error [%d]", resp.StatusCode)
	}
	return nil
}

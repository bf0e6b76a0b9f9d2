package mailer

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

// Config 邮件中继配置
type Config struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	From    string        `yaml:"from"`
	Timeout time.Duration `yaml:"timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		BaseURL: "http://localhost:8025",
		From:    "no-reply@crmflow.local",
		Timeout: 15 * time.Second,
	}
}

// Client talks to the transactional mail relay. Rendering and actual SMTP
// delivery live behind the relay; this client only submits messages.
type Client struct {
	baseURL    string
	apiKey     string
	from       string
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
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		from:    config.From,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SendEmail submits one message to the relay.
func (c *Client) SendEmail(ctx context.Context, to, subject, html string) error {
	body, err := json.Marshal(sendRequest{From: c.from, To: to, Subject: subject, HTML: html})
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("User-Agent", "CRMFlow-Mailer-Client/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	c.logger.Debugf("Mailer API Response: %d %s", resp.StatusCode, string(respBody))

	if resp.StatusCode >= 400 {
		var errResp apiError
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("mail relay error [%d]: %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("mail relay error [%d]", resp.StatusCode)
	}
	return nil
}

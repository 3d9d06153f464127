// Package openrouter drafts supplier outreach emails and reads supplier
// correspondence through the OpenRouter chat completions API.
package openrouter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

const (
	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	// DefaultModel is used when no model is configured.
	DefaultModel = "google/gemini-2.5-flash-lite"
)

const systemPrompt = "You are an email drafting assistant for a government parts procurement team. " +
	"Write a short, professional request for quotation addressed to a parts supplier. " +
	"Keep the tone businesslike but friendly. Do not include a subject line, just the email body."

// Config holds client configuration.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	Logger      *zap.Logger
}

// Client implements sourcing.Drafter.
type Client struct {
	client   *resty.Client
	endpoint string
	cfg      Config
	logger   *zap.Logger
}

// NewClient builds a client. It fails without an API key.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openrouter: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New()
	client.SetAuthToken(cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(cfg.Timeout)
	client.SetRetryCount(0)

	return &Client{
		client:   client,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		cfg:      cfg,
		logger:   logger,
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Draft writes an RFQ email to supplier for item.
func (c *Client) Draft(ctx context.Context, item nsn.NSN, supplier sourcing.Supplier) (string, error) {
	draft, err := c.complete(ctx, []message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: UserPrompt(item, supplier)},
	}, c.cfg.MaxTokens, c.cfg.Temperature)
	if err != nil {
		return "", err
	}
	c.logger.Debug("drafted outreach email",
		zap.String("nsn", item.String()),
		zap.String("supplier", supplier.Name),
		zap.Int("chars", len(draft)),
	)
	return draft, nil
}

// complete sends one chat completion and returns the trimmed reply.
func (c *Client) complete(ctx context.Context, messages []message, maxTokens int, temperature float64) (string, error) {
	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	var out chatResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("call openrouter: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode())
		if out.Error != nil {
			msg += ": " + out.Error.Message
		}
		return "", fmt.Errorf("openrouter returned error: %s", msg)
	}
	if out.Error != nil {
		return "", fmt.Errorf("openrouter error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openrouter: no choices in response")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// UserPrompt lists what the drafter knows about the item and supplier.
func UserPrompt(item nsn.NSN, supplier sourcing.Supplier) string {
	var b strings.Builder
	b.WriteString("Draft an email requesting a quote.\n\nContext:\n")
	fmt.Fprintf(&b, "- NSN: %s\n", item.Dashed())
	fmt.Fprintf(&b, "- Supplier: %s\n", supplier.Name)
	if cage := supplier.PrimaryCAGE(); cage != "" {
		fmt.Fprintf(&b, "- CAGE code: %s\n", cage)
	}
	if len(supplier.PartNumbers) > 0 {
		fmt.Fprintf(&b, "- Part numbers: %s\n", strings.Join(supplier.PartNumbers, ", "))
	}
	for _, p := range supplier.Contact.Persons {
		if p.Name != "" {
			fmt.Fprintf(&b, "- Contact person: %s\n", p.Name)
			break
		}
	}
	return b.String()
}

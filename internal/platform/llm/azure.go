package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var _ Completer = (*AzureClient)(nil)

// AzureConfig holds the settings for an Azure OpenAI deployment.
type AzureConfig struct {
	Endpoint   string
	Deployment string
	APIKey     string
	APIVersion string
	Timeout    time.Duration
}

// AzureClient implements Completer against the Azure OpenAI chat-completions API.
type AzureClient struct {
	endpoint   string
	deployment string
	apiKey     string
	apiVersion string
	client     *http.Client
}

// NewAzureClient creates a client for cfg. Endpoint, deployment, and key are required.
func NewAzureClient(cfg AzureConfig) (*AzureClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure openai endpoint is required")
	}
	if cfg.Deployment == "" {
		return nil, fmt.Errorf("azure openai deployment is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("azure openai API key is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-02-01"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	endpoint := cfg.Endpoint
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}

	return &AzureClient{
		endpoint:   endpoint,
		deployment: cfg.Deployment,
		apiKey:     cfg.APIKey,
		apiVersion: cfg.APIVersion,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// Deployment returns the deployment name requests are sent to.
func (c *AzureClient) Deployment() string { return c.deployment }

// APIVersion returns the api-version query parameter in use.
func (c *AzureClient) APIVersion() string { return c.apiVersion }

// Close releases idle connections.
func (c *AzureClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

type chatRequest struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

func (c *AzureClient) url() string {
	return fmt.Sprintf("%sopenai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, url.PathEscape(c.deployment), url.QueryEscape(c.apiVersion))
}

// Complete sends req and returns the first choice.
func (c *AzureClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	body, err := json.Marshal(chatRequest{Messages: req.Messages, Temperature: req.Temperature})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("azure openai returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("azure openai error: %s (type: %s, code: %s)",
			chatResp.Error.Message, chatResp.Error.Type, chatResp.Error.Code)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("azure openai returned status %d", resp.StatusCode)
	}
	if len(chatResp.Choices) == 0 || strings.TrimSpace(chatResp.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyCompletion
	}

	return &Completion{
		Content:          chatResp.Choices[0].Message.Content,
		Model:            chatResp.Model,
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
		TotalTokens:      chatResp.Usage.TotalTokens,
	}, nil
}

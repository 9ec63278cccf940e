package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

const anthropicAPIBase = "https://api.anthropic.com/v1"

// AnthropicConnection generates text through the Anthropic messages API.
type AnthropicConnection struct {
	actionSet
	model   string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewAnthropicConnection validates the profile block and registers the LLM
// action table.
func NewAnthropicConnection(cfg Config, logger *zap.Logger) (*AnthropicConnection, error) {
	var ac struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(cfg.Raw, &ac); err != nil {
		return nil, fmt.Errorf("parse anthropic config: %w", err)
	}
	if ac.Model == "" {
		return nil, errors.New("anthropic config requires a model")
	}

	c := &AnthropicConnection{
		model:   ac.Model,
		baseURL: anthropicAPIBase,
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  logger,
	}
	c.actionSet = newActionSet(
		Action{
			Name:        "generate-text",
			Description: "Generate text using Anthropic models",
			Parameters: []ActionParameter{
				{Name: "prompt", Required: true, Type: ParamString, Description: "The input prompt for text generation"},
				{Name: "system_prompt", Required: true, Type: ParamString, Description: "System prompt to guide the model"},
				{Name: "model", Required: false, Type: ParamString, Description: "Model to use, defaults to the configured model"},
			},
			Run: c.generateText,
		},
		Action{
			Name:        "check-model",
			Description: "Check if a specific model is available",
			Parameters: []ActionParameter{
				{Name: "model", Required: true, Type: ParamString, Description: "Model name to check"},
			},
			Run: c.checkModel,
		},
		Action{
			Name:        "list-models",
			Description: "List all available Anthropic models",
			Run:         c.listModels,
		},
	)
	return c, nil
}

func (c *AnthropicConnection) Name() string        { return "anthropic" }
func (c *AnthropicConnection) IsLLMProvider() bool { return true }

func (c *AnthropicConnection) IsConfigured(verbose bool) bool {
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		if verbose {
			c.logger.Warn("anthropic connection not configured, ANTHROPIC_API_KEY is missing")
		}
		return false
	}
	return true
}

func (c *AnthropicConnection) PerformAction(ctx context.Context, action string, kwargs map[string]any) (any, error) {
	return c.perform(ctx, action, kwargs)
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicGenerateRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicGenerateResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicModelsResponse struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"data"`
}

func (c *AnthropicConnection) do(ctx context.Context, method, path string, payload any, out any) (int, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return 0, errors.New("ANTHROPIC_API_KEY is not set")
	}

	var reqBody io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", key)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *AnthropicConnection) generateText(ctx context.Context, kwargs map[string]any) (any, error) {
	prompt, _ := kwargs["prompt"].(string)
	systemPrompt, _ := kwargs["system_prompt"].(string)
	model := c.model
	if m, ok := kwargs["model"].(string); ok && m != "" {
		model = m
	}

	req := &anthropicGenerateRequest{
		Model:       model,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		System:      systemPrompt,
		MaxTokens:   1000,
		Temperature: 0,
	}
	var resp anthropicGenerateResponse
	if _, err := c.do(ctx, http.MethodPost, "/messages", req, &resp); err != nil {
		return nil, fmt.Errorf("text generation failed: %w", err)
	}

	text := ""
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

func (c *AnthropicConnection) checkModel(ctx context.Context, kwargs map[string]any) (any, error) {
	model, _ := kwargs["model"].(string)
	status, err := c.do(ctx, http.MethodGet, "/models/"+model, nil, nil)
	if err != nil {
		if status == http.StatusNotFound {
			return false, nil
		}
		return nil, fmt.Errorf("model check failed: %w", err)
	}
	return true, nil
}

func (c *AnthropicConnection) listModels(ctx context.Context, kwargs map[string]any) (any, error) {
	var resp anthropicModelsResponse
	if _, err := c.do(ctx, http.MethodGet, "/models", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing models failed: %w", err)
	}
	ids := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		ids = append(ids, m.ID)
	}
	c.logger.Info("available anthropic models", zap.Strings("models", ids))
	return ids, nil
}

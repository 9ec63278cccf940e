package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConnection generates text through the OpenAI chat completion API.
type OpenAIConnection struct {
	actionSet
	model   string
	baseURL string
	logger  *zap.Logger

	mu     sync.Mutex
	client *openai.Client
}

// NewOpenAIConnection validates the profile block and registers the LLM
// action table.
func NewOpenAIConnection(cfg Config, logger *zap.Logger) (*OpenAIConnection, error) {
	var oc struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(cfg.Raw, &oc); err != nil {
		return nil, fmt.Errorf("parse openai config: %w", err)
	}
	if oc.Model == "" {
		return nil, errors.New("openai config requires a model")
	}

	c := &OpenAIConnection{
		model:  oc.Model,
		logger: logger,
	}
	c.actionSet = newActionSet(
		Action{
			Name:        "generate-text",
			Description: "Generate text using OpenAI models",
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
			Description: "List all available OpenAI models",
			Run:         c.listModels,
		},
	)
	return c, nil
}

func (c *OpenAIConnection) Name() string        { return "openai" }
func (c *OpenAIConnection) IsLLMProvider() bool { return true }

func (c *OpenAIConnection) IsConfigured(verbose bool) bool {
	if os.Getenv("OPENAI_API_KEY") == "" {
		if verbose {
			c.logger.Warn("openai connection not configured, OPENAI_API_KEY is missing")
		}
		return false
	}
	return true
}

func (c *OpenAIConnection) PerformAction(ctx context.Context, action string, kwargs map[string]any) (any, error) {
	return c.perform(ctx, action, kwargs)
}

func (c *OpenAIConnection) api() (*openai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	if c.baseURL != "" {
		conf := openai.DefaultConfig(key)
		conf.BaseURL = c.baseURL
		c.client = openai.NewClientWithConfig(conf)
	} else {
		c.client = openai.NewClient(key)
	}
	return c.client, nil
}

func (c *OpenAIConnection) generateText(ctx context.Context, kwargs map[string]any) (any, error) {
	client, err := c.api()
	if err != nil {
		return nil, err
	}
	prompt, _ := kwargs["prompt"].(string)
	systemPrompt, _ := kwargs["system_prompt"].(string)
	model := c.model
	if m, ok := kwargs["model"].(string); ok && m != "" {
		model = m
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("text generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIConnection) checkModel(ctx context.Context, kwargs map[string]any) (any, error) {
	client, err := c.api()
	if err != nil {
		return nil, err
	}
	model, _ := kwargs["model"].(string)
	if _, err := client.GetModel(ctx, model); err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
			return false, nil
		}
		return nil, fmt.Errorf("model check failed: %w", err)
	}
	return true, nil
}

func (c *OpenAIConnection) listModels(ctx context.Context, kwargs map[string]any) (any, error) {
	client, err := c.api()
	if err != nil {
		return nil, err
	}
	list, err := client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing models failed: %w", err)
	}

	var ids []string
	for _, m := range list.Models {
		owned := m.OwnedBy == "organization" || m.OwnedBy == "user" || m.OwnedBy == "organization-owner"
		if strings.HasPrefix(m.ID, "gpt-") || owned {
			ids = append(ids, m.ID)
		}
	}
	c.logger.Info("available openai models", zap.Strings("models", ids))
	return ids, nil
}

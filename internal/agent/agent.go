package agent

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/yukina-ai/yukina/internal/connection"
)

// Agent binds a loaded profile to its connection registry. The derived
// system prompt is cached on first construction and never recomputed.
type Agent struct {
	Profile *Profile
	Manager *connection.Manager
	logger  *zap.Logger

	promptOnce   sync.Once
	systemPrompt string

	mu            sync.RWMutex
	modelProvider string
	username      string
}

// New creates an agent from a validated profile and its connections.
func New(profile *Profile, manager *connection.Manager, logger *zap.Logger) *Agent {
	return &Agent{
		Profile: profile,
		Manager: manager,
		logger:  logger,
	}
}

// SystemPrompt returns the memoized persona prompt.
func (a *Agent) SystemPrompt() string {
	a.promptOnce.Do(func() {
		a.systemPrompt = buildSystemPrompt(a.Profile)
	})
	return a.systemPrompt
}

// SetupLLMProvider picks the first configured LLM provider and loads the
// agent's own social identity for self-reply detection.
func (a *Agent) SetupLLMProvider() error {
	providers := a.Manager.LLMProviders()
	if len(providers) == 0 {
		return errors.New("no configured llm provider found")
	}
	a.mu.Lock()
	a.modelProvider = providers[0]
	a.username = strings.ToLower(os.Getenv("TWITTER_USERNAME"))
	a.mu.Unlock()
	return nil
}

// ModelProvider returns the LLM provider selected by SetupLLMProvider.
func (a *Agent) ModelProvider() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.modelProvider
}

// Username returns the agent's lowercased social handle.
func (a *Agent) Username() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.username
}

// PromptLLM generates text through the selected provider. An empty string
// with a nil error means generation produced nothing usable; dispatch
// failures are already logged and classified by the Manager.
func (a *Agent) PromptLLM(ctx context.Context, prompt, systemPrompt string) (string, error) {
	if systemPrompt == "" {
		systemPrompt = a.SystemPrompt()
	}
	result, err := a.Manager.Dispatch(ctx, a.ModelProvider(), "generate-text", []any{prompt, systemPrompt})
	if err != nil {
		return "", err
	}
	text, _ := result.(string)
	return text, nil
}

// PerformAction dispatches a named action through the connection registry.
func (a *Agent) PerformAction(ctx context.Context, conn, action string, params []any) (any, error) {
	return a.Manager.Dispatch(ctx, conn, action, params)
}

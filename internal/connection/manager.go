package connection

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DispatchErrorKind classifies why a dispatch produced no result.
type DispatchErrorKind string

const (
	ErrUnknownConnection DispatchErrorKind = "unknown_connection"
	ErrNotConfigured     DispatchErrorKind = "not_configured"
	ErrUnknownAction     DispatchErrorKind = "unknown_action"
	ErrParameterCount    DispatchErrorKind = "parameter_count_mismatch"
	ErrActionFailed      DispatchErrorKind = "action_failed"
)

// DispatchError is the classified failure returned by Manager.Dispatch. The
// dispatcher never panics and never lets a connection failure escape
// unclassified; callers treat a non-nil error as "no effect occurred".
type DispatchError struct {
	Kind       DispatchErrorKind
	Connection string
	Action     string
	Reason     string
}

func (e *DispatchError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("dispatch %s: %s", e.Connection, e.Reason)
	}
	return fmt.Sprintf("dispatch %s/%s: %s", e.Connection, e.Action, e.Reason)
}

// Manager owns the connection registry and the uniform dispatch path.
// Registration order is preserved so provider selection is deterministic.
type Manager struct {
	conns  map[string]Connection
	order  []string
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewManager builds a registry from the profile's connection blocks. A block
// that fails to initialize is logged and skipped; the agent can still run
// with the connections that did come up.
func NewManager(cfgs []Config, logger *zap.Logger) *Manager {
	m := &Manager{
		conns:  make(map[string]Connection),
		logger: logger,
	}
	for _, cfg := range cfgs {
		conn, err := newConnection(cfg, logger)
		if err != nil {
			logger.Error("failed to initialize connection",
				zap.String("connection", cfg.Name), zap.Error(err))
			continue
		}
		m.Register(conn)
	}
	return m
}

func newConnection(cfg Config, logger *zap.Logger) (Connection, error) {
	switch cfg.Name {
	case "twitter":
		return NewTwitterConnection(cfg, logger)
	case "openai":
		return NewOpenAIConnection(cfg, logger)
	case "anthropic":
		return NewAnthropicConnection(cfg, logger)
	case "discord":
		return NewDiscordConnection(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown connection type: %s", cfg.Name)
	}
}

// Register adds a connection to the registry, keeping registration order.
func (m *Manager) Register(c Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conns[c.Name()]; !exists {
		m.order = append(m.order, c.Name())
	}
	m.conns[c.Name()] = c
	m.logger.Info("registered connection",
		zap.String("connection", c.Name()), zap.Bool("llm_provider", c.IsLLMProvider()))
}

// Get returns a connection by name.
func (m *Manager) Get(name string) (Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[name]
	return c, ok
}

// List returns all connections in registration order.
func (m *Manager) List() []Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Connection, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.conns[name])
	}
	return out
}

// LLMProviders returns the names of configured LLM-provider connections in
// registration order. The scheduler uses the first entry.
func (m *Manager) LLMProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, name := range m.order {
		c := m.conns[name]
		if c.IsLLMProvider() && c.IsConfigured(false) {
			out = append(out, name)
		}
	}
	return out
}

// Dispatch resolves a connection and action, binds the positional parameters
// to the action's required parameters in declaration order, and invokes it.
// Every failure path returns a nil result with a classified, logged
// DispatchError; Dispatch never panics.
func (m *Manager) Dispatch(ctx context.Context, connName, actionName string, params []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = m.fail(&DispatchError{
				Kind:       ErrActionFailed,
				Connection: connName,
				Action:     actionName,
				Reason:     fmt.Sprintf("panic: %v", r),
			})
		}
	}()

	conn, ok := m.Get(connName)
	if !ok {
		return nil, m.fail(&DispatchError{
			Kind:       ErrUnknownConnection,
			Connection: connName,
			Action:     actionName,
			Reason:     fmt.Sprintf("unknown connection: %s", connName),
		})
	}
	if !conn.IsConfigured(false) {
		return nil, m.fail(&DispatchError{
			Kind:       ErrNotConfigured,
			Connection: connName,
			Action:     actionName,
			Reason:     fmt.Sprintf("connection %s is not configured", connName),
		})
	}

	var action Action
	found := false
	for _, a := range conn.Actions() {
		if a.Name == actionName {
			action, found = a, true
			break
		}
	}
	if !found {
		return nil, m.fail(&DispatchError{
			Kind:       ErrUnknownAction,
			Connection: connName,
			Action:     actionName,
			Reason:     fmt.Sprintf("unknown action: %s", actionName),
		})
	}

	required := action.RequiredParams()
	if len(params) != len(required) {
		return nil, m.fail(&DispatchError{
			Kind:       ErrParameterCount,
			Connection: connName,
			Action:     actionName,
			Reason: fmt.Sprintf("expected %d required parameters for %s: %s",
				len(required), actionName, strings.Join(required, ", ")),
		})
	}

	kwargs := make(map[string]any, len(params))
	for i, name := range required {
		kwargs[name] = params[i]
	}

	out, perr := conn.PerformAction(ctx, actionName, kwargs)
	if perr != nil {
		return nil, m.fail(&DispatchError{
			Kind:       ErrActionFailed,
			Connection: connName,
			Action:     actionName,
			Reason:     perr.Error(),
		})
	}
	return out, nil
}

func (m *Manager) fail(derr *DispatchError) *DispatchError {
	m.logger.Warn("dispatch failed",
		zap.String("connection", derr.Connection),
		zap.String("action", derr.Action),
		zap.String("kind", string(derr.Kind)),
		zap.String("reason", derr.Reason))
	return derr
}

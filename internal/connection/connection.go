package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Connection is the uniform capability interface every external integration
// (LLM provider, social platform) implements.
type Connection interface {
	Name() string
	IsLLMProvider() bool
	IsConfigured(verbose bool) bool
	Actions() []Action
	PerformAction(ctx context.Context, action string, kwargs map[string]any) (any, error)
}

// ActionFunc executes one named action with validated keyword arguments.
type ActionFunc func(ctx context.Context, kwargs map[string]any) (any, error)

// ParamType is the declared type of an action parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
)

// ActionParameter declares one parameter of an action.
type ActionParameter struct {
	Name        string    `json:"name"`
	Required    bool      `json:"required"`
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
}

// Action describes a named capability a connection exposes. The handler is
// bound explicitly at construction time.
type Action struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  []ActionParameter `json:"parameters"`
	Run         ActionFunc        `json:"-"`
}

// RequiredParams returns the names of required parameters in declaration order.
func (a Action) RequiredParams() []string {
	var names []string
	for _, p := range a.Parameters {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// validateKwargs checks required parameters and coerces values to their
// declared types in place. All violations are reported in one error.
func (a Action) validateKwargs(kwargs map[string]any) error {
	var problems []string
	for _, p := range a.Parameters {
		v, ok := kwargs[p.Name]
		if !ok {
			if p.Required {
				problems = append(problems, fmt.Sprintf("missing required parameter: %s", p.Name))
			}
			continue
		}
		coerced, err := coerceParam(p.Type, v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("parameter %s: %v", p.Name, err))
			continue
		}
		kwargs[p.Name] = coerced
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid parameters for %s: %s", a.Name, strings.Join(problems, "; "))
	}
	return nil
}

// coerceParam converts a raw argument to its declared type. Int parameters
// arrive as strings from the CLI and as float64 from JSON bodies.
func coerceParam(t ParamType, v any) (any, error) {
	switch t {
	case ParamInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			return int(n), nil
		case string:
			i, err := strconv.Atoi(strings.TrimSpace(n))
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to int", n)
			}
			return i, nil
		default:
			return nil, fmt.Errorf("cannot convert %T to int", v)
		}
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
}

// actionSet holds a connection's declared actions in declaration order and
// implements the shared lookup/validate/run path of PerformAction.
type actionSet struct {
	order   []string
	actions map[string]Action
}

func newActionSet(actions ...Action) actionSet {
	s := actionSet{actions: make(map[string]Action, len(actions))}
	for _, a := range actions {
		s.order = append(s.order, a.Name)
		s.actions[a.Name] = a
	}
	return s
}

// Actions returns the declared actions in declaration order.
func (s *actionSet) Actions() []Action {
	out := make([]Action, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.actions[name])
	}
	return out
}

func (s *actionSet) lookup(name string) (Action, bool) {
	a, ok := s.actions[name]
	return a, ok
}

func (s *actionSet) perform(ctx context.Context, name string, kwargs map[string]any) (any, error) {
	a, ok := s.lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown action: %s", name)
	}
	if kwargs == nil {
		kwargs = make(map[string]any)
	}
	if err := a.validateKwargs(kwargs); err != nil {
		return nil, err
	}
	return a.Run(ctx, kwargs)
}

// TimelineItem is a normalized social item produced by platform connections
// and consumed (dequeued exactly once) by the scheduler.
type TimelineItem struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	AuthorID       string `json:"author_id,omitempty"`
	AuthorName     string `json:"author_name,omitempty"`
	AuthorUsername string `json:"author_username,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// Config is one raw connection block from an agent profile. The block is kept
// verbatim so each connection can validate its own fields.
type Config struct {
	Name string
	Raw  json.RawMessage
}

// UnmarshalJSON keeps the full block alongside the extracted discriminant.
func (c *Config) UnmarshalJSON(data []byte) error {
	var head struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.Name == "" {
		return fmt.Errorf("connection config missing name")
	}
	c.Name = head.Name
	c.Raw = append(c.Raw[:0], data...)
	return nil
}

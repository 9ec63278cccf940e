package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yukina-ai/yukina/internal/connection"
)

const (
	defaultSelfReplyChance = 0.05
	defaultTweetInterval   = 900 * time.Second
	defaultTaskWeight      = 1
)

// requiredProfileFields must all be present in an agent profile. Absence of
// any of them is the only fatal, non-recoverable path in the core.
var requiredProfileFields = []string{
	"name", "bio", "traits", "examples", "loop_delay", "config", "tasks",
}

// MissingFieldsError enumerates every required profile key absent at load
// time, not just the first one found.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

// Task is one weighted behavior the scheduler may choose each iteration.
// Weights are relative and need not sum to one.
type Task struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// SocialTuning holds the behavior knobs parsed out of the twitter connection
// block of the profile.
type SocialTuning struct {
	SelfReplyChance   float64
	TweetInterval     time.Duration
	TimelineReadCount int
}

// Profile is a declarative agent description. It is immutable after load;
// the only derived state is the cached system prompt on Agent.
type Profile struct {
	Name        string
	Bio         []string
	Traits      []string
	Examples    []string
	LoopDelay   time.Duration
	Connections []connection.Config
	Tasks       []Task
	Tuning      SocialTuning
}

// LoadProfile reads and validates an agent profile from a JSON file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent profile: %w", err)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("parse agent profile: %w", err)
	}
	var missing []string
	for _, field := range requiredProfileFields {
		if _, ok := keys[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingFieldsError{Fields: missing}
	}

	var raw struct {
		Name      string              `json:"name"`
		Bio       []string            `json:"bio"`
		Traits    []string            `json:"traits"`
		Examples  []string            `json:"examples"`
		LoopDelay int                 `json:"loop_delay"`
		Config    []connection.Config `json:"config"`
		Tasks     []struct {
			Name   string   `json:"name"`
			Weight *float64 `json:"weight"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse agent profile: %w", err)
	}
	if raw.LoopDelay <= 0 {
		return nil, errors.New("loop_delay must be a positive integer")
	}

	tuning, err := parseTuning(raw.Config)
	if err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(raw.Tasks))
	for _, t := range raw.Tasks {
		weight := float64(defaultTaskWeight)
		if t.Weight != nil {
			weight = *t.Weight
		}
		tasks = append(tasks, Task{Name: t.Name, Weight: weight})
	}

	return &Profile{
		Name:        raw.Name,
		Bio:         raw.Bio,
		Traits:      raw.Traits,
		Examples:    raw.Examples,
		LoopDelay:   time.Duration(raw.LoopDelay) * time.Second,
		Connections: raw.Config,
		Tasks:       tasks,
		Tuning:      tuning,
	}, nil
}

// LoadProfileByName loads agents/<name>.json from the given directory.
func LoadProfileByName(dir, name string) (*Profile, error) {
	return LoadProfile(filepath.Join(dir, name+".json"))
}

// DefaultAgentName resolves the default agent from general.json.
func DefaultAgentName(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "general.json"))
	if err != nil {
		return "", fmt.Errorf("read general config: %w", err)
	}
	var general struct {
		DefaultAgent string `json:"default_agent"`
	}
	if err := json.Unmarshal(data, &general); err != nil {
		return "", fmt.Errorf("parse general config: %w", err)
	}
	if general.DefaultAgent == "" {
		return "", errors.New("no default agent configured")
	}
	return general.DefaultAgent, nil
}

// parseTuning extracts the social tuning knobs from the twitter block. The
// block itself is required; self_reply_chance and tweet_interval fall back
// to their defaults when absent.
func parseTuning(cfgs []connection.Config) (SocialTuning, error) {
	var raw json.RawMessage
	for _, c := range cfgs {
		if c.Name == "twitter" {
			raw = c.Raw
			break
		}
	}
	if raw == nil {
		return SocialTuning{}, errors.New("twitter connection configuration is required")
	}

	var block struct {
		TimelineReadCount *int     `json:"timeline_read_count"`
		SelfReplyChance   *float64 `json:"self_reply_chance"`
		TweetInterval     *int     `json:"tweet_interval"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return SocialTuning{}, fmt.Errorf("parse twitter config: %w", err)
	}

	tuning := SocialTuning{
		SelfReplyChance: defaultSelfReplyChance,
		TweetInterval:   defaultTweetInterval,
	}
	var errs []error
	switch {
	case block.TimelineReadCount == nil || *block.TimelineReadCount <= 0:
		errs = append(errs, errors.New("timeline_read_count must be a positive integer"))
	default:
		tuning.TimelineReadCount = *block.TimelineReadCount
	}
	if block.SelfReplyChance != nil {
		if *block.SelfReplyChance < 0 {
			errs = append(errs, errors.New("self_reply_chance must be 0 or greater"))
		} else {
			tuning.SelfReplyChance = *block.SelfReplyChance
		}
	}
	if block.TweetInterval != nil {
		if *block.TweetInterval <= 0 {
			errs = append(errs, errors.New("tweet_interval must be a positive integer"))
		} else {
			tuning.TweetInterval = time.Duration(*block.TweetInterval) * time.Second
		}
	}
	if err := errors.Join(errs...); err != nil {
		return SocialTuning{}, err
	}
	return tuning, nil
}

// TaskWeights returns the weight sequence aligned by index to Tasks.
func (p *Profile) TaskWeights() []float64 {
	weights := make([]float64, len(p.Tasks))
	for i, t := range p.Tasks {
		weights[i] = t.Weight
	}
	return weights
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yukina-ai/yukina/internal/connection"
	"github.com/yukina-ai/yukina/internal/events"
	"github.com/yukina-ai/yukina/internal/history"
	"github.com/yukina-ai/yukina/internal/notify"
)

// LoopState is the mutable state of one running loop: the FIFO buffer of
// unread timeline items and the time of the last successful post. It lives
// for the lifetime of the loop and is never persisted.
type LoopState struct {
	Buffer   []connection.TimelineItem
	LastPost time.Time
}

// LoopStatus is a point-in-time snapshot for the operator API.
type LoopStatus struct {
	Running       bool      `json:"running"`
	Iterations    uint64    `json:"iterations"`
	BufferSize    int       `json:"buffer_size"`
	LastPost      time.Time `json:"last_post"`
	ModelProvider string    `json:"model_provider,omitempty"`
}

// Loop is the action scheduler: it replenishes the timeline buffer, draws a
// weighted task, applies per-action gating and dispatches through the
// connection registry. Iteration failures never stop it; only cancellation
// does.
type Loop struct {
	agent    *Agent
	store    *history.Store
	bus      *events.Bus
	notifier *notify.SlackNotifier
	logger   *zap.Logger

	mu         sync.Mutex
	state      LoopState
	running    bool
	iterations uint64
	cancel     context.CancelFunc
	done       chan struct{}

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
	rng   *rand.Rand
}

// NewLoop builds the scheduler for one agent. Store, bus and notifier are
// optional; nil disables them.
func NewLoop(a *Agent, store *history.Store, bus *events.Bus, notifier *notify.SlackNotifier, logger *zap.Logger) *Loop {
	return &Loop{
		agent:    a,
		store:    store,
		bus:      bus,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// sleepContext waits for the duration unless the context is canceled first.
// It reports whether the full duration elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Start launches the loop in its own goroutine.
func (l *Loop) Start() error {
	if err := l.agent.SetupLLMProvider(); err != nil {
		return err
	}

	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("agent loop already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true
	l.mu.Unlock()

	go func() {
		defer close(l.done)
		if err := l.Run(ctx); err != nil {
			l.logger.Error("agent loop exited", zap.Error(err))
		}
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()
	return nil
}

// Stop cancels the running loop and waits for it to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// Status returns a snapshot of the loop state.
func (l *Loop) Status() LoopStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LoopStatus{
		Running:       l.running,
		Iterations:    l.iterations,
		BufferSize:    len(l.state.Buffer),
		LastPost:      l.state.LastPost,
		ModelProvider: l.agent.ModelProvider(),
	}
}

// Run executes the scheduler until ctx is canceled. A failed iteration is
// logged, waits the standard delay and tries again fresh; cancellation
// returns cleanly without error.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.agent.SetupLLMProvider(); err != nil {
		return err
	}
	name := l.agent.Profile.Name
	l.logger.Info("starting agent loop",
		zap.String("agent", name),
		zap.String("model_provider", l.agent.ModelProvider()))
	l.lifecycleEvent(events.KindLoopStarted, "")
	if l.notifier != nil {
		l.notifier.LoopStarted(name)
	}
	defer func() {
		l.logger.Info("agent loop stopped", zap.String("agent", name))
		l.lifecycleEvent(events.KindLoopStopped, "")
		if l.notifier != nil {
			l.notifier.LoopStopped(name)
		}
	}()

	if !l.sleep(ctx, 2*time.Second) {
		return nil
	}
	l.logger.Info("starting loop in 5 seconds")
	for i := 5; i > 0; i-- {
		l.logger.Info(fmt.Sprintf("%d...", i))
		if !l.sleep(ctx, time.Second) {
			return nil
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := l.runIteration(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Error("agent loop iteration failed", zap.Error(err))
			l.lifecycleEvent(events.KindError, err.Error())
			if l.notifier != nil {
				l.notifier.IterationError(name, err)
			}
		}
		l.logger.Info("waiting before next iteration", zap.Duration("delay", l.agent.Profile.LoopDelay))
		if !l.sleep(ctx, l.agent.Profile.LoopDelay) {
			return nil
		}
	}
}

// runIteration performs one replenish/select/dispatch cycle against the
// current loop state.
func (l *Loop) runIteration(ctx context.Context) error {
	l.mu.Lock()
	l.iterations++
	empty := len(l.state.Buffer) == 0
	l.mu.Unlock()

	if empty {
		l.logger.Info("reading timeline")
		result, err := l.agent.PerformAction(ctx, "twitter", "read-timeline", nil)
		if err == nil {
			items, _ := result.([]connection.TimelineItem)
			l.mu.Lock()
			l.state.Buffer = items
			l.mu.Unlock()
			l.logger.Info("timeline replenished", zap.Int("tweets", len(items)))
		}
	}

	task, err := pickTask(l.rng, l.agent.Profile.Tasks)
	if err != nil {
		return err
	}

	switch task.Name {
	case "post-tweet":
		return l.postTweet(ctx)
	case "reply-to-tweet":
		return l.replyToTweet(ctx)
	case "like-tweet":
		return l.likeTweet(ctx)
	default:
		l.logger.Warn("selected task has no handler", zap.String("task", task.Name))
		return nil
	}
}

// pickTask draws one task with probability proportional to its weight.
// Non-positive weights are never drawn.
func pickTask(rng *rand.Rand, tasks []Task) (Task, error) {
	total := 0.0
	last := -1
	for i, t := range tasks {
		if t.Weight > 0 {
			total += t.Weight
			last = i
		}
	}
	if total <= 0 {
		return Task{}, errors.New("no tasks with positive weight configured")
	}

	r := rng.Float64() * total
	for _, t := range tasks {
		if t.Weight <= 0 {
			continue
		}
		r -= t.Weight
		if r < 0 {
			return t, nil
		}
	}
	return tasks[last], nil
}

func (l *Loop) postTweet(ctx context.Context) error {
	l.mu.Lock()
	last := l.state.LastPost
	l.mu.Unlock()

	interval := l.agent.Profile.Tuning.TweetInterval
	if elapsed := l.now().Sub(last); elapsed < interval {
		l.logger.Info("delaying post until tweet interval elapses",
			zap.Duration("elapsed", elapsed), zap.Duration("interval", interval))
		return nil
	}

	l.logger.Info("generating new tweet")
	text, err := l.agent.PromptLLM(ctx, postPrompt(l.agent.Profile.Name), "")
	if err != nil || text == "" {
		return nil
	}

	l.logger.Info("posting tweet", zap.String("text", text))
	_, derr := l.agent.PerformAction(ctx, "twitter", "post-tweet", []any{text})
	l.record(ctx, "post-tweet", text, derr)
	if derr != nil {
		return nil
	}
	l.mu.Lock()
	l.state.LastPost = l.now()
	l.mu.Unlock()
	l.logger.Info("tweet posted")
	return nil
}

func (l *Loop) replyToTweet(ctx context.Context) error {
	item, ok := l.dequeue()
	if !ok || item.ID == "" {
		return nil
	}

	isOwn := strings.ToLower(item.AuthorUsername) == l.agent.Username()
	if isOwn && l.rng.Float64() > l.agent.Profile.Tuning.SelfReplyChance {
		l.logger.Info("skipping self-reply")
		return nil
	}

	l.logger.Info("generating reply", zap.String("to", preview(item.Text)))
	systemPrompt := l.agent.SystemPrompt()
	if isOwn {
		systemPrompt += selfReplySuffix
	}
	text, err := l.agent.PromptLLM(ctx, replyPrompt(l.agent.Profile.Name, item.Text), systemPrompt)
	if err != nil || text == "" {
		return nil
	}

	l.logger.Info("posting reply", zap.String("text", text))
	_, derr := l.agent.PerformAction(ctx, "twitter", "reply-to-tweet", []any{item.ID, text})
	l.record(ctx, "reply-to-tweet", text, derr)
	if derr == nil {
		l.logger.Info("reply posted")
	}
	return nil
}

func (l *Loop) likeTweet(ctx context.Context) error {
	item, ok := l.dequeue()
	if !ok || item.ID == "" {
		return nil
	}

	l.logger.Info("liking tweet", zap.String("text", preview(item.Text)))
	_, derr := l.agent.PerformAction(ctx, "twitter", "like-tweet", []any{item.ID})
	l.record(ctx, "like-tweet", item.ID, derr)
	if derr == nil {
		l.logger.Info("tweet liked")
	}
	return nil
}

// dequeue removes and returns the oldest buffered item.
func (l *Loop) dequeue() (connection.TimelineItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.state.Buffer) == 0 {
		return connection.TimelineItem{}, false
	}
	item := l.state.Buffer[0]
	l.state.Buffer = l.state.Buffer[1:]
	return item, true
}

// record mirrors a dispatched action into the optional audit backends.
func (l *Loop) record(ctx context.Context, action, detail string, derr error) {
	name := l.agent.Profile.Name
	errMsg := ""
	if derr != nil {
		errMsg = derr.Error()
	}
	if l.store != nil {
		rec := &history.ActionRecord{
			Agent:      name,
			Connection: "twitter",
			Action:     action,
			Detail:     detail,
			OK:         derr == nil,
			Error:      errMsg,
		}
		if err := l.store.RecordAction(ctx, rec); err != nil {
			l.logger.Warn("record action", zap.Error(err))
		}
	}
	if l.bus != nil {
		evt := &events.Event{
			Agent:      name,
			Kind:       events.KindAction,
			Connection: "twitter",
			Action:     action,
			Detail:     detail,
			OK:         derr == nil,
		}
		if err := l.bus.Publish(ctx, evt); err != nil {
			l.logger.Warn("publish event", zap.Error(err))
		}
	}
}

// lifecycleEvent publishes loop start/stop/error markers. It uses a fresh
// context because the loop's own context is already canceled on shutdown.
func (l *Loop) lifecycleEvent(kind events.Kind, detail string) {
	if l.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	evt := &events.Event{
		Agent:  l.agent.Profile.Name,
		Kind:   kind,
		Detail: detail,
		OK:     kind != events.KindError,
	}
	if err := l.bus.Publish(ctx, evt); err != nil {
		l.logger.Warn("publish event", zap.Error(err))
	}
}

// preview truncates text for log lines.
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= 50 {
		return text
	}
	return string(runes[:50]) + "..."
}

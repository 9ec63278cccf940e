package agent

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yukina-ai/yukina/internal/connection"
)

// fakeSocial scripts timeline reads and records every write action.
type fakeSocial struct {
	mu        sync.Mutex
	timeline  [][]connection.TimelineItem
	reads     int
	posts     []string
	replies   [][2]string
	likes     []string
	postErr   error
	likeFails int
}

func (f *fakeSocial) Name() string                   { return "twitter" }
func (f *fakeSocial) IsLLMProvider() bool            { return false }
func (f *fakeSocial) IsConfigured(verbose bool) bool { return true }

func (f *fakeSocial) Actions() []connection.Action {
	return []connection.Action{
		{Name: "post-tweet", Parameters: []connection.ActionParameter{
			{Name: "message", Required: true, Type: connection.ParamString},
		}},
		{Name: "read-timeline", Parameters: []connection.ActionParameter{
			{Name: "count", Required: false, Type: connection.ParamInt},
		}},
		{Name: "like-tweet", Parameters: []connection.ActionParameter{
			{Name: "tweet_id", Required: true, Type: connection.ParamString},
		}},
		{Name: "reply-to-tweet", Parameters: []connection.ActionParameter{
			{Name: "tweet_id", Required: true, Type: connection.ParamString},
			{Name: "message", Required: true, Type: connection.ParamString},
		}},
	}
}

func (f *fakeSocial) PerformAction(ctx context.Context, action string, kwargs map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch action {
	case "read-timeline":
		f.reads++
		if len(f.timeline) == 0 {
			return []connection.TimelineItem{}, nil
		}
		batch := f.timeline[0]
		f.timeline = f.timeline[1:]
		return batch, nil
	case "post-tweet":
		if f.postErr != nil {
			return nil, f.postErr
		}
		message, _ := kwargs["message"].(string)
		f.posts = append(f.posts, message)
		return map[string]string{"id": "1"}, nil
	case "reply-to-tweet":
		tweetID, _ := kwargs["tweet_id"].(string)
		message, _ := kwargs["message"].(string)
		f.replies = append(f.replies, [2]string{tweetID, message})
		return map[string]string{"id": "2"}, nil
	case "like-tweet":
		if f.likeFails > 0 {
			f.likeFails--
			return nil, errors.New("like failed")
		}
		tweetID, _ := kwargs["tweet_id"].(string)
		f.likes = append(f.likes, tweetID)
		return map[string]bool{"liked": true}, nil
	default:
		return nil, errors.New("unknown action: " + action)
	}
}

// fakeLLM returns a canned completion and records every prompt pair.
type fakeLLM struct {
	mu       sync.Mutex
	response string
	err      error
	prompts  []string
	systems  []string
}

func (f *fakeLLM) Name() string                   { return "openai" }
func (f *fakeLLM) IsLLMProvider() bool            { return true }
func (f *fakeLLM) IsConfigured(verbose bool) bool { return true }

func (f *fakeLLM) Actions() []connection.Action {
	return []connection.Action{
		{Name: "generate-text", Parameters: []connection.ActionParameter{
			{Name: "prompt", Required: true, Type: connection.ParamString},
			{Name: "system_prompt", Required: true, Type: connection.ParamString},
		}},
	}
}

func (f *fakeLLM) PerformAction(ctx context.Context, action string, kwargs map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	prompt, _ := kwargs["prompt"].(string)
	system, _ := kwargs["system_prompt"].(string)
	f.prompts = append(f.prompts, prompt)
	f.systems = append(f.systems, system)
	return f.response, nil
}

func testProfile(tasks ...Task) *Profile {
	if len(tasks) == 0 {
		tasks = []Task{{Name: "post-tweet", Weight: 1}}
	}
	return &Profile{
		Name:      "Yukina",
		Bio:       []string{"An autonomous poster."},
		LoopDelay: time.Second,
		Tasks:     tasks,
		Tuning: SocialTuning{
			SelfReplyChance:   0.05,
			TweetInterval:     900 * time.Second,
			TimelineReadCount: 10,
		},
	}
}

func newTestLoop(t *testing.T, p *Profile, conns ...connection.Connection) *Loop {
	t.Helper()
	m := connection.NewManager(nil, zap.NewNop())
	for _, c := range conns {
		m.Register(c)
	}
	a := New(p, m, zap.NewNop())
	if err := a.SetupLLMProvider(); err != nil {
		t.Fatalf("setup llm provider: %v", err)
	}
	l := NewLoop(a, nil, nil, nil, zap.NewNop())
	l.sleep = func(ctx context.Context, d time.Duration) bool { return true }
	l.rng = rand.New(rand.NewSource(1))
	return l
}

func items(ids ...string) []connection.TimelineItem {
	out := make([]connection.TimelineItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, connection.TimelineItem{ID: id, Text: "tweet " + id, AuthorUsername: "someone"})
	}
	return out
}

func TestPostGatingBoundary(t *testing.T) {
	social := &fakeSocial{}
	llm := &fakeLLM{response: "a fresh thought"}
	l := newTestLoop(t, testProfile(), social, llm)

	t0 := time.Unix(1700000000, 0)
	now := t0
	l.now = func() time.Time { return now }
	l.state.LastPost = t0

	now = t0.Add(899 * time.Second)
	if err := l.runIteration(context.Background()); err != nil {
		t.Fatalf("iteration: %v", err)
	}
	if len(social.posts) != 0 {
		t.Fatalf("expected no post one second before the interval, got %d", len(social.posts))
	}
	if !l.state.LastPost.Equal(t0) {
		t.Errorf("expected last post timestamp unchanged on skip, got %v", l.state.LastPost)
	}

	now = t0.Add(900 * time.Second)
	if err := l.runIteration(context.Background()); err != nil {
		t.Fatalf("iteration: %v", err)
	}
	if len(social.posts) != 1 {
		t.Fatalf("expected post exactly at the interval boundary, got %d", len(social.posts))
	}
	if social.posts[0] != "a fresh thought" {
		t.Errorf("expected generated text posted, got %q", social.posts[0])
	}
	if !l.state.LastPost.Equal(now) {
		t.Errorf("expected last post timestamp advanced, got %v", l.state.LastPost)
	}
}

func TestFirstPostNotGated(t *testing.T) {
	social := &fakeSocial{}
	llm := &fakeLLM{response: "first ever post"}
	l := newTestLoop(t, testProfile(), social, llm)

	if err := l.runIteration(context.Background()); err != nil {
		t.Fatalf("iteration: %v", err)
	}
	if len(social.posts) != 1 {
		t.Fatalf("expected immediate post with zero last post time, got %d", len(social.posts))
	}
}

func TestLastPostNotUpdatedOnDispatchFailure(t *testing.T) {
	social := &fakeSocial{postErr: errors.New("duplicate content")}
	llm := &fakeLLM{response: "a thought"}
	l := newTestLoop(t, testProfile(), social, llm)

	if err := l.runIteration(context.Background()); err != nil {
		t.Fatalf("iteration: %v", err)
	}
	if !l.state.LastPost.IsZero() {
		t.Errorf("expected last post timestamp untouched on failure, got %v", l.state.LastPost)
	}

	social.postErr = nil
	if err := l.runIteration(context.Background()); err != nil {
		t.Fatalf("iteration: %v", err)
	}
	if len(social.posts) != 1 {
		t.Fatalf("expected retry to post without waiting out the interval, got %d", len(social.posts))
	}
	if l.state.LastPost.IsZero() {
		t.Error("expected last post timestamp set after success")
	}
}

func TestPostSkippedWhenGenerationEmpty(t *testing.T) {
	social := &fakeSocial{}
	llm := &fakeLLM{response: ""}
	l := newTestLoop(t, testProfile(), social, llm)

	if err := l.runIteration(context.Background()); err != nil {
		t.Fatalf("iteration: %v", err)
	}
	if len(social.posts) != 0 {
		t.Errorf("expected no post for empty generation, got %d", len(social.posts))
	}
}

func TestTimelineFIFOConsumption(t *testing.T) {
	social := &fakeSocial{timeline: [][]connection.TimelineItem{items("t1", "t2", "t3")}}
	llm := &fakeLLM{response: "unused"}
	l := newTestLoop(t, testProfile(Task{Name: "like-tweet", Weight: 1}), social, llm)

	for i := 0; i < 2; i++ {
		if err := l.runIteration(context.Background()); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}

	if social.reads != 1 {
		t.Errorf("expected a single replenishing read, got %d", social.reads)
	}
	wantLikes := []string{"t1", "t2"}
	if len(social.likes) != len(wantLikes) {
		t.Fatalf("expected likes %v, got %v", wantLikes, social.likes)
	}
	for i := range wantLikes {
		if social.likes[i] != wantLikes[i] {
			t.Errorf("like %d: expected %q, got %q", i, wantLikes[i], social.likes[i])
		}
	}
	if got := l.Status().BufferSize; got != 1 {
		t.Errorf("expected 1 buffered item left, got %d", got)
	}
	if l.state.Buffer[0].ID != "t3" {
		t.Errorf("expected t3 left in buffer, got %q", l.state.Buffer[0].ID)
	}
}

func TestReplenishOnlyWhenEmpty(t *testing.T) {
	social := &fakeSocial{timeline: [][]connection.TimelineItem{
		items("t1", "t2"),
		items("t3", "t4"),
	}}
	llm := &fakeLLM{response: "unused"}
	l := newTestLoop(t, testProfile(Task{Name: "like-tweet", Weight: 1}), social, llm)

	for i := 0; i < 3; i++ {
		if err := l.runIteration(context.Background()); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}

	// Reads happen on iteration 1 (buffer empty) and iteration 3 (drained).
	if social.reads != 2 {
		t.Errorf("expected 2 reads, got %d", social.reads)
	}
	if len(social.likes) != 3 {
		t.Errorf("expected 3 likes, got %v", social.likes)
	}
}

func TestLikeOnEmptyTimelineIsNoop(t *testing.T) {
	social := &fakeSocial{}
	llm := &fakeLLM{response: "unused"}
	l := newTestLoop(t, testProfile(Task{Name: "like-tweet", Weight: 1}), social, llm)

	if err := l.runIteration(context.Background()); err != nil {
		t.Fatalf("iteration: %v", err)
	}
	if len(social.likes) != 0 {
		t.Errorf("expected no likes with empty timeline, got %v", social.likes)
	}
}

func TestSelfReplyChanceZeroNeverReplies(t *testing.T) {
	t.Setenv("TWITTER_USERNAME", "Yukina")
	own := make([]connection.TimelineItem, 10)
	for i := range own {
		own[i] = connection.TimelineItem{ID: "o1", Text: "mine", AuthorUsername: "yukina"}
	}
	social := &fakeSocial{timeline: [][]connection.TimelineItem{own}}
	llm := &fakeLLM{response: "self reply"}
	p := testProfile(Task{Name: "reply-to-tweet", Weight: 1})
	p.Tuning.SelfReplyChance = 0
	l := newTestLoop(t, p, social, llm)

	for i := 0; i < 10; i++ {
		if err := l.runIteration(context.Background()); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
	if len(social.replies) != 0 {
		t.Errorf("expected no self-replies at chance 0, got %d", len(social.replies))
	}
	if got := l.Status().BufferSize; got != 0 {
		t.Errorf("expected skipped items still consumed, %d left", got)
	}
}

func TestSelfReplyChanceOneAlwaysReplies(t *testing.T) {
	t.Setenv("TWITTER_USERNAME", "Yukina")
	own := make([]connection.TimelineItem, 5)
	for i := range own {
		own[i] = connection.TimelineItem{ID: "o1", Text: "mine", AuthorUsername: "YUKINA"}
	}
	social := &fakeSocial{timeline: [][]connection.TimelineItem{own}}
	llm := &fakeLLM{response: "self reply"}
	p := testProfile(Task{Name: "reply-to-tweet", Weight: 1})
	p.Tuning.SelfReplyChance = 1
	l := newTestLoop(t, p, social, llm)

	for i := 0; i < 5; i++ {
		if err := l.runIteration(context.Background()); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
	if len(social.replies) != 5 {
		t.Errorf("expected reply to every own tweet at chance 1, got %d", len(social.replies))
	}
}

func TestSelfReplyUsesAugmentedSystemPrompt(t *testing.T) {
	t.Setenv("TWITTER_USERNAME", "Yukina")
	social := &fakeSocial{timeline: [][]connection.TimelineItem{{
		{ID: "o1", Text: "mine", AuthorUsername: "yukina"},
		{ID: "f1", Text: "theirs", AuthorUsername: "someone"},
	}}}
	llm := &fakeLLM{response: "reply"}
	p := testProfile(Task{Name: "reply-to-tweet", Weight: 1})
	p.Tuning.SelfReplyChance = 1
	l := newTestLoop(t, p, social, llm)

	for i := 0; i < 2; i++ {
		if err := l.runIteration(context.Background()); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}

	if len(llm.systems) != 2 {
		t.Fatalf("expected 2 generations, got %d", len(llm.systems))
	}
	base := buildSystemPrompt(p)
	if llm.systems[0] != base+selfReplySuffix {
		t.Errorf("expected self-reply suffix on own tweet, got %q", llm.systems[0])
	}
	if llm.systems[1] != base {
		t.Errorf("expected plain persona prompt on foreign tweet, got %q", llm.systems[1])
	}
}

func TestReplyPromptIncludesSourceText(t *testing.T) {
	social := &fakeSocial{timeline: [][]connection.TimelineItem{{
		{ID: "f1", Text: "rates are a meme", AuthorUsername: "someone"},
	}}}
	llm := &fakeLLM{response: "indeed"}
	l := newTestLoop(t, testProfile(Task{Name: "reply-to-tweet", Weight: 1}), social, llm)

	if err := l.runIteration(context.Background()); err != nil {
		t.Fatalf("iteration: %v", err)
	}
	if len(social.replies) != 1 || social.replies[0][0] != "f1" {
		t.Fatalf("expected reply to f1, got %v", social.replies)
	}
	if len(llm.prompts) != 1 || !strings.Contains(llm.prompts[0], "rates are a meme") {
		t.Errorf("expected source text in prompt, got %v", llm.prompts)
	}
}

func TestPickTaskWeightedConvergence(t *testing.T) {
	tasks := []Task{
		{Name: "post-tweet", Weight: 3},
		{Name: "like-tweet", Weight: 1},
	}
	rng := rand.New(rand.NewSource(42))
	const draws = 20000
	posts := 0
	for i := 0; i < draws; i++ {
		task, err := pickTask(rng, tasks)
		if err != nil {
			t.Fatalf("pick task: %v", err)
		}
		if task.Name == "post-tweet" {
			posts++
		}
	}
	ratio := float64(posts) / draws
	if math.Abs(ratio-0.75) > 0.02 {
		t.Errorf("expected post ratio near 0.75, got %v", ratio)
	}
}

func TestPickTaskSkipsNonPositiveWeights(t *testing.T) {
	tasks := []Task{
		{Name: "never", Weight: 0},
		{Name: "always", Weight: 2},
	}
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 1000; i++ {
		task, err := pickTask(rng, tasks)
		if err != nil {
			t.Fatalf("pick task: %v", err)
		}
		if task.Name != "always" {
			t.Fatalf("expected zero-weight task never drawn, got %q", task.Name)
		}
	}
}

func TestPickTaskAllNonPositive(t *testing.T) {
	_, err := pickTask(rand.New(rand.NewSource(1)), []Task{{Name: "a", Weight: 0}})
	if err == nil {
		t.Fatal("expected error with no positive weights")
	}
}

func TestUnknownTaskIsLoggedAndSkipped(t *testing.T) {
	social := &fakeSocial{}
	llm := &fakeLLM{response: "unused"}
	l := newTestLoop(t, testProfile(Task{Name: "meditate", Weight: 1}), social, llm)

	if err := l.runIteration(context.Background()); err != nil {
		t.Fatalf("expected unknown task to be skipped, got %v", err)
	}
	if len(social.posts)+len(social.likes)+len(social.replies) != 0 {
		t.Error("expected no platform actions for unknown task")
	}
}

func TestRunFailsWithoutConfiguredProvider(t *testing.T) {
	social := &fakeSocial{}
	m := connection.NewManager(nil, zap.NewNop())
	m.Register(social)
	a := New(testProfile(), m, zap.NewNop())
	l := NewLoop(a, nil, nil, nil, zap.NewNop())

	sleeps := 0
	l.sleep = func(ctx context.Context, d time.Duration) bool { sleeps++; return true }

	err := l.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no configured llm provider found") {
		t.Fatalf("expected provider error, got %v", err)
	}
	if sleeps != 0 {
		t.Errorf("expected loop to fail before any delay, got %d sleeps", sleeps)
	}
	if err := l.Start(); err == nil {
		t.Error("expected Start to fail without a provider")
	}
}

func TestRunContinuesAfterIterationFailure(t *testing.T) {
	social := &fakeSocial{}
	llm := &fakeLLM{response: "unused"}
	// All weights zero, so every iteration fails task selection.
	l := newTestLoop(t, testProfile(Task{Name: "post-tweet", Weight: 0}), social, llm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeps := 0
	l.sleep = func(ctx context.Context, d time.Duration) bool {
		sleeps++
		if sleeps >= 10 {
			cancel()
			return false
		}
		return true
	}

	if err := l.Run(ctx); err != nil {
		t.Fatalf("expected clean exit on cancellation, got %v", err)
	}
	// Warmup takes 6 sleeps; the remaining sleeps follow failed iterations.
	if got := l.Status().Iterations; got < 2 {
		t.Errorf("expected loop to keep iterating after failures, got %d iterations", got)
	}
}

func TestStartStop(t *testing.T) {
	social := &fakeSocial{}
	llm := &fakeLLM{response: "a thought"}
	l := newTestLoop(t, testProfile(), social, llm)
	l.sleep = func(ctx context.Context, d time.Duration) bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Millisecond):
			return true
		}
	}

	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !l.Status().Running {
		if time.Now().After(deadline) {
			t.Fatal("loop did not report running")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := l.Start(); err == nil {
		t.Error("expected second Start to fail while running")
	}

	l.Stop()
	if l.Status().Running {
		t.Error("expected loop stopped after Stop")
	}
	// Stop on an already stopped loop is a no-op.
	l.Stop()
}

func TestEndToEndScheduling(t *testing.T) {
	batches := make([][]connection.TimelineItem, 30)
	for i := range batches {
		batches[i] = items("a", "b")
	}
	social := &fakeSocial{timeline: batches, likeFails: 1}
	llm := &fakeLLM{response: "an observation"}
	p := testProfile(
		Task{Name: "post-tweet", Weight: 3},
		Task{Name: "like-tweet", Weight: 1},
	)
	l := newTestLoop(t, p, social, llm)
	l.rng = rand.New(rand.NewSource(7))

	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 40; i++ {
		if err := l.runIteration(context.Background()); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		now = now.Add(60 * time.Second)
	}

	if len(social.posts) == 0 {
		t.Error("expected at least one post")
	}
	// 40 iterations advance the clock 2400s; at a 900s interval at most
	// three posts fit (t=0 plus two full intervals).
	if len(social.posts) > 3 {
		t.Errorf("expected posts gated by the interval, got %d", len(social.posts))
	}
	if len(social.likes) == 0 {
		t.Error("expected likes to consume buffered items")
	}
	if social.reads < 2 {
		t.Errorf("expected periodic replenishment, got %d reads", social.reads)
	}
	if got := l.Status().Iterations; got != 40 {
		t.Errorf("expected 40 iterations recorded, got %d", got)
	}
}

package agent

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/yukina-ai/yukina/internal/connection"
)

func TestBuildSystemPrompt(t *testing.T) {
	p := &Profile{
		Bio:      []string{"An autonomous poster.", "Writes short observations."},
		Traits:   []string{"curious", "dry humor"},
		Examples: []string{"the best ideas arrive unannounced"},
	}
	want := "An autonomous poster.\n" +
		"Writes short observations.\n" +
		"\nYour key traits are:\n" +
		"- curious\n" +
		"- dry humor\n" +
		"\nHere are some examples of your style (Please avoid repeating any of these):\n" +
		"- the best ideas arrive unannounced"
	if got := buildSystemPrompt(p); got != want {
		t.Errorf("unexpected prompt:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestBuildSystemPromptOmitsEmptySections(t *testing.T) {
	p := &Profile{Bio: []string{"Only a bio."}}
	got := buildSystemPrompt(p)
	if got != "Only a bio." {
		t.Errorf("expected bare bio, got %q", got)
	}
	if strings.Contains(got, "Your key traits") || strings.Contains(got, "examples of your style") {
		t.Errorf("expected no section headers, got %q", got)
	}
}

func TestSystemPromptMemoized(t *testing.T) {
	p := &Profile{Bio: []string{"original bio"}}
	a := New(p, connection.NewManager(nil, zap.NewNop()), zap.NewNop())

	first := a.SystemPrompt()
	p.Bio = []string{"mutated bio"}
	second := a.SystemPrompt()

	if first != second {
		t.Errorf("expected memoized prompt, got %q then %q", first, second)
	}
	if !strings.Contains(first, "original bio") {
		t.Errorf("expected original bio in prompt, got %q", first)
	}
}

func TestPostPromptConstraints(t *testing.T) {
	got := postPrompt("Yukina")
	for _, want := range []string{
		"under 280 characters",
		"hashtags, links or emojis",
		"apart from Yukina",
		"Avoid the words AI and crypto",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in post prompt, got %q", want, got)
		}
	}
}

func TestReplyPromptReferencesSource(t *testing.T) {
	got := replyPrompt("Yukina", "interest rates are a meme")
	if !strings.Contains(got, "interest rates are a meme") {
		t.Errorf("expected source tweet in reply prompt, got %q", got)
	}
	if !strings.Contains(got, "apart from Yukina") {
		t.Errorf("expected persona name in reply prompt, got %q", got)
	}
}

package connection

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestDiscord(t *testing.T) *DiscordConnection {
	t.Helper()
	conn, err := NewDiscordConnection(connCfg(t, `{"name":"discord","message_read_count":10}`), zap.NewNop())
	if err != nil {
		t.Fatalf("create discord connection: %v", err)
	}
	return conn
}

func TestDiscordConfigValidation(t *testing.T) {
	_, err := NewDiscordConnection(connCfg(t, `{"name":"discord"}`), zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "message_read_count") {
		t.Errorf("expected missing field error, got %v", err)
	}

	_, err = NewDiscordConnection(connCfg(t, `{"name":"discord","message_read_count":0}`), zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "must be a positive integer") {
		t.Errorf("expected range error, got %v", err)
	}
}

func TestDiscordIsConfigured(t *testing.T) {
	conn := newTestDiscord(t)

	t.Setenv("DISCORD_BOT_TOKEN", "")
	if conn.IsConfigured(false) {
		t.Error("expected not configured without bot token")
	}

	t.Setenv("DISCORD_BOT_TOKEN", "token")
	if !conn.IsConfigured(true) {
		t.Error("expected configured with bot token")
	}
}

func TestDiscordActionTable(t *testing.T) {
	conn := newTestDiscord(t)
	want := []string{"read-messages", "post-message", "reply-to-message", "react-to-message"}
	actions := conn.Actions()
	if len(actions) != len(want) {
		t.Fatalf("expected %d actions, got %d", len(want), len(actions))
	}
	for i, name := range want {
		if actions[i].Name != name {
			t.Errorf("action %d: expected %q, got %q", i, name, actions[i].Name)
		}
	}
}

func TestDiscordPostMessageRejectsEmptyText(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "token")
	conn := newTestDiscord(t)

	_, err := conn.PerformAction(context.Background(), "post-message",
		map[string]any{"channel_id": "123", "message": ""})
	if err == nil || !strings.Contains(err.Error(), "cannot be empty") {
		t.Errorf("expected empty message error, got %v", err)
	}
}

func TestDiscordActionsRequireToken(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")
	conn := newTestDiscord(t)

	_, err := conn.PerformAction(context.Background(), "read-messages", map[string]any{"channel_id": "123"})
	if err == nil || !strings.Contains(err.Error(), "DISCORD_BOT_TOKEN") {
		t.Errorf("expected missing token error, got %v", err)
	}
}

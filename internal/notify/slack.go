package notify

import (
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier posts loop lifecycle notices to an ops channel. A disabled
// notifier is a safe no-op.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	enabled bool
	logger  *zap.Logger
}

// NewSlackNotifier builds a notifier. It stays disabled unless enabled is
// set and both token and channel are non-empty.
func NewSlackNotifier(enabled bool, botToken, channel string, logger *zap.Logger) *SlackNotifier {
	n := &SlackNotifier{channel: channel, logger: logger}
	if !enabled || botToken == "" || channel == "" {
		return n
	}
	n.client = slack.New(botToken)
	n.enabled = true
	return n
}

// Enabled reports whether notices will actually be sent.
func (n *SlackNotifier) Enabled() bool {
	return n != nil && n.enabled
}

func (n *SlackNotifier) post(text string) {
	if !n.Enabled() {
		return
	}
	_, _, err := n.client.PostMessage(n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Warn("slack notification failed", zap.Error(err))
	}
}

// LoopStarted announces that an agent loop began running.
func (n *SlackNotifier) LoopStarted(agent string) {
	n.post(fmt.Sprintf(":rocket: agent loop started: %s", agent))
}

// LoopStopped announces that an agent loop exited.
func (n *SlackNotifier) LoopStopped(agent string) {
	n.post(fmt.Sprintf(":octagonal_sign: agent loop stopped: %s", agent))
}

// IterationError reports a failed loop iteration.
func (n *SlackNotifier) IterationError(agent string, err error) {
	n.post(fmt.Sprintf(":warning: %s loop iteration failed: %v", agent, err))
}

package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordConnection exposes channel read/post actions over the Discord REST
// API. No gateway socket is opened; every action is a plain HTTP call.
type DiscordConnection struct {
	actionSet
	messageReadCount int
	logger           *zap.Logger

	mu      sync.Mutex
	session *discordgo.Session
}

// NewDiscordConnection validates the profile block and registers the discord
// action table.
func NewDiscordConnection(cfg Config, logger *zap.Logger) (*DiscordConnection, error) {
	var dc struct {
		MessageReadCount *int `json:"message_read_count"`
	}
	if err := json.Unmarshal(cfg.Raw, &dc); err != nil {
		return nil, fmt.Errorf("parse discord config: %w", err)
	}
	if dc.MessageReadCount == nil {
		return nil, errors.New("missing required configuration fields: message_read_count")
	}
	if *dc.MessageReadCount <= 0 {
		return nil, errors.New("message_read_count must be a positive integer")
	}

	c := &DiscordConnection{
		messageReadCount: *dc.MessageReadCount,
		logger:           logger,
	}
	c.actionSet = newActionSet(
		Action{
			Name:        "read-messages",
			Description: "Read recent messages from a channel",
			Parameters: []ActionParameter{
				{Name: "channel_id", Required: true, Type: ParamString, Description: "Channel to read from"},
				{Name: "count", Required: false, Type: ParamInt, Description: "Number of messages to read, defaults to the configured message_read_count"},
			},
			Run: c.readMessages,
		},
		Action{
			Name:        "post-message",
			Description: "Post a message to a channel",
			Parameters: []ActionParameter{
				{Name: "channel_id", Required: true, Type: ParamString, Description: "Channel to post to"},
				{Name: "message", Required: true, Type: ParamString, Description: "Text content of the message"},
			},
			Run: c.postMessage,
		},
		Action{
			Name:        "reply-to-message",
			Description: "Reply to an existing message",
			Parameters: []ActionParameter{
				{Name: "channel_id", Required: true, Type: ParamString, Description: "Channel containing the message"},
				{Name: "message_id", Required: true, Type: ParamString, Description: "Message to reply to"},
				{Name: "message", Required: true, Type: ParamString, Description: "Reply text"},
			},
			Run: c.replyToMessage,
		},
		Action{
			Name:        "react-to-message",
			Description: "Add an emoji reaction to a message",
			Parameters: []ActionParameter{
				{Name: "channel_id", Required: true, Type: ParamString, Description: "Channel containing the message"},
				{Name: "message_id", Required: true, Type: ParamString, Description: "Message to react to"},
				{Name: "emoji", Required: true, Type: ParamString, Description: "Emoji to add"},
			},
			Run: c.reactToMessage,
		},
	)
	return c, nil
}

func (c *DiscordConnection) Name() string        { return "discord" }
func (c *DiscordConnection) IsLLMProvider() bool { return false }

func (c *DiscordConnection) IsConfigured(verbose bool) bool {
	if os.Getenv("DISCORD_BOT_TOKEN") == "" {
		if verbose {
			c.logger.Warn("discord connection not configured, DISCORD_BOT_TOKEN is missing")
		}
		return false
	}
	return true
}

func (c *DiscordConnection) PerformAction(ctx context.Context, action string, kwargs map[string]any) (any, error) {
	return c.perform(ctx, action, kwargs)
}

func (c *DiscordConnection) api() (*discordgo.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}
	token := os.Getenv("DISCORD_BOT_TOKEN")
	if token == "" {
		return nil, errors.New("DISCORD_BOT_TOKEN is not set")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	c.session = session
	return c.session, nil
}

func (c *DiscordConnection) readMessages(ctx context.Context, kwargs map[string]any) (any, error) {
	session, err := c.api()
	if err != nil {
		return nil, err
	}
	channelID, _ := kwargs["channel_id"].(string)
	count := c.messageReadCount
	if v, ok := kwargs["count"].(int); ok {
		count = v
	}

	messages, err := session.ChannelMessages(channelID, count, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("read channel messages: %w", err)
	}

	items := make([]TimelineItem, 0, len(messages))
	for _, m := range messages {
		item := TimelineItem{
			ID:        m.ID,
			Text:      m.Content,
			CreatedAt: m.Timestamp.Format(time.RFC3339),
		}
		if m.Author != nil {
			item.AuthorID = m.Author.ID
			item.AuthorName = m.Author.Username
			item.AuthorUsername = m.Author.Username
		}
		items = append(items, item)
	}
	c.logger.Info("channel messages read",
		zap.String("channel_id", channelID), zap.Int("messages", len(items)))
	return items, nil
}

func (c *DiscordConnection) postMessage(ctx context.Context, kwargs map[string]any) (any, error) {
	session, err := c.api()
	if err != nil {
		return nil, err
	}
	channelID, _ := kwargs["channel_id"].(string)
	message, _ := kwargs["message"].(string)
	if message == "" {
		return nil, errors.New("message cannot be empty")
	}

	sent, err := session.ChannelMessageSend(channelID, message, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}
	c.logger.Info("message posted", zap.String("channel_id", channelID), zap.String("message_id", sent.ID))
	return &TimelineItem{ID: sent.ID, Text: sent.Content}, nil
}

func (c *DiscordConnection) replyToMessage(ctx context.Context, kwargs map[string]any) (any, error) {
	session, err := c.api()
	if err != nil {
		return nil, err
	}
	channelID, _ := kwargs["channel_id"].(string)
	messageID, _ := kwargs["message_id"].(string)
	message, _ := kwargs["message"].(string)
	if message == "" {
		return nil, errors.New("message cannot be empty")
	}

	ref := &discordgo.MessageReference{MessageID: messageID, ChannelID: channelID}
	sent, err := session.ChannelMessageSendReply(channelID, message, ref, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("reply to message: %w", err)
	}
	return &TimelineItem{ID: sent.ID, Text: sent.Content}, nil
}

func (c *DiscordConnection) reactToMessage(ctx context.Context, kwargs map[string]any) (any, error) {
	session, err := c.api()
	if err != nil {
		return nil, err
	}
	channelID, _ := kwargs["channel_id"].(string)
	messageID, _ := kwargs["message_id"].(string)
	emoji, _ := kwargs["emoji"].(string)

	if err := session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("add reaction: %w", err)
	}
	return map[string]bool{"reacted": true}, nil
}

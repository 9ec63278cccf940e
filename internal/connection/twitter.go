package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dghubble/oauth1"
	"go.uber.org/zap"
)

const (
	twitterAPIBase = "https://api.twitter.com/2"
	maxTweetLength = 280
)

// twitterEnvVars are the environment variables the connection authenticates
// and identifies itself with. All of them must be present.
var twitterEnvVars = []string{
	"TWITTER_CONSUMER_KEY",
	"TWITTER_CONSUMER_SECRET",
	"TWITTER_ACCESS_TOKEN",
	"TWITTER_ACCESS_TOKEN_SECRET",
	"TWITTER_USER_ID",
	"TWITTER_USERNAME",
}

// TwitterConnection talks to the Twitter v2 API with OAuth1 user-context
// signing. The authenticated client is created lazily and reused.
type TwitterConnection struct {
	actionSet
	timelineReadCount int
	baseURL           string
	logger            *zap.Logger

	mu     sync.Mutex
	client *http.Client
}

type twitterConfig struct {
	TimelineReadCount *int     `json:"timeline_read_count"`
	SelfReplyChance   *float64 `json:"self_reply_chance"`
	TweetInterval     *int     `json:"tweet_interval"`
}

// NewTwitterConnection validates the profile block and registers the twitter
// action table.
func NewTwitterConnection(cfg Config, logger *zap.Logger) (*TwitterConnection, error) {
	var tc twitterConfig
	if err := json.Unmarshal(cfg.Raw, &tc); err != nil {
		return nil, fmt.Errorf("parse twitter config: %w", err)
	}
	if err := tc.validate(); err != nil {
		return nil, err
	}

	c := &TwitterConnection{
		timelineReadCount: *tc.TimelineReadCount,
		baseURL:           twitterAPIBase,
		logger:            logger,
	}
	c.actionSet = newActionSet(
		Action{
			Name:        "get-latest-tweets",
			Description: "Get the latest tweets from a user",
			Parameters: []ActionParameter{
				{Name: "username", Required: true, Type: ParamString, Description: "Username to fetch tweets from"},
				{Name: "count", Required: true, Type: ParamInt, Description: "Number of tweets to retrieve"},
			},
			Run: c.getLatestTweets,
		},
		Action{
			Name:        "post-tweet",
			Description: "Post a new tweet",
			Parameters: []ActionParameter{
				{Name: "message", Required: true, Type: ParamString, Description: "Text content of the tweet"},
			},
			Run: c.postTweet,
		},
		Action{
			Name:        "read-timeline",
			Description: "Read tweets from the authenticated user's timeline",
			Parameters: []ActionParameter{
				{Name: "count", Required: false, Type: ParamInt, Description: "Number of tweets to read, defaults to the configured timeline_read_count"},
			},
			Run: c.readTimeline,
		},
		Action{
			Name:        "like-tweet",
			Description: "Like a specific tweet",
			Parameters: []ActionParameter{
				{Name: "tweet_id", Required: true, Type: ParamString, Description: "ID of the tweet to like"},
			},
			Run: c.likeTweet,
		},
		Action{
			Name:        "reply-to-tweet",
			Description: "Reply to an existing tweet",
			Parameters: []ActionParameter{
				{Name: "tweet_id", Required: true, Type: ParamString, Description: "ID of the tweet to reply to"},
				{Name: "message", Required: true, Type: ParamString, Description: "Reply text"},
			},
			Run: c.replyToTweet,
		},
	)
	return c, nil
}

func (tc *twitterConfig) validate() error {
	var missing []string
	if tc.TimelineReadCount == nil {
		missing = append(missing, "timeline_read_count")
	}
	if tc.SelfReplyChance == nil {
		missing = append(missing, "self_reply_chance")
	}
	if tc.TweetInterval == nil {
		missing = append(missing, "tweet_interval")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missing, ", "))
	}

	var errs []error
	if *tc.TimelineReadCount <= 0 {
		errs = append(errs, errors.New("timeline_read_count must be a positive integer"))
	}
	if *tc.SelfReplyChance < 0 {
		errs = append(errs, errors.New("self_reply_chance must be 0 or greater"))
	}
	if *tc.TweetInterval <= 0 {
		errs = append(errs, errors.New("tweet_interval must be a positive integer"))
	}
	return errors.Join(errs...)
}

func (c *TwitterConnection) Name() string        { return "twitter" }
func (c *TwitterConnection) IsLLMProvider() bool { return false }

// IsConfigured reports whether all required credentials are present in the
// environment. It never fails; verbose mode logs the missing variables.
func (c *TwitterConnection) IsConfigured(verbose bool) bool {
	if _, err := twitterCredentials(); err != nil {
		if verbose {
			c.logger.Warn("twitter connection not configured", zap.Error(err))
		}
		return false
	}
	return true
}

func (c *TwitterConnection) PerformAction(ctx context.Context, action string, kwargs map[string]any) (any, error) {
	return c.perform(ctx, action, kwargs)
}

func twitterCredentials() (map[string]string, error) {
	creds := make(map[string]string, len(twitterEnvVars))
	var missing []string
	for _, key := range twitterEnvVars {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
			continue
		}
		creds[key] = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing twitter credentials: %s", strings.Join(missing, ", "))
	}
	return creds, nil
}

func (c *TwitterConnection) httpClient() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	creds, err := twitterCredentials()
	if err != nil {
		return nil, err
	}
	conf := oauth1.NewConfig(creds["TWITTER_CONSUMER_KEY"], creds["TWITTER_CONSUMER_SECRET"])
	token := oauth1.NewToken(creds["TWITTER_ACCESS_TOKEN"], creds["TWITTER_ACCESS_TOKEN_SECRET"])
	c.client = conf.Client(oauth1.NoContext, token)
	c.client.Timeout = 30 * time.Second
	return c.client, nil
}

func (c *TwitterConnection) request(ctx context.Context, method, path string, query url.Values, body, out any) error {
	client, err := c.httpClient()
	if err != nil {
		return err
	}

	endpoint := c.baseURL + "/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("twitter api request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("twitter api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// TweetResult is a posted tweet as echoed back by the platform.
type TweetResult struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// LikeResult reports whether a like was applied.
type LikeResult struct {
	Liked bool `json:"liked"`
}

type tweetEnvelope struct {
	Data TweetResult `json:"data"`
}

type likeEnvelope struct {
	Data LikeResult `json:"data"`
}

type timelineEnvelope struct {
	Data []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		AuthorID  string `json:"author_id"`
		CreatedAt string `json:"created_at"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
}

type userEnvelope struct {
	Data struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
}

func validateTweetText(text string) error {
	if text == "" {
		return errors.New("tweet text cannot be empty")
	}
	if utf8.RuneCountInString(text) > maxTweetLength {
		return fmt.Errorf("tweet text exceeds %d characters", maxTweetLength)
	}
	return nil
}

func (c *TwitterConnection) readTimeline(ctx context.Context, kwargs map[string]any) (any, error) {
	count := c.timelineReadCount
	if v, ok := kwargs["count"].(int); ok {
		count = v
	}
	creds, err := twitterCredentials()
	if err != nil {
		return nil, err
	}

	c.logger.Info("reading timeline", zap.Int("count", count))
	query := url.Values{
		"tweet.fields": {"created_at,author_id,attachments"},
		"expansions":   {"author_id"},
		"user.fields":  {"name,username"},
		"max_results":  {fmt.Sprint(count)},
	}
	var env timelineEnvelope
	path := fmt.Sprintf("users/%s/timelines/reverse_chronological", creds["TWITTER_USER_ID"])
	if err := c.request(ctx, http.MethodGet, path, query, nil, &env); err != nil {
		return nil, err
	}

	authors := make(map[string]struct{ name, username string }, len(env.Includes.Users))
	for _, u := range env.Includes.Users {
		authors[u.ID] = struct{ name, username string }{u.Name, u.Username}
	}

	items := make([]TimelineItem, 0, len(env.Data))
	for _, t := range env.Data {
		item := TimelineItem{
			ID:             t.ID,
			Text:           t.Text,
			AuthorID:       t.AuthorID,
			AuthorName:     "Unknown",
			AuthorUsername: "Unknown",
			CreatedAt:      t.CreatedAt,
		}
		if a, ok := authors[t.AuthorID]; ok {
			item.AuthorName = a.name
			item.AuthorUsername = a.username
		}
		items = append(items, item)
	}
	c.logger.Info("timeline read", zap.Int("tweets", len(items)))
	return items, nil
}

func (c *TwitterConnection) postTweet(ctx context.Context, kwargs map[string]any) (any, error) {
	message, _ := kwargs["message"].(string)
	if err := validateTweetText(message); err != nil {
		return nil, err
	}
	c.logger.Info("posting tweet", zap.Int("length", utf8.RuneCountInString(message)))
	var env tweetEnvelope
	if err := c.request(ctx, http.MethodPost, "tweets", nil, map[string]string{"text": message}, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

func (c *TwitterConnection) replyToTweet(ctx context.Context, kwargs map[string]any) (any, error) {
	tweetID, _ := kwargs["tweet_id"].(string)
	message, _ := kwargs["message"].(string)
	if tweetID == "" {
		return nil, errors.New("tweet_id cannot be empty")
	}
	if err := validateTweetText(message); err != nil {
		return nil, err
	}
	c.logger.Info("replying to tweet", zap.String("tweet_id", tweetID))
	body := map[string]any{
		"text":  message,
		"reply": map[string]string{"in_reply_to_tweet_id": tweetID},
	}
	var env tweetEnvelope
	if err := c.request(ctx, http.MethodPost, "tweets", nil, body, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

func (c *TwitterConnection) likeTweet(ctx context.Context, kwargs map[string]any) (any, error) {
	tweetID, _ := kwargs["tweet_id"].(string)
	if tweetID == "" {
		return nil, errors.New("tweet_id cannot be empty")
	}
	creds, err := twitterCredentials()
	if err != nil {
		return nil, err
	}
	c.logger.Info("liking tweet", zap.String("tweet_id", tweetID))
	var env likeEnvelope
	path := fmt.Sprintf("users/%s/likes", creds["TWITTER_USER_ID"])
	if err := c.request(ctx, http.MethodPost, path, nil, map[string]string{"tweet_id": tweetID}, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

func (c *TwitterConnection) getLatestTweets(ctx context.Context, kwargs map[string]any) (any, error) {
	username, _ := kwargs["username"].(string)
	count, _ := kwargs["count"].(int)
	if username == "" {
		return nil, errors.New("username cannot be empty")
	}

	var user userEnvelope
	if err := c.request(ctx, http.MethodGet, "users/by/username/"+url.PathEscape(username), nil, nil, &user); err != nil {
		return nil, err
	}

	query := url.Values{
		"tweet.fields": {"created_at,text"},
		"max_results":  {fmt.Sprint(count)},
		"exclude":      {"retweets,replies"},
	}
	var env timelineEnvelope
	if err := c.request(ctx, http.MethodGet, "users/"+user.Data.ID+"/tweets", query, nil, &env); err != nil {
		return nil, err
	}

	items := make([]TimelineItem, 0, len(env.Data))
	for _, t := range env.Data {
		items = append(items, TimelineItem{
			ID:             t.ID,
			Text:           t.Text,
			AuthorID:       user.Data.ID,
			AuthorUsername: user.Data.Username,
			CreatedAt:      t.CreatedAt,
		})
	}
	return items, nil
}

// Package discord delivers review notifications through Discord channel
// webhooks. The bot token manages the webhooks; messages are executed through
// each webhook's own token.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-notifier/internal/tracker"
)

const (
	defaultBaseURL = "https://discord.com/api/v10"
	defaultTimeout = 15 * time.Second
	cdnBaseURL     = "https://cdn.discordapp.com"
)

// Config controls the REST client.
type Config struct {
	Token   string
	BaseURL string
	Timeout time.Duration
	// Retries is how often 429 and 5xx responses are retried.
	Retries   int
	RetryWait time.Duration
}

// Client implements tracker.Messenger on the Discord REST API.
type Client struct {
	http   *resty.Client
	logger *zap.Logger

	mu     sync.Mutex
	tokens map[string]string
	self   *identity
}

var _ tracker.Messenger = (*Client)(nil)

type identity struct {
	Username  string
	AvatarURL string
}

type webhook struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	ChannelID string `json:"channel_id"`
}

type botUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Authorization", "Bot "+cfg.Token)
	client.SetHeader("User-Agent", "DiscordBot (https://github.com/JakeFAU/review-notifier, 1.0)")
	if cfg.Retries > 0 {
		client.SetRetryCount(cfg.Retries)
		if cfg.RetryWait > 0 {
			client.SetRetryWaitTime(cfg.RetryWait)
		}
		client.AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil || r == nil {
				return false
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})
	}

	return &Client{
		http:   client,
		logger: logger,
		tokens: make(map[string]string),
	}, nil
}

// VerifyEndpoint checks that the webhook still exists and is reachable.
// 403 maps to ErrEndpointPermissionDenied; a malformed id or any other 4xx
// maps to ErrEndpointInvalid.
func (c *Client) VerifyEndpoint(ctx context.Context, endpointID string) error {
	_, err := c.webhook(ctx, endpointID)
	return err
}

func (c *Client) webhook(ctx context.Context, endpointID string) (webhook, error) {
	if !isSnowflake(endpointID) {
		return webhook{}, fmt.Errorf("webhook %q: %w: malformed id", endpointID, tracker.ErrEndpointInvalid)
	}
	var hook webhook
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", endpointID).
		SetResult(&hook).
		Get("/webhooks/{id}")
	if err != nil {
		return webhook{}, fmt.Errorf("get webhook %s: %w", endpointID, err)
	}
	if err := endpointStatus("get webhook "+endpointID, resp); err != nil {
		return webhook{}, err
	}
	if hook.Token != "" {
		c.mu.Lock()
		c.tokens[endpointID] = hook.Token
		c.mu.Unlock()
	}
	return hook, nil
}

// CreateEndpoint creates a webhook named name in channelID and returns its id.
func (c *Client) CreateEndpoint(ctx context.Context, channelID, name string) (string, error) {
	var hook webhook
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("channel", channelID).
		SetBody(map[string]string{"name": name}).
		SetResult(&hook).
		Post("/channels/{channel}/webhooks")
	if err != nil {
		return "", fmt.Errorf("create webhook in %s: %w", channelID, err)
	}
	if resp.StatusCode() == http.StatusForbidden {
		return "", fmt.Errorf("create webhook in %s: %w", channelID, tracker.ErrEndpointPermissionDenied)
	}
	if resp.IsError() {
		return "", statusError("create webhook in "+channelID, resp)
	}
	if hook.ID == "" {
		return "", fmt.Errorf("create webhook in %s: empty id in response", channelID)
	}
	if hook.Token != "" {
		c.mu.Lock()
		c.tokens[hook.ID] = hook.Token
		c.mu.Unlock()
	}
	c.logger.Info("webhook created", zap.String("channel_id", channelID), zap.String("webhook_id", hook.ID))
	return hook.ID, nil
}

// Send executes the webhook with msg rendered as one embed.
func (c *Client) Send(ctx context.Context, endpointID string, msg tracker.Message) error {
	token, err := c.token(ctx, endpointID)
	if err != nil {
		return err
	}
	payload := webhookPayload{Embeds: []embed{toEmbed(msg)}}
	if self, err := c.identity(ctx); err != nil {
		c.logger.Warn("bot identity unavailable", zap.Error(err))
	} else {
		payload.Username = self.Username
		payload.AvatarURL = self.AvatarURL
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"id": endpointID, "token": token}).
		SetQueryParam("wait", "true").
		SetBody(payload).
		Post("/webhooks/{id}/{token}")
	if err != nil {
		return fmt.Errorf("execute webhook %s: %w", endpointID, err)
	}
	if err := endpointStatus("execute webhook "+endpointID, resp); err != nil {
		if errors.Is(err, tracker.ErrEndpointInvalid) {
			c.forget(endpointID)
		}
		return err
	}
	return nil
}

// DeleteEndpoint deletes the webhook. A webhook that is already gone is not an error.
func (c *Client) DeleteEndpoint(ctx context.Context, endpointID, reason string) error {
	if !isSnowflake(endpointID) {
		return nil
	}
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("id", endpointID)
	if reason != "" {
		req.SetHeader("X-Audit-Log-Reason", url.PathEscape(reason))
	}
	resp, err := req.Delete("/webhooks/{id}")
	if err != nil {
		return fmt.Errorf("delete webhook %s: %w", endpointID, err)
	}
	c.forget(endpointID)
	if resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return endpointStatus("delete webhook "+endpointID, resp)
}

func (c *Client) token(ctx context.Context, endpointID string) (string, error) {
	c.mu.Lock()
	token, ok := c.tokens[endpointID]
	c.mu.Unlock()
	if ok {
		return token, nil
	}
	hook, err := c.webhook(ctx, endpointID)
	if err != nil {
		return "", err
	}
	if hook.Token == "" {
		return "", fmt.Errorf("webhook %s: %w: no token visible to bot", endpointID, tracker.ErrEndpointInvalid)
	}
	return hook.Token, nil
}

func (c *Client) forget(endpointID string) {
	c.mu.Lock()
	delete(c.tokens, endpointID)
	c.mu.Unlock()
}

// identity returns the bot's username and avatar, cached after the first success.
func (c *Client) identity(ctx context.Context) (identity, error) {
	c.mu.Lock()
	cached := c.self
	c.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	var me botUser
	resp, err := c.http.R().SetContext(ctx).SetResult(&me).Get("/users/@me")
	if err != nil {
		return identity{}, fmt.Errorf("get current user: %w", err)
	}
	if resp.IsError() {
		return identity{}, statusError("get current user", resp)
	}
	id := identity{Username: me.Username}
	if me.Avatar != "" {
		id.AvatarURL = fmt.Sprintf("%s/avatars/%s/%s.png", cdnBaseURL, me.ID, me.Avatar)
	}
	c.mu.Lock()
	c.self = &id
	c.mu.Unlock()
	return id, nil
}

func endpointStatus(op string, resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, tracker.ErrEndpointPermissionDenied)
	case code >= 400 && code < 500 && code != http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w: status %d", op, tracker.ErrEndpointInvalid, code)
	case resp.IsError():
		return statusError(op, resp)
	}
	return nil
}

func statusError(op string, resp *resty.Response) error {
	body := strings.TrimSpace(resp.String())
	if n := 200; len(body) > n {
		for n > 0 && !utf8.RuneStart(body[n]) {
			n--
		}
		body = body[:n]
	}
	return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode(), body)
}

func isSnowflake(id string) bool {
	if id == "" {
		return false
	}
	_, err := strconv.ParseUint(id, 10, 64)
	return err == nil
}

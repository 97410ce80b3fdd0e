package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/STRATINT/feedwatch/internal/accounts"
	"github.com/STRATINT/feedwatch/internal/ingestion"
	"github.com/STRATINT/feedwatch/internal/models"
)

const (
	// DefaultBearerToken is the public token the web client ships with.
	DefaultBearerToken = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs=1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

	DefaultBaseURL  = "https://x.com/i/api"
	DefaultGuestURL = "https://api.x.com/1.1/guest/activate.json"

	userByScreenNameQuery = "G3KGOASz96M-Qu0nwmGXNg/UserByScreenName"
	userTweetsQuery       = "E3opETHurmVJflFsUBVuUQ/UserTweets"

	maxResponseBytes = 8 << 20
)

var graphQLFeatures = `{"hidden_profile_subscriptions_enabled":true,"responsive_web_graphql_exclude_directive_enabled":true,"verified_phone_label_enabled":false,"responsive_web_graphql_skip_user_profile_image_extensions_enabled":false,"responsive_web_graphql_timeline_navigation_enabled":true,"longform_notetweets_consumption_enabled":true,"view_counts_everywhere_api_enabled":true,"tweet_awards_web_tipping_enabled":false,"freedom_of_speech_not_reach_fetch_enabled":true}`

// ErrGuestToken means guest activation returned no token.
var ErrGuestToken = errors.New("guest activation returned no token")

// Config configures platform access.
type Config struct {
	BaseURL     string
	GuestURL    string
	BearerToken string
	FetchCount  int
	UserAgent   string
	Logger      *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.GuestURL == "" {
		c.GuestURL = DefaultGuestURL
	}
	if c.BearerToken == "" {
		c.BearerToken = DefaultBearerToken
	}
	if c.FetchCount <= 0 {
		c.FetchCount = 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// Activator builds authenticated clients for accounts.
type Activator struct {
	cfg Config
}

// NewActivator returns an activator using cfg.
func NewActivator(cfg Config) *Activator {
	return &Activator{cfg: cfg.withDefaults()}
}

// Activate obtains a guest token through the account's network path and
// returns a client bound to the account's cookies.
func (a *Activator) Activate(ctx context.Context, acct *accounts.Account) (accounts.FeedSource, error) {
	httpClient, err := newHTTPClient(acct)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     a.cfg,
		http:    httpClient,
		account: acct.Name,
		cookies: cookieHeader(acct.Credentials),
		csrf:    acct.Credentials["ct0"],
		authed:  acct.Credentials["auth_token"] != "",
	}

	token, err := c.guestToken(ctx)
	if err != nil {
		return nil, err
	}
	c.guest = token

	a.cfg.Logger.Debug("guest token acquired", "account", acct.Name)
	return c, nil
}

// Client is the platform session of one account.
type Client struct {
	cfg     Config
	http    *http.Client
	account string
	cookies string
	csrf    string
	authed  bool
	guest   string
}

func (c *Client) guestToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GuestURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("guest activation: %w", err)
	}

	token := gjson.GetBytes(body, "guest_token").String()
	if token == "" {
		return "", ErrGuestToken
	}
	return token, nil
}

// FetchTimeline returns the raw UserTweets payload for userID.
func (c *Client) FetchTimeline(ctx context.Context, userID int64) ([]byte, error) {
	variables := map[string]any{
		"userId":                                 strconv.FormatInt(userID, 10),
		"count":                                  c.cfg.FetchCount,
		"includePromotedContent":                 false,
		"withQuickPromoteEligibilityTweetFields": false,
		"withVoice":                              true,
		"withV2Timeline":                         true,
	}

	body, err := c.graphQL(ctx, userTweetsQuery, variables)
	if err != nil {
		return nil, fmt.Errorf("user tweets %d: %w", userID, err)
	}
	return body, nil
}

// Resolve looks up each handle. Handles the platform does not know are
// omitted; a transport failure aborts the whole lookup.
func (c *Client) Resolve(ctx context.Context, handles []string) (map[string]models.TrackedEntity, error) {
	out := make(map[string]models.TrackedEntity, len(handles))

	for _, handle := range handles {
		key := models.EntityKey(handle)
		if key == "" {
			continue
		}

		body, err := c.graphQL(ctx, userByScreenNameQuery, map[string]any{
			"screen_name":              key,
			"withSafetyModeUserFields": true,
		})
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", key, err)
		}

		user := gjson.GetBytes(body, "data.user.result")
		id := user.Get("rest_id").String()
		if id == "" {
			c.cfg.Logger.Warn("handle not found", "handle", key, "account", c.account)
			continue
		}

		screenName := user.Get("legacy.screen_name").String()
		if screenName == "" {
			screenName = key
		}
		out[key] = models.TrackedEntity{
			Handle:      screenName,
			ResolvedID:  id,
			DisplayName: user.Get("legacy.name").String(),
		}
	}
	return out, nil
}

func (c *Client) graphQL(ctx context.Context, query string, variables map[string]any) ([]byte, error) {
	vars, err := json.Marshal(variables)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("variables", string(vars))
	params.Set("features", graphQLFeatures)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/graphql/"+query+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	if errs := gjson.GetBytes(body, "errors"); errs.Exists() && !gjson.GetBytes(body, "data").Exists() {
		return nil, fmt.Errorf("platform error: %s", errs.Get("0.message").String())
	}
	return body, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Guest-Token", c.guest)
	req.Header.Set("X-Twitter-Active-User", "yes")
	if c.cookies != "" {
		req.Header.Set("Cookie", c.cookies)
	}
	if c.csrf != "" {
		req.Header.Set("X-Csrf-Token", c.csrf)
	}
	if c.authed {
		req.Header.Set("X-Twitter-Auth-Type", "OAuth2Session")
	}
}

// do executes req and returns the body of a 2xx response. A 429 becomes a
// retryable error carrying the server's delay hint.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("http %d: rate limited", resp.StatusCode)
		return nil, ingestion.NewRetryableErrorWithDelay(err, retryAfter(resp.Header, time.Now()))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, snippet(body))
	}
	return body, nil
}

// retryAfter reads Retry-After seconds or the x-rate-limit-reset epoch.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if s := h.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if s := h.Get("X-Rate-Limit-Reset"); s != "" {
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Account is the persisted record of one credential set used to query the
// platform. The runtime copy owned by the account pool lives in
// internal/accounts.
type Account struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Enabled     bool              `json:"enabled"`
	Credentials map[string]string `json:"credentials"`
	Proxy       ProxyConfig       `json:"proxy"`
	RateLimit   RateLimit         `json:"rate_limit"`
	Health      AccountHealth     `json:"health"`
}

// RateLimit bounds the request budget of a single account.
type RateLimit struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	CooldownMinutes   int `json:"cooldown_minutes"`
}

const (
	DefaultRequestsPerMinute = 30
	DefaultCooldownMinutes   = 5
)

// AccountHealth is the usability state of an account. Timestamps are kept as
// strings so credential files written by older tooling load unchanged.
type AccountHealth struct {
	IsHealthy   bool   `json:"is_healthy"`
	LastCheck   string `json:"last_check"`
	FailedCount int    `json:"failed_count"`
	LastSuccess string `json:"last_success"`
	LastError   string `json:"last_error"`
}

// ProxyConfig holds a proxy in host:port:user:pass form.
type ProxyConfig struct {
	Enabled bool
	Raw     string
}

// Configured reports whether the proxy is enabled and has an address.
func (p ProxyConfig) Configured() bool {
	return p.Enabled && strings.TrimSpace(p.Raw) != ""
}

// URL derives the proxy URL. The password may itself contain colons.
func (p ProxyConfig) URL() (*url.URL, error) {
	if !p.Configured() {
		return nil, nil
	}

	parts := strings.Split(p.Raw, ":")
	if len(parts) < 4 {
		return nil, fmt.Errorf("proxy %q: expected host:port:user:pass", p.Host())
	}

	host, port, user := parts[0], parts[1], parts[2]
	pass := strings.Join(parts[3:], ":")

	return &url.URL{
		Scheme: "http",
		User:   url.UserPassword(user, pass),
		Host:   host + ":" + port,
	}, nil
}

// Host returns host:port without credentials, for logs.
func (p ProxyConfig) Host() string {
	parts := strings.SplitN(p.Raw, ":", 3)
	if len(parts) < 2 {
		return parts[0]
	}
	return parts[0] + ":" + parts[1]
}

// MarshalJSON writes the proxy in its compact string form.
func (p ProxyConfig) MarshalJSON() ([]byte, error) {
	if !p.Enabled {
		return json.Marshal("")
	}
	return json.Marshal(p.Raw)
}

// UnmarshalJSON accepts either "host:port:user:pass" or an object with
// enabled/host/port/username/password fields.
func (p *ProxyConfig) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		p.Raw = strings.TrimSpace(raw)
		p.Enabled = p.Raw != ""
		return nil
	}

	var obj struct {
		Enabled  bool        `json:"enabled"`
		Host     string      `json:"host"`
		Port     json.Number `json:"port"`
		Username string      `json:"username"`
		Password string      `json:"password"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		*p = ProxyConfig{}
		if string(data) == "null" {
			return nil
		}
		return fmt.Errorf("proxy: %w", err)
	}

	*p = ProxyConfig{Enabled: obj.Enabled}
	if obj.Enabled && obj.Host != "" {
		p.Raw = fmt.Sprintf("%s:%s:%s:%s", obj.Host, obj.Port, obj.Username, obj.Password)
	}
	return nil
}

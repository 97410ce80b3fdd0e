package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/STRATINT/feedwatch/internal/accounts"
)

// DefaultProbeURL echoes the caller's address, which is enough to prove the
// proxy forwards traffic.
const DefaultProbeURL = "https://httpbin.org/ip"

// ProxyProber checks an account's proxy with a lightweight GET.
type ProxyProber struct {
	url     string
	timeout time.Duration
}

// NewProxyProber returns a prober hitting probeURL with timeout.
func NewProxyProber(probeURL string, timeout time.Duration) *ProxyProber {
	if probeURL == "" {
		probeURL = DefaultProbeURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ProxyProber{url: probeURL, timeout: timeout}
}

// Probe returns nil when a request through the account's proxy gets a 200.
func (p *ProxyProber) Probe(ctx context.Context, acct *accounts.Account) error {
	client, err := newHTTPClient(acct)
	if err != nil {
		return err
	}
	defer client.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe via %s: %w", acct.Proxy.Host(), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe via %s: http %d", acct.Proxy.Host(), resp.StatusCode)
	}
	return nil
}

// Package platform talks to the social platform's web API on behalf of one
// credential account: guest activation, handle resolution, timeline fetches
// and proxy probes.
package platform

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/STRATINT/feedwatch/internal/accounts"
)

// newHTTPClient returns a client whose transport routes through the
// account's proxy, or dials directly when none is configured. Environment
// proxy settings are ignored.
func newHTTPClient(acct *accounts.Account) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil

	proxyURL, err := acct.Proxy.URL()
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", acct.Name, err)
	}
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{Transport: transport}, nil
}

// cookieHeader renders the account credentials as a Cookie header value in
// stable order.
func cookieHeader(creds map[string]string) string {
	names := make([]string, 0, len(creds))
	for name := range creds {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+creds[name])
	}
	return strings.Join(parts, "; ")
}

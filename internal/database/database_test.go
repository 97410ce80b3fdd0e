package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// unreachableURL points at a port nothing listens on.
const unreachableURL = "postgres://feedwatch@127.0.0.1:1/feedwatch?sslmode=disable&connect_timeout=1"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = unreachableURL
	cfg.ConnectTimeout = time.Second
	cfg.PingAttempts = 2
	cfg.PingBackoff = 10 * time.Millisecond
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func TestConnectRequiresURL(t *testing.T) {
	if _, err := Connect(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestConnectRetriesPing(t *testing.T) {
	_, err := Connect(context.Background(), testConfig())
	if err == nil {
		t.Fatal("expected ping failure")
	}
	if !strings.Contains(err.Error(), "after 2 attempt(s)") {
		t.Errorf("err = %v", err)
	}
}

func TestConnectStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.PingAttempts = 10
	cfg.PingBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := Connect(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Connect ignored cancellation for %v", time.Since(start))
	}
}

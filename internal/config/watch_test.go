package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	path := writeFile(t, "bridge:\n  rate_limit: 1\n")
	reloads := make(chan Config, 4)
	w, err := NewWatcher(path, nil, func(cfg Config) { reloads <- cfg })
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("bridge:\n  rate_limit: 7\n"), 0o600))
	select {
	case cfg := <-reloads:
		require.InDelta(t, 7, cfg.Bridge.RateLimit, 0)
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestWatcherSkipsInvalidConfig(t *testing.T) {
	path := writeFile(t, "mode: native\n")
	reloads := make(chan Config, 4)
	w, err := NewWatcher(path, nil, func(cfg Config) { reloads <- cfg })
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("mode: smoke-signal\n"), 0o600))
	select {
	case cfg := <-reloads:
		t.Fatalf("unexpected reload: %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestNewWatcherValidatesArgs(t *testing.T) {
	_, err := NewWatcher("", nil, func(Config) {})
	require.Error(t, err)
	_, err = NewWatcher(writeFile(t, ""), nil, nil)
	require.Error(t, err)
}

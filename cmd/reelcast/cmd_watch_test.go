package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/reelcast/reelcast/internal/adapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()

	cfg := adapter.DefaultConfig()
	cfg.Backend.Type = adapter.BackendTypeLocal
	cfg.Backend.LocalPath = filepath.Join(dir, "reelcast.db")
	cfg.Backend.UserID = "me"
	cfg.Cache.Dir = filepath.Join(dir, "cache")

	a := NewApp(cfg, adapter.NullLogger(), nil)
	t.Cleanup(a.Close)
	return a
}

func TestProgressCmd_UsesTrackerOnly(t *testing.T) {
	app = newLocalApp(t)
	t.Cleanup(func() { app = nil })

	var out bytes.Buffer
	progressCmd.SetOut(&out)
	progressCmd.SetContext(context.Background())
	t.Cleanup(func() { progressCmd.SetOut(nil) })

	require.NoError(t, runProgress(progressCmd, []string{"ep-1", "95", "10m"}))
	assert.Contains(t, out.String(), "Saved 1m35s of 10m0s")

	assert.Nil(t, app.cache, "recording progress does not open the video cache")
	assert.Nil(t, app.urls, "recording progress does not start the blob server")

	tracker, err := app.Tracker()
	require.NoError(t, err)
	wp, err := tracker.Get(context.Background(), "ep-1")
	require.NoError(t, err)
	assert.Equal(t, 95*time.Second, wp.Offset())
}

func TestParseSeconds(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"95", 95 * time.Second, true},
		{"1.5", 1500 * time.Millisecond, true},
		{"1m35s", 95 * time.Second, true},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, err := parseSeconds(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-relay/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second
	cfg.Store.Path = filepath.Join(t.TempDir(), "wirechat.db")
	return &cfg
}

func TestAppRunsUntilCanceled(t *testing.T) {
	logger := zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())

	application, err := New(ctx, testConfig(t), &logger)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	logger := zerolog.Nop()

	cfg := testConfig(t)
	cfg.Fanout.Driver = "carrier-pigeon"
	_, err := New(context.Background(), cfg, &logger)
	assert.ErrorContains(t, err, "fanout.driver")

	cfg = testConfig(t)
	cfg.Fanout.Driver = "redis"
	cfg.Fanout.RedisURL = "not a url"
	_, err = New(context.Background(), cfg, &logger)
	assert.ErrorContains(t, err, "init fanout")
}

func TestResumeTokens(t *testing.T) {
	logger := zerolog.Nop()

	tokens, err := resumeTokens(config.RecoveryConfig{Enabled: false}, &logger)
	require.NoError(t, err)
	assert.Nil(t, tokens)

	tokens, err = resumeTokens(config.RecoveryConfig{Enabled: true, Secret: "s3cret", TokenTTL: time.Minute}, &logger)
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), tokens.Secret)

	tokens, err = resumeTokens(config.RecoveryConfig{Enabled: true}, &logger)
	require.NoError(t, err)
	assert.Len(t, tokens.Secret, 32)
}

func TestHubOptionsFollowConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Chat.HistoryLimit = 7
	cfg.Recovery.Buffer = 12
	cfg.Recovery.SweepInterval = 3 * time.Second

	opts := hubOptions(cfg)
	assert.Equal(t, 7, opts.HistoryLimit)
	assert.Equal(t, 12, opts.ParkBuffer)
	assert.Equal(t, 3*time.Second, opts.SweepInterval)
	assert.Equal(t, cfg.Recovery.MaxDisconnect, opts.MaxDisconnect)
	assert.True(t, opts.RecoveryEnabled)
}

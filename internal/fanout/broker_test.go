package fanout

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-relay/internal/core"
)

// exerciseBroker checks that two workers on the same broker both see every
// publish, including their own.
func exerciseBroker(t *testing.T, a, b core.Fanout) {
	t.Helper()

	var gotA, gotB collector
	listen(t, a, &gotA)
	listen(t, b, &gotB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := core.Message{ID: 7, Room: "general", Nickname: "alice", Text: "hi", ClientOffset: "off-7", CreatedAt: time.Now().UTC()}
	require.Eventually(t, func() bool {
		require.NoError(t, a.Publish(ctx, msg))
		return len(gotA.ids()) > 0 && len(gotB.ids()) > 0
	}, 5*time.Second, 100*time.Millisecond)

	assert.Contains(t, gotA.ids(), int64(7))
	assert.Contains(t, gotB.ids(), int64(7))
}

func TestRedisFanout(t *testing.T) {
	url := os.Getenv("WIRECHAT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("WIRECHAT_TEST_REDIS_URL not set")
	}
	prefix := "wirechat:test:" + uuid.NewString() + ":"

	ctx := context.Background()
	a, err := NewRedis(ctx, url, prefix, "a", nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedis(ctx, url, prefix, "b", nil)
	require.NoError(t, err)
	defer b.Close()

	exerciseBroker(t, a, b)
}

func TestNATSFanout(t *testing.T) {
	url := os.Getenv("WIRECHAT_TEST_NATS_URL")
	if url == "" {
		t.Skip("WIRECHAT_TEST_NATS_URL not set")
	}
	prefix := "wirechat.test." + uuid.NewString()

	a, err := NewNATS(url, prefix, "a", nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewNATS(url, prefix, "b", nil)
	require.NoError(t, err)
	defer b.Close()

	exerciseBroker(t, a, b)
}

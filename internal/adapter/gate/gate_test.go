package gate

import (
	"context"
	"testing"
	"time"

	"github.com/RawleySM/llm-shotgun/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Providers["anthropic"] = config.ProviderConfig{Concurrency: 2}
	return cfg
}

func TestAcquire_RespectsLimit(t *testing.T) {
	g := New(testConfig())
	ctx := context.Background()

	release1, err := g.Acquire(ctx, "anthropic")
	require.NoError(t, err)
	release2, err := g.Acquire(ctx, "anthropic")
	require.NoError(t, err)

	assert.Equal(t, 2, g.Inflight("anthropic"))

	acquired := make(chan struct{})
	go func() {
		release3, err := g.Acquire(ctx, "anthropic")
		require.NoError(t, err)
		close(acquired)
		release3()
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should have blocked while limit is exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	release1()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third acquire should have proceeded after a release")
	}

	release2()
}

func TestAcquire_CancelledContextReturnsError(t *testing.T) {
	g := New(testConfig())
	release, err := g.Acquire(context.Background(), "anthropic")
	require.NoError(t, err)
	_, err = g.Acquire(context.Background(), "anthropic")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = g.Acquire(ctx, "anthropic")
	assert.Error(t, err)

	release()
}

func TestLimit_DefaultsByProvider(t *testing.T) {
	g := New(config.DefaultConfig())
	assert.Equal(t, config.DefaultOpenAIConcurrency, g.Limit("openai"))
	assert.Equal(t, config.DefaultProviderConcurrency, g.Limit("gemini"))
}

func TestRelease_SecondCallIsNoop(t *testing.T) {
	g := New(testConfig())
	release, err := g.Acquire(context.Background(), "anthropic")
	require.NoError(t, err)
	release()
	release()
	assert.Equal(t, 0, g.Inflight("anthropic"))
}

package safecall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RawleySM/llm-shotgun/internal/adapter/breaker"
	"github.com/RawleySM/llm-shotgun/internal/adapter/gate"
	"github.com/RawleySM/llm-shotgun/internal/adapter/provider"
	"github.com/RawleySM/llm-shotgun/internal/config"
	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopBackoff(n int) time.Duration { return 0 }

func newTestCaller(adaptor ports.ProviderAdaptor) (*Caller, *breaker.Breaker) {
	b := breaker.New()
	g := gate.New(config.DefaultConfig())
	c := New(map[string]ports.ProviderAdaptor{"openai": adaptor}, b, g, noopBackoff)
	c.sleep = func(ctx context.Context, d time.Duration) {}
	return c, b
}

// stubBreaker lets probe-routing tests dictate Gate's outcome directly,
// since the real breaker's cooldown can't be reached without a sleep.
type stubBreaker struct {
	probe   bool
	gateErr error

	successes int
	failures  []domain.FailureClass
}

func (s *stubBreaker) Gate(provider string) (bool, error) { return s.probe, s.gateErr }
func (s *stubBreaker) RecordSuccess(provider string)       { s.successes++ }
func (s *stubBreaker) RecordFailure(provider string, class domain.FailureClass) {
	s.failures = append(s.failures, class)
}
func (s *stubBreaker) ProbeTimeout() time.Duration { return 5 * time.Second }
func (s *stubBreaker) Snapshot(provider string) domain.ProviderStatus {
	return domain.ProviderStatus{Provider: provider}
}
func (s *stubBreaker) AllSnapshots() []domain.ProviderStatus { return nil }

// spyGate counts Acquire calls so probe tests can assert a probe never
// consumes a C3 permit.
type spyGate struct {
	inner        ports.Gate
	acquireCalls int
}

func (g *spyGate) Acquire(ctx context.Context, provider string) (func(), error) {
	g.acquireCalls++
	return g.inner.Acquire(ctx, provider)
}
func (g *spyGate) Inflight(provider string) int { return g.inner.Inflight(provider) }
func (g *spyGate) Limit(provider string) int    { return g.inner.Limit(provider) }

func TestCallModel_SuccessYieldsTokensAndRecordsSuccess(t *testing.T) {
	fa := &provider.FakeAdaptor{
		ProviderName: "openai",
		Calls: []func() (ports.RawTokenStream, error){
			func() (ports.RawTokenStream, error) {
				return &provider.FakeStream{Tokens: []string{"a", "b"}}, nil
			},
		},
	}
	c, b := newTestCaller(fa)

	stream, err := c.CallModel(context.Background(), "openai", "gpt-3.5-turbo", "hi")
	require.NoError(t, err)

	var got []string
	for {
		tok, ok := stream.Next(context.Background())
		if !ok {
			break
		}
		got = append(got, tok)
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, domain.CircuitClosed, b.Snapshot("openai").State)
}

func TestCallModel_RateLimitRetriesThenExhausts(t *testing.T) {
	rateLimitErr := domain.NewProviderError("openai", "gpt-3.5-turbo", domain.ClassRateLimit, errors.New("429"))
	fa := &provider.FakeAdaptor{
		ProviderName: "openai",
		Calls: []func() (ports.RawTokenStream, error){
			func() (ports.RawTokenStream, error) { return nil, rateLimitErr },
			func() (ports.RawTokenStream, error) { return nil, rateLimitErr },
			func() (ports.RawTokenStream, error) { return nil, rateLimitErr },
		},
	}
	c, _ := newTestCaller(fa)

	_, err := c.CallModel(context.Background(), "openai", "gpt-3.5-turbo", "hi")
	require.Error(t, err)
	var exhausted *domain.ErrGenerationExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, MaxAttempts, exhausted.Attempts)
}

func TestCallModel_ProviderDownFailsImmediatelyNoRetry(t *testing.T) {
	downErr := domain.NewProviderError("openai", "gpt-3.5-turbo", domain.ClassProviderDown, errors.New("503"))
	callCount := 0
	fa := &provider.FakeAdaptor{
		ProviderName: "openai",
		Calls: []func() (ports.RawTokenStream, error){
			func() (ports.RawTokenStream, error) { callCount++; return nil, downErr },
		},
	}
	c, b := newTestCaller(fa)

	_, err := c.CallModel(context.Background(), "openai", "gpt-3.5-turbo", "hi")
	require.Error(t, err)
	var pd *domain.ErrProviderDown
	require.ErrorAs(t, err, &pd)
	assert.Equal(t, 1, callCount)
	assert.Equal(t, 1, b.Snapshot("openai").ConsecutiveFails)
}

func TestCallModel_FatalFailsImmediatelyNoCBCount(t *testing.T) {
	fatalErr := domain.NewProviderError("openai", "gpt-3.5-turbo", domain.ClassFatal, errors.New("401"))
	fa := &provider.FakeAdaptor{
		ProviderName: "openai",
		Calls: []func() (ports.RawTokenStream, error){
			func() (ports.RawTokenStream, error) { return nil, fatalErr },
		},
	}
	c, b := newTestCaller(fa)

	_, err := c.CallModel(context.Background(), "openai", "gpt-3.5-turbo", "hi")
	require.Error(t, err)
	var fe *domain.ErrFatal
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 0, b.Snapshot("openai").ConsecutiveFails)
}

func TestCallModel_GateOpenFailsImmediately(t *testing.T) {
	downErr := domain.NewProviderError("openai", "gpt-3.5-turbo", domain.ClassProviderDown, errors.New("503"))
	fa := &provider.FakeAdaptor{
		ProviderName: "openai",
		Calls: []func() (ports.RawTokenStream, error){
			func() (ports.RawTokenStream, error) { return nil, downErr },
			func() (ports.RawTokenStream, error) { return nil, downErr },
			func() (ports.RawTokenStream, error) { return nil, downErr },
		},
	}
	c, _ := newTestCaller(fa)

	for i := 0; i < breaker.DefaultFailureThreshold; i++ {
		_, err := c.CallModel(context.Background(), "openai", "gpt-3.5-turbo", "hi")
		require.Error(t, err)
	}

	_, err := c.CallModel(context.Background(), "openai", "gpt-3.5-turbo", "hi")
	require.Error(t, err)
	var pd *domain.ErrProviderDown
	require.ErrorAs(t, err, &pd)
}

func TestCallModel_MidStreamFailureYieldsPriorTokens(t *testing.T) {
	fa := &provider.FakeAdaptor{
		ProviderName: "openai",
		Calls: []func() (ports.RawTokenStream, error){
			func() (ports.RawTokenStream, error) {
				return &provider.FakeStream{Tokens: []string{"a", "b"}, FailErr: errors.New("connection reset")}, nil
			},
		},
	}
	c, b := newTestCaller(fa)

	stream, err := c.CallModel(context.Background(), "openai", "gpt-3.5-turbo", "hi")
	require.NoError(t, err)

	var got []string
	for {
		tok, ok := stream.Next(context.Background())
		if !ok {
			break
		}
		got = append(got, tok)
	}
	assert.Equal(t, []string{"a", "b"}, got)
	var fe *domain.ErrFatal
	require.ErrorAs(t, stream.Err(), &fe)
	assert.Zero(t, b.Snapshot("openai").ConsecutiveFails)
}

func TestCallModel_MidStreamProviderDownClassifiesAndRecordsFailure(t *testing.T) {
	downErr := domain.NewProviderError("openai", "gpt-3.5-turbo", domain.ClassProviderDown, errors.New("connection reset"))
	fa := &provider.FakeAdaptor{
		ProviderName: "openai",
		Calls: []func() (ports.RawTokenStream, error){
			func() (ports.RawTokenStream, error) {
				return &provider.FakeStream{Tokens: []string{"a", "b"}, FailErr: downErr}, nil
			},
		},
	}
	c, b := newTestCaller(fa)

	stream, err := c.CallModel(context.Background(), "openai", "gpt-3.5-turbo", "hi")
	require.NoError(t, err)

	var got []string
	for {
		tok, ok := stream.Next(context.Background())
		if !ok {
			break
		}
		got = append(got, tok)
	}
	assert.Equal(t, []string{"a", "b"}, got)
	var pd *domain.ErrProviderDown
	require.ErrorAs(t, stream.Err(), &pd)
	assert.Equal(t, 1, b.Snapshot("openai").ConsecutiveFails)
}

func TestCallModel_ProbeBypassesGateThenRealCallProceeds(t *testing.T) {
	fa := &provider.FakeAdaptor{
		ProviderName: "openai",
		Calls: []func() (ports.RawTokenStream, error){
			func() (ports.RawTokenStream, error) {
				return &provider.FakeStream{}, nil // the probe: no tokens, no error
			},
			func() (ports.RawTokenStream, error) {
				return &provider.FakeStream{Tokens: []string{"a"}}, nil // the real request
			},
		},
	}
	sb := &stubBreaker{probe: true}
	sg := &spyGate{inner: gate.New(config.DefaultConfig())}
	c := New(map[string]ports.ProviderAdaptor{"openai": fa}, sb, sg, noopBackoff)
	c.sleep = func(ctx context.Context, d time.Duration) {}

	stream, err := c.CallModel(context.Background(), "openai", "gpt-3.5-turbo", "hi")
	require.NoError(t, err)

	var got []string
	for {
		tok, ok := stream.Next(context.Background())
		if !ok {
			break
		}
		got = append(got, tok)
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []string{"a"}, got)

	assert.Equal(t, 1, sg.acquireCalls, "the probe must not acquire a concurrency permit")
	assert.GreaterOrEqual(t, sb.successes, 1, "a successful probe must record success")
	assert.Empty(t, sb.failures)
}

func TestCallModel_ProbeFailureFailsFastWithoutGateOrRealCall(t *testing.T) {
	downErr := domain.NewProviderError("openai", "gpt-3.5-turbo", domain.ClassProviderDown, errors.New("503"))
	fa := &provider.FakeAdaptor{
		ProviderName: "openai",
		Calls: []func() (ports.RawTokenStream, error){
			func() (ports.RawTokenStream, error) { return nil, downErr }, // the probe fails
		},
	}
	sb := &stubBreaker{probe: true}
	sg := &spyGate{inner: gate.New(config.DefaultConfig())}
	c := New(map[string]ports.ProviderAdaptor{"openai": fa}, sb, sg, noopBackoff)
	c.sleep = func(ctx context.Context, d time.Duration) {}

	_, err := c.CallModel(context.Background(), "openai", "gpt-3.5-turbo", "hi")
	require.Error(t, err)
	var pd *domain.ErrProviderDown
	require.ErrorAs(t, err, &pd)

	assert.Equal(t, 0, sg.acquireCalls, "a failed probe must never reach the concurrency gate")
	assert.Equal(t, []domain.FailureClass{domain.ClassProviderDown}, sb.failures)
	assert.Zero(t, sb.successes)
}

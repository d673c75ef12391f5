package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAICompatAdaptor_StreamRaw_YieldsTokensThenEOF(t *testing.T) {
	lines := []string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: [DONE]`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	a := NewOpenAICompatAdaptor("openai", srv.URL, "test-key", srv.Client())
	stream, err := a.StreamRaw(context.Background(), "gpt-3.5-turbo", "hi")
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
	assert.Equal(t, []string{"Hel", "lo"}, got)
}

func TestOpenAICompatAdaptor_StreamRaw_ErrorStatusClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewOpenAICompatAdaptor("openai", srv.URL, "test-key", srv.Client())
	_, err := a.StreamRaw(context.Background(), "gpt-3.5-turbo", "hi")
	require.Error(t, err)
	assert.Equal(t, 0, int(a.Classify(err))) // ClassRateLimit == 0
}

func TestHTTPTokenStream_CancellationStopsPromptly(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		flusher.Flush()
		<-block
	}))
	defer srv.Close()
	defer close(block)

	a := NewOpenAICompatAdaptor("openai", srv.URL, "key", srv.Client())
	stream, err := a.StreamRaw(context.Background(), "gpt-3.5-turbo", "hi")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	tok, ok := stream.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", tok)

	done := make(chan struct{})
	go func() {
		_, ok := stream.Next(ctx)
		assert.False(t, ok)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop promptly after cancellation")
	}
}

package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/nort-backend/internal/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func writeChoice(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"text": text}},
	})
}

func TestCompleteSendsRequestBody(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeChoice(w, "hello there")
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL + "/"
	cfg.APIKey = "k"
	cfg.Model = "base-model"
	c := NewClient(testLogger(t), cfg)

	temp := 0.3
	text, err := c.Complete(context.Background(), "PROMPT", Options{Temperature: &temp, MaxTokens: 64, Stop: []string{"\n"}})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, "PROMPT", got.Prompt)
	assert.Equal(t, "base-model", got.Model)
	assert.Equal(t, 0.3, got.Temperature)
	assert.Equal(t, 64, got.MaxTokens)
	assert.Equal(t, 0.8, got.TopP)
	assert.Equal(t, []string{"\n"}, got.Stop)
}

func TestCompleteRetriesProviderErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writeChoice(w, "ok")
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	c := NewClient(testLogger(t), cfg)

	text, err := c.Complete(context.Background(), "p", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestCompleteGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.MaxRetries = 1
	c := NewClient(testLogger(t), cfg)

	_, err := c.Complete(context.Background(), "p", Options{})
	require.Error(t, err)
	var he *httpError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusInternalServerError, he.HTTPStatusCode())
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestCompleteAttemptTimeout(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Timeout = 50 * time.Millisecond
	cfg.MaxRetries = 1
	c := NewClient(testLogger(t), cfg)

	_, err := c.Complete(context.Background(), "p", Options{})
	require.ErrorIs(t, err, ErrTimedOut)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestCompleteCancellationIsNotRetried(t *testing.T) {
	var calls int32
	started := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Timeout = 5 * time.Second
	c := NewClient(testLogger(t), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := c.Complete(ctx, "p", Options{})
	require.ErrorIs(t, err, ErrCancelled)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCompleteAlreadyCancelled(t *testing.T) {
	c := NewClient(testLogger(t), DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, "p", Options{})
	require.ErrorIs(t, err, ErrCancelled)
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Error wrapping preserves original error
func TestError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("connection refused")

	// When: wrapping it as an upstream failure
	err := Unavailable("ollama", originalErr)

	// Then: unwrapping returns the original error
	require.NotNil(t, err)
	assert.Equal(t, originalErr, errors.Unwrap(err))
	assert.True(t, errors.Is(err, originalErr))
	assert.Equal(t, "ollama", err.Details["dependency"])
}

func TestError_Is_MatchesSentinelByCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"dimension mismatch", DimensionMismatch(384, 3), ErrDimensionMismatch},
		{"empty index", New(ErrCodeIndexEmpty, "index is empty", nil), ErrEmptyIndex},
		{"upstream", Unavailable("broker", nil), ErrUpstreamUnavailable},
		{"wrapped twice", fmt.Errorf("embed stage: %w", DimensionMismatch(2, 1)), ErrDimensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
		})
	}

	assert.False(t, errors.Is(DimensionMismatch(1, 2), ErrEmptyIndex))
}

func TestError_Error_ReturnsFormattedMessage(t *testing.T) {
	err := DimensionMismatch(384, 768)
	assert.Equal(t, "[ERR_402_DIMENSION_MISMATCH] dimension mismatch: expected 384, got 768", err.Error())
	assert.Equal(t, ErrCodeIndexEmpty, ErrEmptyIndex.Error())
}

func TestNew_DerivesCategoryAndRetryable(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		retryable bool
		severity  Severity
	}{
		{ErrCodeConfigInvalid, CategoryConfig, false, SeverityError},
		{ErrCodeInconsistentIndex, CategoryStorage, false, SeverityWarning},
		{ErrCodeIndexLocked, CategoryStorage, false, SeverityFatal},
		{ErrCodeNetworkUnavailable, CategoryUpstream, true, SeverityWarning},
		{ErrCodeDimensionMismatch, CategoryValidation, false, SeverityError},
		{ErrCodeEmbeddingFailed, CategoryInternal, false, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.severity, err.Severity)
		})
	}
}

func TestIsRetryable_WalksChain(t *testing.T) {
	wrapped := fmt.Errorf("clean stage: %w", Unavailable("store", nil))

	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.Equal(t, ErrCodeNetworkUnavailable, GetCode(wrapped))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	err := New(ErrCodeIndexEmpty, "index is empty", nil).
		WithSuggestion("run 'ragscraper rebuild'")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: index is empty")
	assert.Contains(t, out, "Hint: run 'ragscraper rebuild'")
	assert.Contains(t, out, "Code: ERR_407_INDEX_EMPTY")
	assert.Equal(t, "Error: boom\n", FormatForCLI(errors.New("boom")))
}

func TestLogAttr_GroupsStructuredFields(t *testing.T) {
	attr := LogAttr(DimensionMismatch(3, 2))

	assert.Equal(t, "error", attr.Key)
	group := attr.Value.Group()
	keys := make([]string, 0, len(group))
	for _, a := range group {
		keys = append(keys, a.Key)
	}
	assert.Equal(t, []string{"message", "code", "category", "retryable", "expected", "got"}, keys)
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	// Given: a function failing with a validation error
	calls := 0
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond

	// When: retrying
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return DimensionMismatch(1, 2)
	})

	// Then: only one attempt is made
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestRetryWithResult_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

	got, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, Unavailable("ollama", nil)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	calls := 0

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return errors.New("flaky")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_OpensAndProbes(t *testing.T) {
	// Given: a breaker with a controllable clock
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("ollama", WithMaxFailures(2), WithResetTimeout(time.Minute))
	cb.now = func() time.Time { return now }
	boom := errors.New("boom")

	// When: two consecutive failures
	assert.Equal(t, boom, cb.Execute(func() error { return boom }))
	assert.Equal(t, boom, cb.Execute(func() error { return boom }))

	// Then: the breaker is open and refuses calls
	assert.Equal(t, StateOpen, cb.State())
	err := cb.Execute(func() error { t.Fatal("must not run"); return nil })
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))

	// When: the reset timeout elapses and the probe succeeds
	now = now.Add(2 * time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))

	// Then: the breaker closes
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("ollama", WithMaxFailures(1), WithResetTimeout(time.Second))
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errors.New("down") })
	now = now.Add(2 * time.Second)
	_ = cb.Execute(func() error { return errors.New("still down") })

	assert.Equal(t, StateOpen, cb.State())
}

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetryFunc_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	policy := BackoffPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2,
	}

	result, err := WithRetryFunc(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewError(KindTransport, "connection reset", errors.New("connection reset by peer"))
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestWithRetryFunc_NonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	policy := DefaultBackoffPolicy()

	_, err := WithRetryFunc(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, NewError(KindAuth, "invalid api key", errors.New("401"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryFunc_ExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	policy := BackoffPolicy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}

	_, err := WithRetryFunc(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, NewError(KindUpstream, "server error", errors.New("500"))
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryFunc_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := BackoffPolicy{
		MaxAttempts: 5,
		BaseDelay:   20 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
	}

	_, err := WithRetryFunc(ctx, policy, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return 0, NewError(KindTransport, "timeout", errors.New("timeout"))
	})

	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}

func TestDefaultErrorChecker_ClassifiesCommonShapes(t *testing.T) {
	checker := DefaultErrorChecker{}

	assert.Equal(t, KindClientDisconnect, checker.Classify(context.Canceled))
	assert.Equal(t, KindTimeout, checker.Classify(context.DeadlineExceeded))
	assert.Equal(t, KindTransport, checker.Classify(errors.New("broken pipe")))
	assert.Equal(t, KindTransport, checker.Classify(errors.New("socket hang up")))
	assert.Equal(t, KindInternal, checker.Classify(errors.New("something unexpected")))
}

func TestHTTPErrorChecker_ClassifiesStatusCodes(t *testing.T) {
	assert.Equal(t, KindRateLimit, HTTPErrorChecker{StatusCode: 429}.Classify(nil))
	assert.Equal(t, KindAuth, HTTPErrorChecker{StatusCode: 401}.Classify(nil))
	assert.Equal(t, KindUpstream, HTTPErrorChecker{StatusCode: 503}.Classify(nil))
	assert.Equal(t, KindValidation, HTTPErrorChecker{StatusCode: 422}.Classify(nil))
}

func TestChainedErrorChecker_FallsThroughToInternal(t *testing.T) {
	chain := ChainedErrorChecker{Checkers: []ErrorChecker{
		HTTPErrorChecker{StatusCode: 200},
		DefaultErrorChecker{},
	}}
	assert.Equal(t, KindInternal, chain.Classify(errors.New("mystery")))
}

func TestClassify_PrefersAlreadyClassifiedError(t *testing.T) {
	err := NewError(KindRateLimit, "too many requests", errors.New("429"))
	kind := Classify(DefaultErrorChecker{}, err)
	assert.Equal(t, KindRateLimit, kind)
}

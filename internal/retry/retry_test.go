package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/loa-finn/cheval/internal/cheval"
	"github.com/loa-finn/cheval/internal/provider"
)

func testPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelayMs: 1, MaxDelayMs: 5, JitterPercent: 10}
}

func TestClassify_Success(t *testing.T) {
	t.Parallel()
	if got := Classify(nil, nil); got != Success {
		t.Fatalf("got %v, want Success", got)
	}
}

func TestClassify_NonRetryableStatusAlwaysWins(t *testing.T) {
	t.Parallel()
	err := &provider.APIError{StatusCode: 400}
	// Even if the caller configures 400 as "retryable", the fixed
	// non-retryable set takes precedence.
	if got := Classify(err, []int{400}); got != NonRetryableProviderError {
		t.Fatalf("got %v, want NonRetryableProviderError", got)
	}
}

func TestClassify_DefaultRetryableStatuses(t *testing.T) {
	t.Parallel()
	for _, status := range []int{429, 500, 502, 503, 504} {
		err := &provider.APIError{StatusCode: status}
		if got := Classify(err, nil); got != RetryableProviderError {
			t.Fatalf("status %d: got %v, want RetryableProviderError", status, got)
		}
	}
}

func TestClassify_UnlistedStatusIsNonRetryable(t *testing.T) {
	t.Parallel()
	err := &provider.APIError{StatusCode: 418}
	if got := Classify(err, nil); got != NonRetryableProviderError {
		t.Fatalf("got %v, want NonRetryableProviderError", got)
	}
}

func TestClassify_CustomRetryableSet(t *testing.T) {
	t.Parallel()
	err := &provider.APIError{StatusCode: 418}
	if got := Classify(err, []int{418}); got != RetryableProviderError {
		t.Fatalf("got %v, want RetryableProviderError", got)
	}
}

func TestClassify_NetworkErrorIsRetryable(t *testing.T) {
	t.Parallel()
	err := &provider.NetworkError{Err: errors.New("dial timeout")}
	if got := Classify(err, nil); got != RetryableNetworkError {
		t.Fatalf("got %v, want RetryableNetworkError", got)
	}
}

func TestClassify_UnknownErrorIsNonRetryableNetwork(t *testing.T) {
	t.Parallel()
	if got := Classify(errors.New("boom"), nil); got != NonRetryableNetworkError {
		t.Fatalf("got %v, want NonRetryableNetworkError", got)
	}
}

func TestInvoke_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()
	calls := 0
	body, cerr := Invoke(context.Background(), testPolicy(), func(ctx context.Context, n int) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	})
	if cerr != nil {
		t.Fatalf("unexpected error: %v", cerr)
	}
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestInvoke_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	calls := 0
	body, cerr := Invoke(context.Background(), testPolicy(), func(ctx context.Context, n int) ([]byte, error) {
		calls++
		if calls < 3 {
			return nil, &provider.APIError{StatusCode: 503}
		}
		return []byte("recovered"), nil
	})
	if cerr != nil {
		t.Fatalf("unexpected error: %v", cerr)
	}
	if string(body) != "recovered" {
		t.Fatalf("body = %q", body)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestInvoke_NonRetryableReturnsImmediately(t *testing.T) {
	t.Parallel()
	calls := 0
	_, cerr := Invoke(context.Background(), testPolicy(), func(ctx context.Context, n int) ([]byte, error) {
		calls++
		return nil, &provider.APIError{StatusCode: 401}
	})
	if cerr == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retries on non-retryable error)", calls)
	}
	if cerr.Code != cheval.CodeProviderError {
		t.Fatalf("code = %v, want provider_error", cerr.Code)
	}
	if cerr.Retryable {
		t.Fatal("retryable should be false for a non-retryable exhaustion")
	}
}

func TestInvoke_ExhaustsRetriesSurfacesProviderError(t *testing.T) {
	t.Parallel()
	policy := testPolicy()
	calls := 0
	_, cerr := Invoke(context.Background(), policy, func(ctx context.Context, n int) ([]byte, error) {
		calls++
		return nil, &provider.APIError{StatusCode: 500}
	})
	if cerr == nil {
		t.Fatal("expected error")
	}
	if calls != policy.MaxRetries+1 {
		t.Fatalf("calls = %d, want %d", calls, policy.MaxRetries+1)
	}
	if cerr.Code != cheval.CodeProviderError {
		t.Fatalf("code = %v, want provider_error", cerr.Code)
	}
	if !cerr.Retryable {
		t.Fatal("retryable should be true once every attempt was retryable")
	}
}

func TestInvoke_ExhaustsRetriesSurfacesNetworkError(t *testing.T) {
	t.Parallel()
	policy := testPolicy()
	calls := 0
	_, cerr := Invoke(context.Background(), policy, func(ctx context.Context, n int) ([]byte, error) {
		calls++
		return nil, &provider.NetworkError{Err: errors.New("timeout")}
	})
	if cerr == nil {
		t.Fatal("expected error")
	}
	if calls != policy.MaxRetries+1 {
		t.Fatalf("calls = %d, want %d", calls, policy.MaxRetries+1)
	}
	if cerr.Code != cheval.CodeNetworkError {
		t.Fatalf("code = %v, want network_error", cerr.Code)
	}
	if !cerr.Retryable {
		t.Fatal("retryable should be true")
	}
}

func TestInvoke_ContextCancelledDuringBackoffReturnsInternal(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxRetries: 3, BaseDelayMs: 1000, MaxDelayMs: 2000, JitterPercent: 0}
	calls := 0
	_, cerr := Invoke(ctx, policy, func(ctx context.Context, n int) ([]byte, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return nil, &provider.APIError{StatusCode: 500}
	})
	if cerr == nil {
		t.Fatal("expected error")
	}
	if cerr.Code != cheval.CodeInternal {
		t.Fatalf("code = %v, want internal", cerr.Code)
	}
}

package scrape

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"
)

// TestScrapeError_ErrorAndUnwrap はエラー文字列とUnwrapの動作を検証する。
func TestScrapeError_ErrorAndUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := NewError(ErrorKindNetwork, "src-1", "フィードの取得に失敗しました", inner)

	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to match wrapped error")
	}

	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty error message")
	}

	var se *ScrapeError
	if !errors.As(error(err), &se) {
		t.Fatal("expected errors.As to extract *ScrapeError")
	}
	if se.Kind != ErrorKindNetwork || se.SourceID != "src-1" {
		t.Errorf("Kind=%q SourceID=%q, want network / src-1", se.Kind, se.SourceID)
	}
}

// TestClassifyError は分類の判定を検証する。
func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			name: "ScrapeErrorは分類を維持する",
			err:  NewError(ErrorKindParse, "s", "解析失敗", nil),
			want: ErrorKindParse,
		},
		{
			name: "ラップされたScrapeErrorも分類を維持する",
			err:  wrapErr(NewError(ErrorKindRateLimit, "s", "429", nil)),
			want: ErrorKindRateLimit,
		},
		{
			name: "url.Errorはネットワーク扱い",
			err:  &url.Error{Op: "Get", URL: "https://example.com", Err: errors.New("refused")},
			want: ErrorKindNetwork,
		},
		{
			name: "DeadlineExceededはネットワーク扱い",
			err:  context.DeadlineExceeded,
			want: ErrorKindNetwork,
		},
		{
			name: "未知のエラーは保守的にネットワーク扱い",
			err:  errors.New("something odd"),
			want: ErrorKindNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError = %q, want %q", got, tt.want)
			}
		})
	}
}

func wrapErr(err error) error {
	return &url.Error{Op: "wrap", URL: "x", Err: err}
}

// TestClassifyHTTPStatus はHTTPステータスの分類を検証する。
func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{429, ErrorKindRateLimit},
		{500, ErrorKindNetwork},
		{502, ErrorKindNetwork},
		{503, ErrorKindNetwork},
		{404, ErrorKindValidation},
		{410, ErrorKindValidation},
		{400, ErrorKindParse},
		{403, ErrorKindParse},
	}

	for _, tt := range tests {
		if got := ClassifyHTTPStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyHTTPStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

// TestIsRetryable はリトライ対象の判定を検証する。
func TestIsRetryable(t *testing.T) {
	retryable := []ErrorKind{ErrorKindNetwork, ErrorKindRateLimit}
	for _, kind := range retryable {
		if !IsRetryable(kind) {
			t.Errorf("IsRetryable(%q) = false, want true", kind)
		}
	}

	notRetryable := []ErrorKind{ErrorKindParse, ErrorKindValidation, ErrorKindResource}
	for _, kind := range notRetryable {
		if IsRetryable(kind) {
			t.Errorf("IsRetryable(%q) = true, want false", kind)
		}
	}
}

// TestRetryPolicy_Backoff は指数バックオフの計算を検証する。
func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		// 32秒は上限を超えるため30秒に制限される
		{4, 30 * time.Second},
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// TestRetry_SucceedsAfterTransientFailure は一時的な失敗後の成功を検証する。
func TestRetry_SucceedsAfterTransientFailure(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return NewError(ErrorKindNetwork, "s", "一時エラー", nil)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// TestRetry_ExhaustsAttempts はリトライ枯渇時に最後のエラーが返ることを検証する。
func TestRetry_ExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		return NewError(ErrorKindNetwork, "s", "接続失敗", nil)
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// TestRetry_NonRetryableFailsFast はリトライ対象外の分類が即座に返ることを検証する。
func TestRetry_NonRetryableFailsFast(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		return NewError(ErrorKindParse, "s", "解析失敗", nil)
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (parse errors must not be retried)", calls)
	}
}

// TestRetry_CancelledContext はキャンセル済みコンテキストで即座に中断することを検証する。
func TestRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, DefaultRetryPolicy(), func() error {
		calls++
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

// TestRetry_CancelDuringBackoff はバックオフ待機中のキャンセルを検証する。
func TestRetry_CancelDuringBackoff(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, policy, func() error {
			return NewError(ErrorKindNetwork, "s", "失敗", nil)
		})
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Retry did not return after context cancellation")
	}
}

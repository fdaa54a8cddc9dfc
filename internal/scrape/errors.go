// Package scrape はソース単位のフェッチ・抽出処理と、
// エラー分類・リトライ/バックオフ戦略を提供する。
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// ErrorKind はスクレイピングエラーの分類を表す。
type ErrorKind string

const (
	// ErrorKindNetwork はタイムアウト・接続失敗などのネットワークエラー。リトライ対象。
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindParse はフィード/HTMLの解析失敗。リトライせず該当記事をスキップする。
	ErrorKindParse ErrorKind = "parse"
	// ErrorKindValidation は必須項目の欠落。リトライせず該当記事をスキップする。
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindRateLimit はレート制限（429）。リトライ対象。
	ErrorKindRateLimit ErrorKind = "ratelimit"
	// ErrorKindResource はResourceMonitorが通知したリソース逼迫。
	// ジョブを失敗させず、新規パイプラインの開始を一時停止する。
	ErrorKindResource ErrorKind = "resource"
)

// ScrapeError は分類付きのスクレイピングエラー。
type ScrapeError struct {
	Kind     ErrorKind
	SourceID string
	Message  string
	Err      error
}

// Error はerrorインターフェースを実装する。
func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap はラップされた元エラーを返す。
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewError は分類付きエラーを生成する。
func NewError(kind ErrorKind, sourceID, message string, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, SourceID: sourceID, Message: message, Err: err}
}

// ClassifyError は任意のエラーをErrorKindに分類する。
// 既にScrapeErrorの場合はその分類を維持する。
// 判定できないエラーはネットワークエラー扱い（保守的にリトライ対象）とする。
func ClassifyError(err error) ErrorKind {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrorKindNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindNetwork
	}

	return ErrorKindNetwork
}

// ClassifyHTTPStatus はHTTPステータスコードをErrorKindに分類する。
// 2xxはエラーではないため呼び出し側で除外すること。
func ClassifyHTTPStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorKindRateLimit
	case statusCode >= 500:
		return ErrorKindNetwork
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return ErrorKindValidation
	default:
		return ErrorKindParse
	}
}

// IsRetryable は分類がリトライ対象（network / ratelimit）かを返す。
// parse / validation は同じ入力で再実行しても結果が変わらないためリトライしない。
func IsRetryable(kind ErrorKind) bool {
	return kind == ErrorKindNetwork || kind == ErrorKindRateLimit
}

// RetryPolicy はリトライ回数とバックオフ遅延を定める。
// 既定値は保守的な値とし、環境変数で上書き可能にしている。
type RetryPolicy struct {
	MaxAttempts int           // 最大試行回数（初回を含む）
	BaseDelay   time.Duration // 初回バックオフ遅延
	MaxDelay    time.Duration // バックオフ遅延の上限
}

// DefaultRetryPolicy は既定のリトライポリシーを返す。
// 3回試行、初回2秒、2倍ずつ増加、最大30秒。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Backoff はattempt回目（0始まり）の失敗後の指数バックオフ遅延を計算する。
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// Retry はfnをポリシーに従ってリトライ付きで実行する。
// リトライ対象外の分類のエラーは即座に返す。
// コンテキストのキャンセルはバックオフ待機中にも検出される。
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !IsRetryable(ClassifyError(lastErr)) {
			return lastErr
		}

		// 最終試行後は待機しない
		if attempt == policy.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.Backoff(attempt)):
		}
	}
	return lastErr
}

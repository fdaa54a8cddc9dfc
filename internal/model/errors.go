// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, job, source, content, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNoValidSources    = "NO_VALID_SOURCES"
	ErrCodeInvalidQuota      = "INVALID_QUOTA"
	ErrCodeJobNotFound       = "JOB_NOT_FOUND"
	ErrCodeJobNotCancellable = "JOB_NOT_CANCELLABLE"
	ErrCodeSourceNotFound    = "SOURCE_NOT_FOUND"
	ErrCodeDuplicateDomain   = "DUPLICATE_DOMAIN"
	ErrCodeInvalidSource     = "INVALID_SOURCE"
	ErrCodeContentNotFound   = "CONTENT_NOT_FOUND"
	ErrCodeInvalidFilter     = "INVALID_FILTER"
)

// NewNoValidSourcesError は有効なソースが1件も指定されなかった場合のエラーを生成する。
// ジョブ作成前に返され、副作用は発生しない。
func NewNoValidSourcesError() *APIError {
	return &APIError{
		Code:     ErrCodeNoValidSources,
		Message:  "有効なソースが指定されていません。",
		Category: "validation",
		Action:   "アクティブなソースのIDを1件以上指定してください。",
	}
}

// NewInvalidQuotaError はarticles_per_sourceが不正な場合のエラーを生成する。
func NewInvalidQuotaError(quota int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuota,
		Message:  fmt.Sprintf("ソースあたりの記事数が不正です: %d", quota),
		Category: "validation",
		Action:   "articles_per_sourceには1以上の整数を指定してください。",
	}
}

// NewJobNotFoundError はジョブ未検出エラーを生成する。
func NewJobNotFoundError(jobID string) *APIError {
	return &APIError{
		Code:     ErrCodeJobNotFound,
		Message:  fmt.Sprintf("指定されたジョブが見つかりません: %s", jobID),
		Category: "job",
		Action:   "ジョブIDを確認してください。",
	}
}

// NewJobNotCancellableError は終端状態のジョブをキャンセルしようとした場合のエラーを生成する。
func NewJobNotCancellableError(jobID string) *APIError {
	return &APIError{
		Code:     ErrCodeJobNotCancellable,
		Message:  fmt.Sprintf("ジョブは既に終了しています: %s", jobID),
		Category: "job",
		Action:   "キャンセルは実行中のジョブに対してのみ実行できます。",
	}
}

// NewSourceNotFoundError はソース未検出エラーを生成する。
func NewSourceNotFoundError(sourceID string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceNotFound,
		Message:  fmt.Sprintf("指定されたソースが見つかりません: %s", sourceID),
		Category: "source",
		Action:   "ソースIDを確認してください。",
	}
}

// NewDuplicateDomainError は既存ソースとドメインが重複した場合のエラーを生成する。
func NewDuplicateDomainError(domain string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateDomain,
		Message:  fmt.Sprintf("このドメインのソースは既に登録されています: %s", domain),
		Category: "source",
		Action:   "ソース一覧から該当ソースを確認してください。",
	}
}

// NewInvalidSourceError はソースの必須項目が不正な場合のエラーを生成する。
func NewInvalidSourceError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSource,
		Message:  fmt.Sprintf("ソース定義が不正です: %s", reason),
		Category: "validation",
		Action:   "name、domain、feed_urlを指定してください。",
	}
}

// NewContentNotFoundError は記事未検出エラーを生成する。
func NewContentNotFoundError(contentID string) *APIError {
	return &APIError{
		Code:     ErrCodeContentNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %s", contentID),
		Category: "content",
		Action:   "記事IDを確認してください。",
	}
}

// NewInvalidFilterError は無効なフィルタエラーを生成する。
func NewInvalidFilterError(filter string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("無効なフィルタです: %s", filter),
		Category: "validation",
		Action:   "フィルタに指定できる値を確認してください。",
	}
}

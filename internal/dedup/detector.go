// Package dedup は記事の重複判定を提供する。
// 2段階の同一性判定:
//  1. source_url - 同一リンクの再スクレイプに対する安価で確定的な判定
//  2. content_hash - URLが異なる転載・配信記事を抑制するクロスソース判定
package dedup

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/hitoshi/newspipe/internal/repository"
)

// ContentExistenceChecker は重複判定に必要なストア操作のインターフェース。
type ContentExistenceChecker interface {
	ExistsBySourceURL(ctx context.Context, sourceURL string) (bool, error)
	ExistsByContentHash(ctx context.Context, contentHash string) (bool, error)
}

var _ ContentExistenceChecker = (repository.ContentRepository)(nil)

// Detector は2段階の重複判定を行う。
// 判定とINSERTの間の競合はDBの一意制約が最終的に解決するため、
// ここでの判定は高速パスとしての先行チェックにすぎない。
type Detector struct {
	store ContentExistenceChecker
}

// NewDetector はDetectorの新しいインスタンスを生成する。
func NewDetector(store ContentExistenceChecker) *Detector {
	return &Detector{store: store}
}

// IsDuplicate は記事が既存記事の重複かを判定する。
// contentHashにはComputeContentHashの結果を渡す。
func (d *Detector) IsDuplicate(ctx context.Context, sourceURL, contentHash string) (bool, error) {
	// 第1段階: source_urlの完全一致
	exists, err := d.store.ExistsBySourceURL(ctx, sourceURL)
	if err != nil {
		return false, fmt.Errorf("source_urlによる重複判定に失敗しました: %w", err)
	}
	if exists {
		return true, nil
	}

	// 第2段階: 正規化コンテンツハッシュ
	exists, err = d.store.ExistsByContentHash(ctx, contentHash)
	if err != nil {
		return false, fmt.Errorf("content_hashによる重複判定に失敗しました: %w", err)
	}
	return exists, nil
}

// ComputeContentHash は正規化済みタイトル+本文のSHA-256ハッシュを計算する。
// 正規化: 小文字化と連続空白の畳み込み。
// 公開日時は含めない（配信先により日時が書き換わった転載記事も衝突させるため）。
func ComputeContentHash(title, body string) string {
	canonical := canonicalize(title) + "\n" + canonicalize(body)
	hash := sha256.Sum256([]byte(canonical))
	return fmt.Sprintf("%x", hash)
}

// canonicalize はハッシュ計算用の正規形を返す。
func canonicalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

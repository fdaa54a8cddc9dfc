package model

import "time"

// ProcessingStatus は記事の処理状態を表す。
// 永続化される語彙は pending / processing / completed / failed の4つのみ。
type ProcessingStatus string

const (
	// ProcessingStatusPending は未処理状態。
	ProcessingStatusPending ProcessingStatus = "pending"
	// ProcessingStatusProcessing は処理中状態。
	ProcessingStatusProcessing ProcessingStatus = "processing"
	// ProcessingStatusCompleted は処理完了状態。
	ProcessingStatusCompleted ProcessingStatus = "completed"
	// ProcessingStatusFailed は処理失敗状態。
	ProcessingStatusFailed ProcessingStatus = "failed"
)

// ContentItem は取得・重複排除・分類済みの記事1件を表す。
// 同一性の不変条件:
//   - SourceURLはグローバルに一意。同一URLの再取得はストア層でno-opになる。
//   - ContentHash（正規化済みタイトル+本文のハッシュ）も一意で、
//     URLが異なる転載・配信記事を抑制する。
type ContentItem struct {
	ID               string
	SourceID         string
	SourceURL        string
	Title            string
	Body             string
	BodyHTML         string
	Author           string
	PublicationDate  *time.Time
	Language         string
	Category         string
	Tags             []string
	ContentHash      string
	ProcessingStatus ProcessingStatus
	BodySize         int64
	HTMLSize         int64
	CreatedAt        time.Time
}

// ArchiveRecord はCleanupManagerが作成する圧縮済みの読み取り専用コピー。
// 元のContentItem行はアーカイブ行の作成と同一トランザクションで削除され、
// 再アクティブ化されることはない。
type ArchiveRecord struct {
	ID               string
	ContentID        string
	SourceID         string
	SourceURL        string
	Title            string
	CompressedBody   []byte
	CompressedHTML   []byte
	OriginalSize     int64
	CompressedSize   int64
	CompressionRatio float64
	ContentCreatedAt time.Time
	ArchivedAt       time.Time
}

// ParsedArticle はFetcher/Extractorが抽出した永続化前の記事。
type ParsedArticle struct {
	URL             string
	Title           string
	Body            string
	BodyHTML        string
	Author          string
	PublicationDate *time.Time
}

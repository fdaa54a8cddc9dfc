// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/newspipe/internal/model"
)

// ErrDuplicateContent は一意制約（source_url / content_hash）違反を表す。
// 同一IDの同時挿入はDBの一意制約で1件に解決され、敗者はこのエラーを受け取る。
// 呼び出し側は重複スキップとして扱い、エラーとしてカウントしない。
var ErrDuplicateContent = errors.New("重複するコンテンツが既に存在します")

// SourceRepository はソースデータの永続化インターフェース。
// パイプラインはジョブ開始時に読み取るのみで、作成・編集は管理APIが行う。
type SourceRepository interface {
	// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Source, error)

	// FindByDomain はドメインでソースを検索する。見つからない場合はnilを返す。
	FindByDomain(ctx context.Context, domain string) (*model.Source, error)

	// ListActiveByIDs は指定IDのうちアクティブなソースを取得する。
	// 戻り値はidsの順序を保持する。存在しないIDは無視される。
	ListActiveByIDs(ctx context.Context, ids []string) ([]*model.Source, error)

	// List は全ソースを作成日時順で返す。
	List(ctx context.Context) ([]*model.Source, error)

	// Create はソースを作成する。ドメイン重複時はErrDuplicateContentを返す。
	Create(ctx context.Context, source *model.Source) error

	// Update はソースを更新する。
	Update(ctx context.Context, source *model.Source) error

	// Delete は指定IDのソースを削除する。
	Delete(ctx context.Context, id string) error
}

// JobRepository はジョブデータの永続化インターフェース。
type JobRepository interface {
	// Create はジョブを作成する。
	Create(ctx context.Context, job *model.Job) error

	// FindByID は指定IDのジョブを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Job, error)

	// Update はジョブの状態・集計値を更新する。
	// 終端状態のジョブは更新されない（terminal-once-set不変条件）。
	Update(ctx context.Context, job *model.Job) error

	// List はジョブをtriggered_at降順で返す。statusが空の場合は全状態を対象にする。
	List(ctx context.Context, status model.JobStatus, limit, offset int) ([]*model.Job, error)
}

// JobLogRepository はジョブログの永続化インターフェース。追記専用。
type JobLogRepository interface {
	// Append はログ行を追記する。
	Append(ctx context.Context, entry *model.JobLogEntry) error

	// ListByJobID は指定ジョブのログをタイムスタンプ昇順で返す。
	ListByJobID(ctx context.Context, jobID string, limit, offset int) ([]*model.JobLogEntry, error)

	// CountByJobIDAndLevel は指定ジョブ・レベルのログ件数を返す。
	CountByJobIDAndLevel(ctx context.Context, jobID string, level model.LogLevel) (int, error)
}

// ContentFilter は記事一覧取得の絞り込み条件。
type ContentFilter struct {
	SourceID         string
	Language         string
	ProcessingStatus model.ProcessingStatus
	Query            string // タイトル・本文に対する部分一致検索
	Limit            int
	Offset           int
}

// ContentRepository は記事データの永続化インターフェース。
type ContentRepository interface {
	// Create は記事を作成する。
	// source_urlまたはcontent_hashの一意制約違反時はErrDuplicateContentを返す。
	Create(ctx context.Context, item *model.ContentItem) error

	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ContentItem, error)

	// ExistsBySourceURL はsource_urlの記事が存在するかを返す。
	ExistsBySourceURL(ctx context.Context, sourceURL string) (bool, error)

	// ExistsByContentHash はcontent_hashの記事が存在するかを返す。
	ExistsByContentHash(ctx context.Context, contentHash string) (bool, error)

	// List はフィルタ条件に合致する記事をcreated_at降順で返す。
	List(ctx context.Context, filter ContentFilter) ([]*model.ContentItem, error)

	// Count は全記事件数を返す。
	Count(ctx context.Context) (int, error)

	// TotalPayloadSize は全記事のペイロードサイズ合計（バイト）を返す。
	TotalPayloadSize(ctx context.Context) (int64, error)

	// ListOlderThan はcutoffより古い記事を古い順にlimit件まで返す。
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.ContentItem, error)

	// ListExcess は件数がvolumeCapを超過している場合に、
	// 超過分を古い順にlimit件まで返す。超過していない場合は空を返す。
	ListExcess(ctx context.Context, volumeCap, limit int) ([]*model.ContentItem, error)
}

// ArchiveRepository はアーカイブデータの永続化インターフェース。
type ArchiveRepository interface {
	// Archive はアーカイブ行の挿入と元記事行の削除を同一トランザクションで実行する。
	// 元記事が既に存在しない場合（二重アーカイブ）は変更なしで正常終了する。
	Archive(ctx context.Context, rec *model.ArchiveRecord) error

	// FindByContentID は元記事IDでアーカイブを検索する。見つからない場合はnilを返す。
	FindByContentID(ctx context.Context, contentID string) (*model.ArchiveRecord, error)

	// List はアーカイブをarchived_at降順で返す。
	List(ctx context.Context, limit, offset int) ([]*model.ArchiveRecord, error)
}

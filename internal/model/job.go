package model

import "time"

// JobStatus はスクレイピングジョブの状態を表す。
// 永続化される語彙は new / in-progress / successful / partial / failed の5つのみ。
type JobStatus string

const (
	// JobStatusNew はトリガー受理直後の初期状態。
	JobStatusNew JobStatus = "new"
	// JobStatusInProgress はソースパイプラインのスケジューリングが開始された状態。
	JobStatusInProgress JobStatus = "in-progress"
	// JobStatusSuccessful は全ソースが成功した終端状態。
	JobStatusSuccessful JobStatus = "successful"
	// JobStatusPartial は一部ソースのみ成功した終端状態。
	JobStatusPartial JobStatus = "partial"
	// JobStatusFailed は成功ソースが0件、またはキャンセルされた終端状態。
	JobStatusFailed JobStatus = "failed"
)

// IsTerminal は終端状態（successful / partial / failed）かを返す。
// 終端状態に入ったジョブは以降変更されない。
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccessful || s == JobStatusPartial || s == JobStatusFailed
}

// Job はパイプラインの1回の実行を表す。
// JobOrchestratorのみが状態を変更する。
// 不変条件: TotalArticlesScraped = 各ソースが新規に永続化した記事数の合計（重複除外）。
type Job struct {
	ID                   string
	Status               JobStatus
	SourceIDs            []string // リクエスト順を保持する
	ArticlesPerSource    int
	TotalArticlesScraped int
	TotalErrors          int
	TriggeredAt          time.Time
	CompletedAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// LogLevel はジョブログの重要度を表す。
// 永続化される語彙は info / warning / error の3つのみ。
type LogLevel string

const (
	// LogLevelInfo は情報ログ。
	LogLevelInfo LogLevel = "info"
	// LogLevelWarning は警告ログ。
	LogLevelWarning LogLevel = "warning"
	// LogLevelError はエラーログ。
	LogLevelError LogLevel = "error"
)

// JobLogEntry はジョブに紐づく追記専用の構造化ログ行。
// タイムスタンプ順に並び、ジョブと独立に変更・削除されることはない。
type JobLogEntry struct {
	ID        string
	JobID     string
	SourceID  string // ソースに紐づかないログは空文字
	Level     LogLevel
	Message   string
	Payload   map[string]any
	CreatedAt time.Time
}

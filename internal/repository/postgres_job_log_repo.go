package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/newspipe/internal/model"
)

// PostgresJobLogRepo はPostgreSQLを使用したジョブログリポジトリ。
// 追記専用で、UPDATE/DELETEは提供しない。
type PostgresJobLogRepo struct {
	db *sql.DB
}

// NewPostgresJobLogRepo はPostgresJobLogRepoを生成する。
func NewPostgresJobLogRepo(db *sql.DB) *PostgresJobLogRepo {
	return &PostgresJobLogRepo{db: db}
}

// Append はログ行を追記する。構造化ペイロードはJSONBとして保存する。
func (r *PostgresJobLogRepo) Append(ctx context.Context, entry *model.JobLogEntry) error {
	var payload []byte
	if entry.Payload != nil {
		var err error
		payload, err = json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("ログペイロードのJSON変換に失敗しました: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO job_logs (id, job_id, source_id, level, message, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.JobID, nullString(entry.SourceID),
		entry.Level, entry.Message, payload, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ジョブログの追記に失敗しました: %w", err)
	}
	return nil
}

// ListByJobID は指定ジョブのログをタイムスタンプ昇順で返す。
func (r *PostgresJobLogRepo) ListByJobID(ctx context.Context, jobID string, limit, offset int) ([]*model.JobLogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, job_id, source_id, level, message, payload, created_at
		 FROM job_logs
		 WHERE job_id = $1
		 ORDER BY created_at, id
		 LIMIT $2 OFFSET $3`,
		jobID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("ジョブログの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []*model.JobLogEntry
	for rows.Next() {
		e := &model.JobLogEntry{}
		var sourceID sql.NullString
		var payload []byte
		if err := rows.Scan(&e.ID, &e.JobID, &sourceID, &e.Level, &e.Message, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ジョブログ行の読み取りに失敗しました: %w", err)
		}
		e.SourceID = sourceID.String
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("ログペイロードの解析に失敗しました: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByJobIDAndLevel は指定ジョブ・レベルのログ件数を返す。
func (r *PostgresJobLogRepo) CountByJobIDAndLevel(ctx context.Context, jobID string, level model.LogLevel) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM job_logs WHERE job_id = $1 AND level = $2`,
		jobID, level,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ジョブログ件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

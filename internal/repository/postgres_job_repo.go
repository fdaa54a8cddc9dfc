package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/hitoshi/newspipe/internal/model"
)

// psql はPostgreSQLプレースホルダ（$1, $2, ...）用のステートメントビルダー。
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresJobRepo はPostgreSQLを使用したジョブリポジトリ。
type PostgresJobRepo struct {
	db *sql.DB
}

// NewPostgresJobRepo はPostgresJobRepoを生成する。
func NewPostgresJobRepo(db *sql.DB) *PostgresJobRepo {
	return &PostgresJobRepo{db: db}
}

const jobColumns = `id, status, source_ids, articles_per_source,
       total_articles_scraped, total_errors,
       triggered_at, completed_at, created_at, updated_at`

// scanJob は1行をmodel.Jobに読み込む。
func scanJob(row interface{ Scan(...any) error }) (*model.Job, error) {
	j := &model.Job{}
	var completedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Status, pq.Array(&j.SourceIDs), &j.ArticlesPerSource,
		&j.TotalArticlesScraped, &j.TotalErrors,
		&j.TriggeredAt, &completedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	return j, nil
}

// Create はジョブを作成する。
func (r *PostgresJobRepo) Create(ctx context.Context, job *model.Job) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, source_ids, articles_per_source,
		        total_articles_scraped, total_errors,
		        triggered_at, completed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Status, pq.Array(job.SourceIDs), job.ArticlesPerSource,
		job.TotalArticlesScraped, job.TotalErrors,
		job.TriggeredAt, nullTime(job.CompletedAt), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ジョブの作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDのジョブを取得する。見つからない場合はnilを返す。
func (r *PostgresJobRepo) FindByID(ctx context.Context, id string) (*model.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ジョブの取得に失敗しました: %w", err)
	}
	return j, nil
}

// Update はジョブの状態・集計値を更新する。
// WHERE句で終端状態の行を除外することで、terminal-once-set不変条件をDB層でも保証する。
func (r *PostgresJobRepo) Update(ctx context.Context, job *model.Job) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = $2, total_articles_scraped = $3, total_errors = $4,
		     completed_at = $5, updated_at = $6
		 WHERE id = $1
		   AND status NOT IN ('successful', 'partial', 'failed')`,
		job.ID, job.Status, job.TotalArticlesScraped, job.TotalErrors,
		nullTime(job.CompletedAt), job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ジョブの更新に失敗しました: %w", err)
	}
	return nil
}

// List はジョブをtriggered_at降順で返す。statusが空の場合は全状態を対象にする。
func (r *PostgresJobRepo) List(ctx context.Context, status model.JobStatus, limit, offset int) ([]*model.Job, error) {
	builder := psql.Select(jobColumns).
		From("jobs").
		OrderBy("triggered_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset))

	if status != "" {
		builder = builder.Where(sq.Eq{"status": status})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ジョブ一覧クエリの構築に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ジョブ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ジョブ行の読み取りに失敗しました: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// nullTime は*time.TimeをNULL許容値に変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

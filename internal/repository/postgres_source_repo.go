package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/newspipe/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// isUniqueViolation はエラーが一意制約違反かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresSourceRepo はPostgreSQLを使用したソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

const sourceColumns = `id, name, domain, feed_url, default_category,
       respect_robots, delay_ms, user_agent, timeout_ms, active,
       created_at, updated_at`

// scanSource は1行をmodel.Sourceに読み込む。
func scanSource(row interface{ Scan(...any) error }) (*model.Source, error) {
	s := &model.Source{}
	var defaultCategory, userAgent sql.NullString
	err := row.Scan(
		&s.ID, &s.Name, &s.Domain, &s.FeedURL, &defaultCategory,
		&s.RespectRobots, &s.DelayMs, &userAgent, &s.TimeoutMs, &s.Active,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.DefaultCategory = defaultCategory.String
	s.UserAgent = userAgent.String
	return s, nil
}

// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByID(ctx context.Context, id string) (*model.Source, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	s, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	return s, nil
}

// FindByDomain はドメインでソースを検索する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByDomain(ctx context.Context, domain string) (*model.Source, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE domain = $1`, domain)
	s, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ドメインによるソースの検索に失敗しました: %w", err)
	}
	return s, nil
}

// ListActiveByIDs は指定IDのうちアクティブなソースをidsの順序で返す。
func (r *PostgresSourceRepo) ListActiveByIDs(ctx context.Context, ids []string) ([]*model.Source, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = ANY($1) AND active = true`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*model.Source)
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("ソース行の読み取りに失敗しました: %w", err)
		}
		byID[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース一覧の読み取りに失敗しました: %w", err)
	}

	// リクエスト順を保持する
	sources := make([]*model.Source, 0, len(byID))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			sources = append(sources, s)
		}
	}
	return sources, nil
}

// List は全ソースを作成日時順で返す。
func (r *PostgresSourceRepo) List(ctx context.Context) ([]*model.Source, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("ソース行の読み取りに失敗しました: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// Create はソースを作成する。ドメイン重複時はErrDuplicateContentを返す。
func (r *PostgresSourceRepo) Create(ctx context.Context, source *model.Source) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sources (id, name, domain, feed_url, default_category,
		        respect_robots, delay_ms, user_agent, timeout_ms, active,
		        created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		source.ID, source.Name, source.Domain, source.FeedURL,
		nullString(source.DefaultCategory),
		source.RespectRobots, source.DelayMs, nullString(source.UserAgent),
		source.TimeoutMs, source.Active, source.CreatedAt, source.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateContent
	}
	if err != nil {
		return fmt.Errorf("ソースの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はソースを更新する。
func (r *PostgresSourceRepo) Update(ctx context.Context, source *model.Source) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources
		 SET name = $2, domain = $3, feed_url = $4, default_category = $5,
		     respect_robots = $6, delay_ms = $7, user_agent = $8,
		     timeout_ms = $9, active = $10, updated_at = $11
		 WHERE id = $1`,
		source.ID, source.Name, source.Domain, source.FeedURL,
		nullString(source.DefaultCategory),
		source.RespectRobots, source.DelayMs, nullString(source.UserAgent),
		source.TimeoutMs, source.Active, source.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateContent
	}
	if err != nil {
		return fmt.Errorf("ソースの更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDのソースを削除する。
func (r *PostgresSourceRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sources WHERE id = $1`, id); err != nil {
		return fmt.Errorf("ソースの削除に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字をNULLに変換する。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

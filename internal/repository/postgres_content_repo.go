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

// PostgresContentRepo はPostgreSQLを使用した記事リポジトリ。
// source_urlとcontent_hashの一意制約をDB層で強制することで、
// 並行挿入の競合をアプリケーションロックなしで1件の勝者に解決する。
type PostgresContentRepo struct {
	db *sql.DB
}

// NewPostgresContentRepo はPostgresContentRepoを生成する。
func NewPostgresContentRepo(db *sql.DB) *PostgresContentRepo {
	return &PostgresContentRepo{db: db}
}

const contentColumns = `id, source_id, source_url, title, body, body_html, author,
       publication_date, language, category, tags, content_hash,
       processing_status, body_size, html_size, created_at`

// scanContent は1行をmodel.ContentItemに読み込む。
func scanContent(row interface{ Scan(...any) error }) (*model.ContentItem, error) {
	c := &model.ContentItem{}
	var author, category sql.NullString
	var publicationDate sql.NullTime
	err := row.Scan(
		&c.ID, &c.SourceID, &c.SourceURL, &c.Title, &c.Body, &c.BodyHTML, &author,
		&publicationDate, &c.Language, &category, pq.Array(&c.Tags), &c.ContentHash,
		&c.ProcessingStatus, &c.BodySize, &c.HTMLSize, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Author = author.String
	c.Category = category.String
	if publicationDate.Valid {
		c.PublicationDate = &publicationDate.Time
	}
	return c, nil
}

// Create は記事を作成する。
// source_urlまたはcontent_hashの一意制約違反時はErrDuplicateContentを返す。
func (r *PostgresContentRepo) Create(ctx context.Context, item *model.ContentItem) error {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO content_items (id, source_id, source_url, title, body, body_html,
		        author, publication_date, language, category, tags, content_hash,
		        processing_status, body_size, html_size, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		item.ID, item.SourceID, item.SourceURL, item.Title, item.Body, item.BodyHTML,
		nullString(item.Author), nullTime(item.PublicationDate),
		item.Language, nullString(item.Category), pq.Array(tags), item.ContentHash,
		item.ProcessingStatus, item.BodySize, item.HTMLSize, item.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateContent
	}
	if err != nil {
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresContentRepo) FindByID(ctx context.Context, id string) (*model.ContentItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+contentColumns+` FROM content_items WHERE id = $1`, id)
	c, err := scanContent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return c, nil
}

// ExistsBySourceURL はsource_urlの記事が存在するかを返す。
func (r *PostgresContentRepo) ExistsBySourceURL(ctx context.Context, sourceURL string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM content_items WHERE source_url = $1)`,
		sourceURL,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("source_urlによる存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// ExistsByContentHash はcontent_hashの記事が存在するかを返す。
func (r *PostgresContentRepo) ExistsByContentHash(ctx context.Context, contentHash string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM content_items WHERE content_hash = $1)`,
		contentHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("content_hashによる存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// List はフィルタ条件に合致する記事をcreated_at降順で返す。
// 絞り込み条件が可変のためsquirrelで動的にWHERE句を構築する。
func (r *PostgresContentRepo) List(ctx context.Context, filter ContentFilter) ([]*model.ContentItem, error) {
	builder := psql.Select(contentColumns).
		From("content_items").
		OrderBy("created_at DESC, id").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset))

	if filter.SourceID != "" {
		builder = builder.Where(sq.Eq{"source_id": filter.SourceID})
	}
	if filter.Language != "" {
		builder = builder.Where(sq.Eq{"language": filter.Language})
	}
	if filter.ProcessingStatus != "" {
		builder = builder.Where(sq.Eq{"processing_status": filter.ProcessingStatus})
	}
	if filter.Query != "" {
		pattern := "%" + filter.Query + "%"
		builder = builder.Where(sq.Or{
			sq.ILike{"title": pattern},
			sq.ILike{"body": pattern},
		})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("記事一覧クエリの構築に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.ContentItem
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("記事行の読み取りに失敗しました: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// Count は全記事件数を返す。
func (r *PostgresContentRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM content_items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("記事件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// TotalPayloadSize は全記事のペイロードサイズ合計（バイト）を返す。
// ResourceMonitorのストレージ使用量サンプリングに使用される。
func (r *PostgresContentRepo) TotalPayloadSize(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(body_size + html_size), 0) FROM content_items`,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("ペイロードサイズ合計の取得に失敗しました: %w", err)
	}
	return total, nil
}

// ListOlderThan はcutoffより古い記事を古い順にlimit件まで返す。
func (r *PostgresContentRepo) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.ContentItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contentColumns+`
		 FROM content_items
		 WHERE created_at < $1
		 ORDER BY created_at
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("保持期間超過記事の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.ContentItem
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("記事行の読み取りに失敗しました: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// ListExcess は件数がvolumeCapを超過している場合に、超過分を古い順にlimit件まで返す。
func (r *PostgresContentRepo) ListExcess(ctx context.Context, volumeCap, limit int) ([]*model.ContentItem, error) {
	count, err := r.Count(ctx)
	if err != nil {
		return nil, err
	}
	excess := count - volumeCap
	if excess <= 0 {
		return nil, nil
	}
	if excess > limit {
		excess = limit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contentColumns+`
		 FROM content_items
		 ORDER BY created_at
		 LIMIT $1`,
		excess,
	)
	if err != nil {
		return nil, fmt.Errorf("容量超過記事の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.ContentItem
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("記事行の読み取りに失敗しました: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/newspipe/internal/model"
)

// PostgresArchiveRepo はPostgreSQLを使用したアーカイブリポジトリ。
type PostgresArchiveRepo struct {
	db *sql.DB
}

// NewPostgresArchiveRepo はPostgresArchiveRepoを生成する。
func NewPostgresArchiveRepo(db *sql.DB) *PostgresArchiveRepo {
	return &PostgresArchiveRepo{db: db}
}

// Archive はアーカイブ行の挿入と元記事行の削除を同一トランザクションで実行する。
// 元記事が既に削除されている場合（並行アーカイブの敗者）はロールバックし、
// 変更なしで正常終了する。これにより行単位の冪等性が保証される。
func (r *PostgresArchiveRepo) Archive(ctx context.Context, rec *model.ArchiveRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("アーカイブトランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM content_items WHERE id = $1`, rec.ContentID)
	if err != nil {
		return fmt.Errorf("元記事の削除に失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	if deleted == 0 {
		// 既にアーカイブ済み。二重アーカイブは発生させない。
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO archive_records (id, content_id, source_id, source_url, title,
		        compressed_body, compressed_html, original_size, compressed_size,
		        compression_ratio, content_created_at, archived_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.ContentID, rec.SourceID, rec.SourceURL, rec.Title,
		rec.CompressedBody, rec.CompressedHTML, rec.OriginalSize, rec.CompressedSize,
		rec.CompressionRatio, rec.ContentCreatedAt, rec.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("アーカイブ行の挿入に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("アーカイブトランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

const archiveColumns = `id, content_id, source_id, source_url, title,
       compressed_body, compressed_html, original_size, compressed_size,
       compression_ratio, content_created_at, archived_at`

// scanArchive は1行をmodel.ArchiveRecordに読み込む。
func scanArchive(row interface{ Scan(...any) error }) (*model.ArchiveRecord, error) {
	a := &model.ArchiveRecord{}
	err := row.Scan(
		&a.ID, &a.ContentID, &a.SourceID, &a.SourceURL, &a.Title,
		&a.CompressedBody, &a.CompressedHTML, &a.OriginalSize, &a.CompressedSize,
		&a.CompressionRatio, &a.ContentCreatedAt, &a.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FindByContentID は元記事IDでアーカイブを検索する。見つからない場合はnilを返す。
func (r *PostgresArchiveRepo) FindByContentID(ctx context.Context, contentID string) (*model.ArchiveRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+archiveColumns+` FROM archive_records WHERE content_id = $1`, contentID)
	a, err := scanArchive(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アーカイブの取得に失敗しました: %w", err)
	}
	return a, nil
}

// List はアーカイブをarchived_at降順で返す。
func (r *PostgresArchiveRepo) List(ctx context.Context, limit, offset int) ([]*model.ArchiveRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+archiveColumns+`
		 FROM archive_records
		 ORDER BY archived_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("アーカイブ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var records []*model.ArchiveRecord
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("アーカイブ行の読み取りに失敗しました: %w", err)
		}
		records = append(records, a)
	}
	return records, rows.Err()
}

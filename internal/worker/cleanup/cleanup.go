// Package cleanup は古い記事の圧縮アーカイブと削除を提供する。
// 保持期間超過分と容量上限超過分をバッチで処理する定期ジョブとして設計されており、
// 1記事ごとにアーカイブ行の作成と元記事行の削除を同一トランザクションで実行する。
package cleanup

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/hitoshi/newspipe/internal/metrics"
	"github.com/hitoshi/newspipe/internal/model"
	"github.com/hitoshi/newspipe/internal/repository"
)

// StoragePressureSignal はストレージ高水位の通知インターフェース。
// ResourceMonitorが実装する。高水位の間は定期実行を待たずに臨時実行する。
type StoragePressureSignal interface {
	StorageHigh() bool
}

// Config はCleanupManagerの動作設定。
type Config struct {
	RetentionDays int           // 記事の保持日数
	VolumeCap     int           // アクティブ記事の件数上限
	BatchSize     int           // 1サイクルで処理する最大件数
	Interval      time.Duration // 定期実行の間隔
}

// CleanupManager は保持期間・容量上限に基づく記事のアーカイブを実行する。
// 同時に実行されるサイクルは常に1つのみ（single-flight）。
type CleanupManager struct {
	contentRepo repository.ContentRepository
	archiveRepo repository.ArchiveRepository
	pressure    StoragePressureSignal
	collector   metrics.MetricsCollector
	logger      *slog.Logger
	cfg         Config

	runMu sync.Mutex
}

// NewCleanupManager は新しいCleanupManagerを生成する。
// 設定が未指定の場合はデフォルト値（保持30日、上限10000件、バッチ100件、24時間間隔）を使用する。
func NewCleanupManager(
	contentRepo repository.ContentRepository,
	archiveRepo repository.ArchiveRepository,
	pressure StoragePressureSignal,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *CleanupManager {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.VolumeCap <= 0 {
		cfg.VolumeCap = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &CleanupManager{
		contentRepo: contentRepo,
		archiveRepo: archiveRepo,
		pressure:    pressure,
		collector:   collector,
		logger:      logger,
		cfg:         cfg,
	}
}

// storagePollInterval はストレージ高水位の確認間隔。
const storagePollInterval = time.Minute

// Start は定期実行ループを起動する。
// 定期間隔に加えて、ストレージ高水位の通知でも臨時実行する。
// コンテキストがキャンセルされるまで実行を継続する（ブロッキング）。
func (m *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	pressureTicker := time.NewTicker(storagePollInterval)
	defer pressureTicker.Stop()

	m.logger.Info("クリーンアップマネージャーを開始しました",
		slog.Int("retention_days", m.cfg.RetentionDays),
		slog.Int("volume_cap", m.cfg.VolumeCap),
		slog.Int("batch_size", m.cfg.BatchSize),
		slog.Duration("interval", m.cfg.Interval),
	)

	// 起動直後に1回実行
	if err := m.RunOnce(ctx); err != nil {
		m.logger.Error("クリーンアップサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("クリーンアップマネージャーを停止しました")
			return
		case <-ticker.C:
			if err := m.RunOnce(ctx); err != nil {
				m.logger.Error("クリーンアップサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		case <-pressureTicker.C:
			if m.pressure == nil || !m.pressure.StorageHigh() {
				continue
			}
			m.logger.Warn("ストレージ高水位のため臨時クリーンアップを実行します")
			if err := m.RunOnce(ctx); err != nil {
				m.logger.Error("臨時クリーンアップの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はクリーンアップサイクルを1回実行する。
// 保持期間超過分を先に、次に容量上限超過分を処理する。
// 別のサイクルが実行中の場合は何もせず正常終了する（single-flight）。
// 冪等: 対象がない場合でもエラーにならない。
func (m *CleanupManager) RunOnce(ctx context.Context) error {
	if !m.runMu.TryLock() {
		m.logger.Info("クリーンアップサイクルは既に実行中のためスキップします")
		return nil
	}
	defer m.runMu.Unlock()

	start := time.Now()

	cutoff := time.Now().AddDate(0, 0, -m.cfg.RetentionDays)
	expired, err := m.contentRepo.ListOlderThan(ctx, cutoff, m.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("保持期間超過記事の取得に失敗: %w", err)
	}

	archived, failed := m.archiveBatch(ctx, expired)

	// 容量上限の超過分。期限超過分のアーカイブで解消している場合は空になる
	remaining := m.cfg.BatchSize - archived
	if remaining > 0 {
		excess, err := m.contentRepo.ListExcess(ctx, m.cfg.VolumeCap, remaining)
		if err != nil {
			return fmt.Errorf("容量超過記事の取得に失敗: %w", err)
		}
		a, f := m.archiveBatch(ctx, excess)
		archived += a
		failed += f
	}

	m.logger.Info("クリーンアップサイクルが完了しました",
		slog.Int("archived_count", archived),
		slog.Int("failed_count", failed),
		slog.Int("retention_days", m.cfg.RetentionDays),
		slog.Duration("duration", time.Since(start)),
	)

	return nil
}

// archiveBatch は記事リストを順にアーカイブする。
// 個別記事の失敗はログに残してスキップし、バッチ全体は継続する。
func (m *CleanupManager) archiveBatch(ctx context.Context, items []*model.ContentItem) (archived, failed int) {
	for _, item := range items {
		if ctx.Err() != nil {
			return archived, failed
		}
		if err := m.archiveItem(ctx, item); err != nil {
			failed++
			m.logger.Error("記事のアーカイブに失敗しました",
				slog.String("content_id", item.ID),
				slog.String("source_url", item.SourceURL),
				slog.String("error", err.Error()),
			)
			continue
		}
		archived++
	}
	return archived, failed
}

// archiveItem は1記事を圧縮してアーカイブする。
// アーカイブ行の挿入と元記事行の削除はストア層で同一トランザクションになる。
func (m *CleanupManager) archiveItem(ctx context.Context, item *model.ContentItem) error {
	compressedBody, err := compress([]byte(item.Body))
	if err != nil {
		return fmt.Errorf("本文の圧縮に失敗: %w", err)
	}
	compressedHTML, err := compress([]byte(item.BodyHTML))
	if err != nil {
		return fmt.Errorf("HTMLの圧縮に失敗: %w", err)
	}

	originalSize := int64(len(item.Body) + len(item.BodyHTML))
	compressedSize := int64(len(compressedBody) + len(compressedHTML))
	ratio := 0.0
	if originalSize > 0 {
		ratio = float64(compressedSize) / float64(originalSize)
	}

	rec := &model.ArchiveRecord{
		ID:               uuid.NewString(),
		ContentID:        item.ID,
		SourceID:         item.SourceID,
		SourceURL:        item.SourceURL,
		Title:            item.Title,
		CompressedBody:   compressedBody,
		CompressedHTML:   compressedHTML,
		OriginalSize:     originalSize,
		CompressedSize:   compressedSize,
		CompressionRatio: ratio,
		ContentCreatedAt: item.CreatedAt,
		ArchivedAt:       time.Now(),
	}

	if err := m.archiveRepo.Archive(ctx, rec); err != nil {
		return err
	}

	m.collector.RecordItemArchived(ratio)
	return nil
}

// compress はgzip圧縮したバイト列を返す。
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress はアーカイブ済みペイロードを展開する。アーカイブ参照APIで使用する。
func Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

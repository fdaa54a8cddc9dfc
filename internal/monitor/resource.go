// Package monitor はプロセスメモリとストレージ使用量のサンプリングと、
// 並列度制御・クリーンアップ起動のためのアドミッション判定を提供する。
package monitor

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// AdmissionLevel は新規ソースパイプラインの開始可否を表すアドミッション判定。
type AdmissionLevel int

const (
	// AdmissionOK は制限なし。設定された並列数の上限まで開始できる。
	AdmissionOK AdmissionLevel = iota
	// AdmissionReduced は実効並列数を半減させる。
	AdmissionReduced
	// AdmissionDeny は新規パイプラインの開始を停止する（実効並列数0）。
	AdmissionDeny
)

// String はレベル名を返す。
func (l AdmissionLevel) String() string {
	switch l {
	case AdmissionOK:
		return "ok"
	case AdmissionReduced:
		return "reduced"
	case AdmissionDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// StorageUsager はストレージ使用量のサンプリングに必要なストア操作のインターフェース。
type StorageUsager interface {
	TotalPayloadSize(ctx context.Context) (int64, error)
}

// Config はResourceMonitorの閾値設定。
type Config struct {
	Interval         time.Duration // サンプリング間隔
	MemorySoftLimit  int64         // ヒープ使用量のソフトリミット（バイト）
	StorageHighWater int64         // ストレージ高水位（バイト）。超過でクリーンアップを要求する
}

// ResourceMonitor は固定間隔でメモリ・ストレージ使用量をサンプリングし、
// JobOrchestrator（並列度ゲート）とCleanupManager（退避トリガー）に
// アドミッション判定を公開する。
type ResourceMonitor struct {
	store  StorageUsager
	logger *slog.Logger
	cfg    Config

	mu          sync.RWMutex
	level       AdmissionLevel
	storageHigh bool
	heapBytes   int64
	storeBytes  int64
}

// NewResourceMonitor はResourceMonitorの新しいインスタンスを生成する。
// 初回サンプリングまでの判定はAdmissionOK。
func NewResourceMonitor(store StorageUsager, logger *slog.Logger, cfg Config) *ResourceMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &ResourceMonitor{
		store:  store,
		logger: logger,
		cfg:    cfg,
	}
}

// Start は固定間隔のサンプリングループを起動する。
// コンテキストがキャンセルされるまで実行を継続する（ブロッキング）。
func (m *ResourceMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("リソースモニターを開始しました",
		slog.Duration("interval", m.cfg.Interval),
		slog.Int64("memory_soft_limit", m.cfg.MemorySoftLimit),
		slog.Int64("storage_high_water", m.cfg.StorageHighWater),
	)

	// 起動直後に1回実行
	m.Sample(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("リソースモニターを停止しました")
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Sample は1回のサンプリングを実行し、アドミッション判定を更新する。
// ストレージのサンプリングに失敗した場合は保守的にAdmissionDenyへ退行する。
func (m *ResourceMonitor) Sample(ctx context.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	heap := int64(memStats.HeapAlloc)

	storeBytes, err := m.store.TotalPayloadSize(ctx)
	if err != nil {
		m.logger.Error("ストレージ使用量のサンプリングに失敗したため保守的な判定に退行します",
			slog.String("error", err.Error()),
		)
		m.set(AdmissionDeny, false, heap, 0)
		return
	}

	level := AdmissionOK
	switch {
	case heap >= m.cfg.MemorySoftLimit:
		level = AdmissionDeny
	case heap >= m.cfg.MemorySoftLimit/2:
		level = AdmissionReduced
	}

	storageHigh := m.cfg.StorageHighWater > 0 && storeBytes >= m.cfg.StorageHighWater
	if storageHigh && level == AdmissionOK {
		level = AdmissionReduced
	}

	prev := m.Level()
	m.set(level, storageHigh, heap, storeBytes)

	if level != prev {
		m.logger.Info("アドミッション判定が変化しました",
			slog.String("from", prev.String()),
			slog.String("to", level.String()),
			slog.Int64("heap_bytes", heap),
			slog.Int64("storage_bytes", storeBytes),
		)
	}
}

func (m *ResourceMonitor) set(level AdmissionLevel, storageHigh bool, heap, store int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = level
	m.storageHigh = storageHigh
	m.heapBytes = heap
	m.storeBytes = store
}

// Level は現在のアドミッション判定を返す。
func (m *ResourceMonitor) Level() AdmissionLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// StorageHigh はストレージ使用量が高水位を超えているかを返す。
// CleanupManagerの臨時退避パスのトリガーに使用される。
func (m *ResourceMonitor) StorageHigh() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.storageHigh
}

// Usage は直近のサンプリング値（ヒープ・ストレージのバイト数）を返す。
func (m *ResourceMonitor) Usage() (heapBytes, storageBytes int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heapBytes, m.storeBytes
}

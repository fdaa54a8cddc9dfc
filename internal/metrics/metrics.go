// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプライン・ワーカー・サービス層から利用する。
type MetricsCollector interface {
	RecordJobCompleted(status string)
	RecordArticlesScraped(count int)
	RecordDuplicateSkipped()
	RecordScrapeError(kind string)
	RecordFetchLatency(duration time.Duration)
	RecordItemArchived(compressionRatio float64)
	SetActivePipelines(count int)
	SetAdmissionLevel(level int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	jobsCompleted     *prometheus.CounterVec
	articlesScraped   prometheus.Counter
	duplicatesSkipped prometheus.Counter
	scrapeErrors      *prometheus.CounterVec
	fetchLatency      prometheus.Histogram
	itemsArchived     prometheus.Counter
	compressionRatio  prometheus.Histogram
	activePipelines   prometheus.Gauge
	admissionLevel    prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newspipe_jobs_completed_total",
			Help: "終端状態別のジョブ完了数",
		}, []string{"status"}),
		articlesScraped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newspipe_articles_scraped_total",
			Help: "新規に永続化された記事の合計数",
		}),
		duplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newspipe_duplicates_skipped_total",
			Help: "重複によりスキップされた記事の合計数",
		}),
		scrapeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newspipe_scrape_errors_total",
			Help: "エラー種別ごとのスクレイプ失敗数",
		}, []string{"kind"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newspipe_fetch_latency_seconds",
			Help:    "ソースフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		itemsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newspipe_items_archived_total",
			Help: "アーカイブされた記事の合計数",
		}),
		compressionRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newspipe_archive_compression_ratio",
			Help:    "アーカイブ時の圧縮率（圧縮後/圧縮前）",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),
		activePipelines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newspipe_active_pipelines",
			Help: "実行中のソースパイプライン数",
		}),
		admissionLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newspipe_admission_level",
			Help: "リソースモニターのアドミッション判定（0=ok 1=reduced 2=deny）",
		}),
	}

	reg.MustRegister(
		c.jobsCompleted,
		c.articlesScraped,
		c.duplicatesSkipped,
		c.scrapeErrors,
		c.fetchLatency,
		c.itemsArchived,
		c.compressionRatio,
		c.activePipelines,
		c.admissionLevel,
	)

	return c
}

// RecordJobCompleted はジョブの終端状態到達を記録する。
func (c *Collector) RecordJobCompleted(status string) {
	c.jobsCompleted.WithLabelValues(status).Inc()
}

// RecordArticlesScraped は新規に永続化された記事数を記録する。
func (c *Collector) RecordArticlesScraped(count int) {
	c.articlesScraped.Add(float64(count))
}

// RecordDuplicateSkipped は重複スキップを記録する。
func (c *Collector) RecordDuplicateSkipped() {
	c.duplicatesSkipped.Inc()
}

// RecordScrapeError はエラー種別付きのスクレイプ失敗を記録する。
func (c *Collector) RecordScrapeError(kind string) {
	c.scrapeErrors.WithLabelValues(kind).Inc()
}

// RecordFetchLatency はソースフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordItemArchived はアーカイブ1件と圧縮率を記録する。
func (c *Collector) RecordItemArchived(compressionRatio float64) {
	c.itemsArchived.Inc()
	c.compressionRatio.Observe(compressionRatio)
}

// SetActivePipelines は実行中のソースパイプライン数を設定する。
func (c *Collector) SetActivePipelines(count int) {
	c.activePipelines.Set(float64(count))
}

// SetAdmissionLevel はアドミッション判定のゲージを設定する。
func (c *Collector) SetAdmissionLevel(level int) {
	c.admissionLevel.Set(float64(level))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

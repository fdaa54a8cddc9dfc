package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labelValue string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue == "" || (len(m.GetLabel()) > 0 && m.GetLabel()[0].GetValue() == labelValue) {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("%s metric not found", name)
	return 0
}

// TestRecordJobCompleted_IncrementsCounter は終端状態別のジョブ完了カウンタが増加することを検証する。
func TestRecordJobCompleted_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordJobCompleted("successful")
	c.RecordJobCompleted("successful")
	c.RecordJobCompleted("partial")

	if got := counterValue(t, reg, "newspipe_jobs_completed_total", "successful"); got != 2 {
		t.Errorf("jobs_completed_total{status=successful} = %v, want 2", got)
	}
	if got := counterValue(t, reg, "newspipe_jobs_completed_total", "partial"); got != 1 {
		t.Errorf("jobs_completed_total{status=partial} = %v, want 1", got)
	}
}

// TestRecordArticlesScraped_AddsCount は記事数カウンタが件数分増加することを検証する。
func TestRecordArticlesScraped_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordArticlesScraped(5)
	c.RecordArticlesScraped(3)

	if got := counterValue(t, reg, "newspipe_articles_scraped_total", ""); got != 8 {
		t.Errorf("articles_scraped_total = %v, want 8", got)
	}
}

// TestRecordScrapeError_LabelsByKind はエラー種別ラベル付きでカウントされることを検証する。
func TestRecordScrapeError_LabelsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordScrapeError("network")
	c.RecordScrapeError("network")
	c.RecordScrapeError("parse")

	if got := counterValue(t, reg, "newspipe_scrape_errors_total", "network"); got != 2 {
		t.Errorf("scrape_errors_total{kind=network} = %v, want 2", got)
	}
	if got := counterValue(t, reg, "newspipe_scrape_errors_total", "parse"); got != 1 {
		t.Errorf("scrape_errors_total{kind=parse} = %v, want 1", got)
	}
}

// TestRecordDuplicateSkipped_IncrementsCounter は重複スキップカウンタが増加することを検証する。
func TestRecordDuplicateSkipped_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDuplicateSkipped()

	if got := counterValue(t, reg, "newspipe_duplicates_skipped_total", ""); got != 1 {
		t.Errorf("duplicates_skipped_total = %v, want 1", got)
	}
}

// TestRecordItemArchived_RecordsRatio はアーカイブ件数と圧縮率が記録されることを検証する。
func TestRecordItemArchived_RecordsRatio(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordItemArchived(0.35)
	c.RecordItemArchived(0.42)

	if got := counterValue(t, reg, "newspipe_items_archived_total", ""); got != 2 {
		t.Errorf("items_archived_total = %v, want 2", got)
	}
}

// TestRecordFetchLatency_DoesNotPanic はレイテンシ記録がパニックしないことを検証する。
func TestRecordFetchLatency_DoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchLatency(250 * time.Millisecond)
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("%s metric not found", name)
	return 0
}

// TestSetActivePipelines_SetsGauge はアクティブパイプライン数のゲージが設定されることを検証する。
func TestSetActivePipelines_SetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetActivePipelines(3)

	if got := gaugeValue(t, reg, "newspipe_active_pipelines"); got != 3 {
		t.Errorf("active_pipelines = %v, want 3", got)
	}
}

// TestSetAdmissionLevel_SetsGauge はアドミッション判定のゲージが設定されることを検証する。
func TestSetAdmissionLevel_SetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetAdmissionLevel(2)

	if got := gaugeValue(t, reg, "newspipe_admission_level"); got != 2 {
		t.Errorf("admission_level = %v, want 2", got)
	}
}

// Package pipeline はスクレイピングジョブの実行を統括する。
// ジョブの状態機械、ソースパイプラインの並列スケジューリング、
// キャンセル、結果集約を担当する。
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newspipe/internal/classify"
	"github.com/hitoshi/newspipe/internal/dedup"
	"github.com/hitoshi/newspipe/internal/metrics"
	"github.com/hitoshi/newspipe/internal/model"
	"github.com/hitoshi/newspipe/internal/monitor"
	"github.com/hitoshi/newspipe/internal/repository"
	"github.com/hitoshi/newspipe/internal/scrape"
	"github.com/hitoshi/newspipe/internal/security"
)

// AdmissionGate は新規ソースパイプライン開始可否の判定インターフェース。
// ResourceMonitorが実装する。
type AdmissionGate interface {
	Level() monitor.AdmissionLevel
}

// admissionPollInterval はアドミッション判定が回復するまでの再確認間隔。
const admissionPollInterval = 500 * time.Millisecond

// Orchestrator はジョブの受理から終端状態までのライフサイクルを管理する。
// ジョブ状態を変更するのはOrchestratorのみ。
// 状態遷移は new → in-progress → {successful | partial | failed} の一方向で、
// 終端状態に入ったジョブは以降変更されない。
type Orchestrator struct {
	sourceRepo  repository.SourceRepository
	jobRepo     repository.JobRepository
	logRepo     repository.JobLogRepository
	contentRepo repository.ContentRepository
	fetcher     scrape.SourceFetcher
	classifier  *classify.Classifier
	sanitizer   security.ContentSanitizerService
	detector    *dedup.Detector
	gate        AdmissionGate
	collector   metrics.MetricsCollector
	logger      *slog.Logger

	maxConcurrent int
	failureRatio  float64

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	active  atomic.Int64
}

// NewOrchestrator はOrchestratorの新しいインスタンスを生成する。
// maxConcurrentが0以下の場合はデフォルト値3を使用する。
// failureRatioが範囲外の場合は1.0（全記事失敗でソース失敗）を使用する。
func NewOrchestrator(
	sourceRepo repository.SourceRepository,
	jobRepo repository.JobRepository,
	logRepo repository.JobLogRepository,
	contentRepo repository.ContentRepository,
	fetcher scrape.SourceFetcher,
	classifier *classify.Classifier,
	sanitizer security.ContentSanitizerService,
	detector *dedup.Detector,
	gate AdmissionGate,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrent int,
	failureRatio float64,
) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	if failureRatio <= 0 || failureRatio > 1 {
		failureRatio = 1.0
	}
	return &Orchestrator{
		sourceRepo:    sourceRepo,
		jobRepo:       jobRepo,
		logRepo:       logRepo,
		contentRepo:   contentRepo,
		fetcher:       fetcher,
		classifier:    classifier,
		sanitizer:     sanitizer,
		detector:      detector,
		gate:          gate,
		collector:     collector,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		failureRatio:  failureRatio,
		cancels:       make(map[string]context.CancelFunc),
	}
}

// Trigger はジョブを受理し、バックグラウンドで実行を開始する。
// 有効なソースが1件もない場合はジョブを作成せずにエラーを返す。
// 戻り値のジョブはnew状態で、実行は非同期に進行する。
func (o *Orchestrator) Trigger(ctx context.Context, sourceIDs []string, articlesPerSource int) (*model.Job, error) {
	if articlesPerSource < 1 {
		return nil, model.NewInvalidQuotaError(articlesPerSource)
	}

	sources, err := o.sourceRepo.ListActiveByIDs(ctx, sourceIDs)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, model.NewNoValidSourcesError()
	}

	validIDs := make([]string, len(sources))
	for i, s := range sources {
		validIDs[i] = s.ID
	}

	now := time.Now()
	job := &model.Job{
		ID:                uuid.NewString(),
		Status:            model.JobStatusNew,
		SourceIDs:         validIDs,
		ArticlesPerSource: articlesPerSource,
		TriggeredAt:       now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := o.jobRepo.Create(ctx, job); err != nil {
		return nil, err
	}

	o.appendLog(ctx, job.ID, "", model.LogLevelInfo, "ジョブを受理しました", map[string]any{
		"source_count":        len(validIDs),
		"articles_per_source": articlesPerSource,
	})

	// リクエストのキャンセルとジョブのキャンセルを分離する
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.cancels[job.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(runCtx, job, sources)
	}()

	return job, nil
}

// Cancel は実行中のジョブに協調的キャンセルを要求する。
// 既に終端状態のジョブ、またはこのプロセスで実行されていないジョブには
// JobNotCancellableエラーを返す。
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	o.mu.Lock()
	cancel, running := o.cancels[jobID]
	o.mu.Unlock()

	if running {
		cancel()
		return nil
	}

	job, err := o.jobRepo.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return model.NewJobNotFoundError(jobID)
	}
	return model.NewJobNotCancellableError(jobID)
}

// Wait は進行中の全ジョブの完了を待つ。グレースフルシャットダウン用。
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// run はジョブの実行本体。ソースパイプラインを並列にスケジュールし、
// 全件完了後に結果を集約して終端状態へ遷移させる。
func (o *Orchestrator) run(ctx context.Context, job *model.Job, sources []*model.Source) {
	defer func() {
		o.mu.Lock()
		delete(o.cancels, job.ID)
		o.mu.Unlock()
	}()

	start := time.Now()

	job.Status = model.JobStatusInProgress
	job.UpdatedAt = time.Now()
	if err := o.jobRepo.Update(ctx, job); err != nil {
		o.logger.Error("ジョブ状態の更新に失敗しました",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	o.logger.Info("ジョブの実行を開始します",
		slog.String("job_id", job.ID),
		slog.Int("source_count", len(sources)),
		slog.Int("articles_per_source", job.ArticlesPerSource),
	)

	results := make([]sourceResult, len(sources))

	// semaphoreパターンで並列数を制御。
	// 加えてリソースモニターの判定でディスパッチをゲートする。
	sem := make(chan struct{}, o.maxConcurrent)
	var wg sync.WaitGroup

	canceled := false
	dispatched := 0
	for i, src := range sources {
		if err := o.waitAdmission(ctx); err != nil {
			canceled = true
			break
		}

		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）
		dispatched++

		// 実効並列数の枠はgoroutine起動前に確保する。
		// waitAdmissionの判定はactiveの現在値を参照するため。
		o.collector.SetActivePipelines(int(o.active.Add(1)))

		go func(idx int, s *model.Source) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放
			defer func() {
				o.collector.SetActivePipelines(int(o.active.Add(-1)))
			}()

			results[idx] = o.runSourcePipeline(ctx, job, s)
		}(i, src)
	}

	wg.Wait()

	if !canceled && ctx.Err() != nil {
		canceled = true
	}

	o.finalize(ctx, job, sources, results[:dispatched], canceled, start)
}

// waitAdmission はリソースモニターの判定に従ってディスパッチを待機する。
// denyの間は新規開始を停止し、reducedの間は実効並列数を半減させる。
// コンテキストのキャンセルで打ち切られる。
func (o *Orchestrator) waitAdmission(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		level := o.gate.Level()
		o.collector.SetAdmissionLevel(int(level))

		allowed := o.maxConcurrent
		switch level {
		case monitor.AdmissionReduced:
			allowed = o.maxConcurrent / 2
			if allowed < 1 {
				allowed = 1
			}
		case monitor.AdmissionDeny:
			allowed = 0
		}

		if allowed > 0 && int(o.active.Load()) < allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(admissionPollInterval):
		}
	}
}

// finalize は全ソースの結果を集約し、ジョブを終端状態へ遷移させる。
// キャンセル後でも最終状態の永続化は完了させる。
func (o *Orchestrator) finalize(ctx context.Context, job *model.Job, sources []*model.Source, results []sourceResult, canceled bool, start time.Time) {
	persistCtx := context.WithoutCancel(ctx)

	succeeded := 0
	totalScraped := 0
	totalErrors := 0
	for _, r := range results {
		if !r.failed {
			succeeded++
		}
		totalScraped += r.scraped
		totalErrors += r.errors
	}
	// ディスパッチ前にキャンセルされたソースはエラー1件として計上する
	totalErrors += len(sources) - len(results)

	var status model.JobStatus
	switch {
	case canceled:
		status = model.JobStatusFailed
	case succeeded == len(sources):
		status = model.JobStatusSuccessful
	case succeeded > 0:
		status = model.JobStatusPartial
	default:
		status = model.JobStatusFailed
	}

	now := time.Now()
	job.Status = status
	job.TotalArticlesScraped = totalScraped
	job.TotalErrors = totalErrors
	job.CompletedAt = &now
	job.UpdatedAt = now

	if err := o.jobRepo.Update(persistCtx, job); err != nil {
		o.logger.Error("ジョブの終端状態の永続化に失敗しました",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	message := "ジョブが完了しました"
	if canceled {
		message = "ジョブはキャンセルされました"
	}
	o.appendLog(persistCtx, job.ID, "", model.LogLevelInfo, message, map[string]any{
		"status":           string(status),
		"total_articles":   totalScraped,
		"total_errors":     totalErrors,
		"sources_total":    len(sources),
		"sources_survived": succeeded,
		"duration_ms":      time.Since(start).Milliseconds(),
	})

	o.collector.RecordJobCompleted(string(status))
	o.collector.RecordArticlesScraped(totalScraped)

	o.logger.Info("ジョブが終端状態に到達しました",
		slog.String("job_id", job.ID),
		slog.String("status", string(status)),
		slog.Int("total_articles", totalScraped),
		slog.Int("total_errors", totalErrors),
		slog.Duration("duration", time.Since(start)),
	)
}

// appendLog はジョブログを追記する。失敗してもジョブ実行は継続する。
func (o *Orchestrator) appendLog(ctx context.Context, jobID, sourceID string, level model.LogLevel, message string, payload map[string]any) {
	entry := &model.JobLogEntry{
		ID:        uuid.NewString(),
		JobID:     jobID,
		SourceID:  sourceID,
		Level:     level,
		Message:   message,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := o.logRepo.Append(ctx, entry); err != nil {
		o.logger.Error("ジョブログの追記に失敗しました",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// errorKind はエラーからスクレイプエラー種別を取り出す。未分類はnetwork扱い。
func errorKind(err error) scrape.ErrorKind {
	var se *scrape.ScrapeError
	if errors.As(err, &se) {
		return se.Kind
	}
	return scrape.ClassifyError(err)
}

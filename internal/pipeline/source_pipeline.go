package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newspipe/internal/dedup"
	"github.com/hitoshi/newspipe/internal/model"
	"github.com/hitoshi/newspipe/internal/repository"
)

// sourceResult はソースパイプライン1本の実行結果。
type sourceResult struct {
	sourceID   string
	scraped    int  // 新規に永続化した記事数
	duplicates int  // 重複によりスキップした記事数
	errors     int  // 記事レベルの失敗数
	failed     bool // ソースとして失敗扱いか
}

// runSourcePipeline は1ソース分のパイプラインを実行する。
// フィード取得 → 記事抽出 → 重複排除 → 分類 → サニタイズ → 永続化 の順で処理し、
// 記事レベルの失敗はスキップとして記録する。ソース失敗になるのは
// フィード自体の取得失敗か、記事の失敗率が閾値に達した場合のみ。
func (o *Orchestrator) runSourcePipeline(ctx context.Context, job *model.Job, src *model.Source) sourceResult {
	result := sourceResult{sourceID: src.ID}

	o.appendLog(ctx, job.ID, src.ID, model.LogLevelInfo, "ソースの取得を開始します", map[string]any{
		"domain": src.Domain,
		"quota":  job.ArticlesPerSource,
	})

	start := time.Now()
	outcome, err := o.fetcher.FetchSource(ctx, src, job.ArticlesPerSource)
	o.collector.RecordFetchLatency(time.Since(start))

	if err != nil {
		kind := errorKind(err)
		o.collector.RecordScrapeError(string(kind))
		result.failed = true
		result.errors = 1
		o.appendLog(ctx, job.ID, src.ID, model.LogLevelError, "ソースの処理に失敗しました", map[string]any{
			"domain": src.Domain,
			"kind":   string(kind),
			"error":  err.Error(),
		})
		return result
	}

	if len(outcome.RobotsSkipped) > 0 {
		o.appendLog(ctx, job.ID, src.ID, model.LogLevelWarning, "robots.txtにより記事をスキップしました", map[string]any{
			"skipped_count": len(outcome.RobotsSkipped),
			"urls":          outcome.RobotsSkipped,
		})
	}

	for _, f := range outcome.Failures {
		result.errors++
		o.collector.RecordScrapeError(string(f.Kind))
		o.appendLog(ctx, job.ID, src.ID, model.LogLevelWarning, "記事の取得に失敗しました", map[string]any{
			"url":   f.URL,
			"kind":  string(f.Kind),
			"error": f.Message,
		})
	}

	for _, article := range outcome.Articles {
		if ctx.Err() != nil {
			break
		}

		persisted, err := o.persistArticle(ctx, job, src, article)
		if err != nil {
			result.errors++
			o.appendLog(ctx, job.ID, src.ID, model.LogLevelError, "記事の保存に失敗しました", map[string]any{
				"url":   article.URL,
				"error": err.Error(),
			})
			continue
		}
		if !persisted {
			result.duplicates++
			o.collector.RecordDuplicateSkipped()
			o.appendLog(ctx, job.ID, src.ID, model.LogLevelInfo, "重複記事をスキップしました", map[string]any{
				"url": article.URL,
			})
			continue
		}
		result.scraped++
	}

	// 失敗率が閾値に達したソースは失敗扱いにする。
	// 重複スキップは失敗ではないため分母から除外しない（試行数ベース）。
	if outcome.Attempted > 0 {
		ratio := float64(result.errors) / float64(outcome.Attempted)
		if ratio >= o.failureRatio {
			result.failed = true
		}
	}

	level := model.LogLevelInfo
	message := "ソースの処理が完了しました"
	if result.failed {
		level = model.LogLevelError
		message = "ソースの処理に失敗しました"
	}
	o.appendLog(ctx, job.ID, src.ID, level, message, map[string]any{
		"domain":     src.Domain,
		"attempted":  outcome.Attempted,
		"scraped":    result.scraped,
		"duplicates": result.duplicates,
		"errors":     result.errors,
	})

	return result
}

// persistArticle は抽出済み記事を重複排除・分類・サニタイズして永続化する。
// 戻り値は（新規保存されたか, エラー）。重複スキップは (false, nil)。
func (o *Orchestrator) persistArticle(ctx context.Context, job *model.Job, src *model.Source, article *model.ParsedArticle) (bool, error) {
	sanitized := o.sanitizer.Sanitize(article.BodyHTML)

	// 本文はサニタイズ後HTMLのプレーンテキストを正とする。
	// content_hashと言語判定が保存本文と同じ正規化テキストを見るようにする。
	// HTMLを持たない抽出経路（JSON-LD等）は抽出済みテキストをそのまま使う。
	body := article.Body
	if sanitized != "" {
		body = o.sanitizer.PlainText(sanitized)
	}

	hash := dedup.ComputeContentHash(article.Title, body)

	dup, err := o.detector.IsDuplicate(ctx, article.URL, hash)
	if err != nil {
		return false, err
	}
	if dup {
		return false, nil
	}

	res := o.classifier.Classify(article.Title, body, src.DefaultCategory)

	item := &model.ContentItem{
		ID:               uuid.NewString(),
		SourceID:         src.ID,
		SourceURL:        article.URL,
		Title:            article.Title,
		Body:             body,
		BodyHTML:         sanitized,
		Author:           article.Author,
		PublicationDate:  article.PublicationDate,
		Language:         res.Language,
		Category:         res.Category,
		Tags:             res.Tags,
		ContentHash:      hash,
		ProcessingStatus: model.ProcessingStatusCompleted,
		BodySize:         int64(len(body)),
		HTMLSize:         int64(len(sanitized)),
		CreatedAt:        time.Now(),
	}

	if err := o.contentRepo.Create(ctx, item); err != nil {
		// 並行パイプラインとの競合は一意制約が最終判定する
		if errors.Is(err, repository.ErrDuplicateContent) {
			return false, nil
		}
		return false, err
	}

	o.logger.Debug("記事を保存しました",
		slog.String("job_id", job.ID),
		slog.String("source_id", src.ID),
		slog.String("url", article.URL),
		slog.String("language", res.Language),
		slog.String("category", res.Category),
	)

	return true, nil
}

package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/hitoshi/newspipe/internal/model"
	"github.com/hitoshi/newspipe/internal/security"
)

// ArticleFailure は1記事分の取得・抽出失敗の記録。
// ソースを失敗させずにスキップされた記事の内訳としてジョブログに記録される。
type ArticleFailure struct {
	URL     string
	Kind    ErrorKind
	Message string
}

// FetchOutcome は1ソース分のフェッチ・抽出結果。
type FetchOutcome struct {
	Articles      []*model.ParsedArticle // 抽出に成功した記事（フィード順）
	Attempted     int                    // 取得を試行した記事数
	Failures      []ArticleFailure       // スキップされた記事の失敗記録
	RobotsSkipped []string               // robots.txtにより除外されたURL
}

// SourceFetcher は1ソース分のフェッチ・抽出の実行インターフェース。
type SourceFetcher interface {
	// FetchSource はソースのフィードを取得し、先頭quota件の記事を抽出して返す。
	// フィード自体が取得・解析できない場合のみエラーを返す（ソース失敗）。
	// 個別記事の失敗はFetchOutcome.Failuresに記録され、ソース失敗にはしない。
	FetchSource(ctx context.Context, source *model.Source, quota int) (*FetchOutcome, error)
}

// Fetcher はSourceFetcherの実装。
// ソースのScrapePolicyに従い、リクエスト間隔・User-Agent・タイムアウト・
// robots.txt遵守を適用しながらフィードと記事ページを取得する。
type Fetcher struct {
	ssrfGuard       security.SSRFGuardService
	extractor       *Extractor
	logger          *slog.Logger
	retryPolicy     RetryPolicy
	fallbackTimeout time.Duration
	maxBodySize     int64
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
func NewFetcher(
	ssrfGuard security.SSRFGuardService,
	extractor *Extractor,
	logger *slog.Logger,
	retryPolicy RetryPolicy,
	fallbackTimeout time.Duration,
	maxBodySize int64,
) *Fetcher {
	return &Fetcher{
		ssrfGuard:       ssrfGuard,
		extractor:       extractor,
		logger:          logger,
		retryPolicy:     retryPolicy,
		fallbackTimeout: fallbackTimeout,
		maxBodySize:     maxBodySize,
	}
}

// FetchSource はソースのフィードを取得し、先頭quota件の記事を抽出して返す。
// キャンセルはフィード取得前と各記事の境界でチェックされる。
func (f *Fetcher) FetchSource(ctx context.Context, source *model.Source, quota int) (*FetchOutcome, error) {
	policy := source.ScrapePolicy()
	client := f.ssrfGuard.NewSafeClient(policy.Timeout(f.fallbackTimeout), f.maxBodySize)

	// リクエスト間隔の制御: delayMsを1リクエストごとの最小間隔として適用する
	limiter := rate.NewLimiter(rate.Every(policy.Delay()), 1)
	if policy.DelayMs <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	// robots.txtの取得。失敗時は全許可にフォールバックする。
	var robots *RobotsRules
	if source.RespectRobots {
		rules, err := FetchRobots(ctx, client, source.Domain, policy.UserAgent)
		if err != nil {
			f.logger.Warn("robots.txtを取得できないため全URLを許可します",
				slog.String("source_id", source.ID),
				slog.String("domain", source.Domain),
				slog.String("error", err.Error()),
			)
		} else {
			robots = rules
		}
	}

	// キャンセルチェックポイント: フィード取得境界
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	feed, err := f.fetchFeed(ctx, client, limiter, source)
	if err != nil {
		return nil, err
	}

	entries := feed.Items
	if len(entries) > quota {
		entries = entries[:quota]
	}

	outcome := &FetchOutcome{}

	for _, entry := range entries {
		// キャンセルチェックポイント: 記事境界
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if entry == nil || entry.Link == "" {
			continue
		}

		if robots != nil && !robots.AllowedURL(entry.Link) {
			f.logger.Info("robots.txtにより記事をスキップします",
				slog.String("source_id", source.ID),
				slog.String("url", entry.Link),
			)
			outcome.RobotsSkipped = append(outcome.RobotsSkipped, entry.Link)
			continue
		}

		outcome.Attempted++

		article, err := f.fetchArticle(ctx, client, limiter, source, entry.Link)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			kind := ClassifyError(err)
			f.logger.Warn("記事の取得・抽出に失敗したためスキップします",
				slog.String("source_id", source.ID),
				slog.String("url", entry.Link),
				slog.String("error_kind", string(kind)),
				slog.String("error", err.Error()),
			)
			outcome.Failures = append(outcome.Failures, ArticleFailure{
				URL:     entry.Link,
				Kind:    kind,
				Message: err.Error(),
			})
			continue
		}

		// フィード側のメタデータで抽出結果を補完する
		if article.Author == "" && entry.Author != nil {
			article.Author = entry.Author.Name
		}
		if article.PublicationDate == nil && entry.PublishedParsed != nil {
			t := *entry.PublishedParsed
			article.PublicationDate = &t
		}

		outcome.Articles = append(outcome.Articles, article)
	}

	return outcome, nil
}

// fetchFeed はフィードをリトライ付きで取得・解析する。
// リトライ枯渇・解析失敗はソース失敗としてエラーを返す。
func (f *Fetcher) fetchFeed(ctx context.Context, client *http.Client, limiter *rate.Limiter, source *model.Source) (*gofeed.Feed, error) {
	var feed *gofeed.Feed

	err := Retry(ctx, f.retryPolicy, func() error {
		body, err := f.get(ctx, client, limiter, source, source.FeedURL)
		if err != nil {
			return err
		}

		parsed, err := gofeed.NewParser().ParseString(string(body))
		if err != nil {
			return NewError(ErrorKindParse, source.ID, "フィードの解析に失敗しました", err)
		}
		feed = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return feed, nil
}

// fetchArticle は記事ページをリトライ付きで取得し、戦略チェーンで抽出する。
func (f *Fetcher) fetchArticle(ctx context.Context, client *http.Client, limiter *rate.Limiter, source *model.Source, pageURL string) (*model.ParsedArticle, error) {
	var body []byte

	err := Retry(ctx, f.retryPolicy, func() error {
		b, err := f.get(ctx, client, limiter, source, pageURL)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	return f.extractor.Extract(source.ID, pageURL, string(body))
}

// get は1回のHTTP GETを実行する。リクエスト前にレートリミッターで待機する。
func (f *Fetcher) get(ctx context.Context, client *http.Client, limiter *rate.Limiter, source *model.Source, rawURL string) ([]byte, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if err := f.ssrfGuard.ValidateURL(rawURL); err != nil {
		return nil, NewError(ErrorKindValidation, source.ID, "URL検証に失敗しました: "+rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, NewError(ErrorKindValidation, source.ID, "リクエストの作成に失敗しました", err)
	}
	if ua := source.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, NewError(ErrorKindNetwork, source.ID, "HTTPリクエストに失敗しました: "+rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := ClassifyHTTPStatus(resp.StatusCode)
		return nil, NewError(kind, source.ID,
			fmt.Sprintf("HTTPステータス %d: %s", resp.StatusCode, rawURL), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, NewError(ErrorKindNetwork, source.ID, "レスポンスボディの読み取りに失敗しました", err)
	}

	return body, nil
}

package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/newspipe/internal/model"
)

// stubSSRFGuard はテスト用のSSRFGuardService実装。
// 全リクエストをhttptestサーバーへ向け直すクライアントを返し、
// ループバック遮断なしでフェッチ経路を検証できるようにする。
type stubSSRFGuard struct {
	target string
}

func (g stubSSRFGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: rewriteHostTransport(g.target),
	}
}

func (g stubSSRFGuard) ValidateURL(rawURL string) error { return nil }

// fastRetry はテスト高速化のためのリトライポリシー。
func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newTestFetcher(target string) *Fetcher {
	return NewFetcher(
		stubSSRFGuard{target: target},
		NewExtractor(),
		slog.New(slog.NewTextHandler(&strings.Builder{}, nil)),
		fastRetry(),
		5*time.Second,
		5*1024*1024,
	)
}

// rssFeed は指定リンクの記事を持つRSS 2.0文書を生成する。
func rssFeed(links ...string) string {
	var items strings.Builder
	for i, link := range links {
		fmt.Fprintf(&items, `
<item>
  <title>Item %d</title>
  <link>%s</link>
  <dc:creator>Feed Author</dc:creator>
  <pubDate>Mon, 16 Mar 2026 09:00:00 GMT</pubDate>
</item>`, i+1, link)
	}
	return `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel><title>Test Feed</title>` + items.String() + `</channel></rss>`
}

// articleHTML は抽出可能なJSON-LD付きの記事ページを生成する。
func articleHTML(headline string) string {
	body := strings.Repeat("The committee discussed the proposal in detail. ", 5)
	return `<html><head><script type="application/ld+json">
{"@type": "NewsArticle", "headline": "` + headline + `", "articleBody": "` + body + `"}
</script></head><body></body></html>`
}

func testSource(feedURL string) *model.Source {
	return &model.Source{
		ID:            "src-1",
		Name:          "テストソース",
		Domain:        "example.com",
		FeedURL:       feedURL,
		RespectRobots: false,
		TimeoutMs:     5000,
	}
}

// TestFetchSource_Success はフィード取得から記事抽出までの正常系を検証する。
func TestFetchSource_Success(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFeed(ts.URL+"/a1", ts.URL+"/a2", ts.URL+"/a3")))
	})
	for _, p := range []string{"/a1", "/a2", "/a3"} {
		path := p
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(articleHTML("Article " + path)))
		})
	}

	f := newTestFetcher(ts.URL)
	outcome, err := f.FetchSource(context.Background(), testSource(ts.URL+"/feed.xml"), 2)
	if err != nil {
		t.Fatalf("FetchSource returned error: %v", err)
	}

	// quota=2のため先頭2件のみ取得される
	if len(outcome.Articles) != 2 {
		t.Fatalf("len(Articles) = %d, want 2", len(outcome.Articles))
	}
	if outcome.Attempted != 2 {
		t.Errorf("Attempted = %d, want 2", outcome.Attempted)
	}
	if len(outcome.Failures) != 0 {
		t.Errorf("Failures = %v, want none", outcome.Failures)
	}
	if outcome.Articles[0].URL != ts.URL+"/a1" {
		t.Errorf("Articles[0].URL = %q, want feed order preserved", outcome.Articles[0].URL)
	}
}

// TestFetchSource_ArticleFailureIsRecorded は個別記事の失敗がソース失敗に
// ならず、Failuresに記録されることを検証する。
func TestFetchSource_ArticleFailureIsRecorded(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFeed(ts.URL+"/ok", ts.URL+"/gone")))
	})
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articleHTML("Still here")))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	f := newTestFetcher(ts.URL)
	outcome, err := f.FetchSource(context.Background(), testSource(ts.URL+"/feed.xml"), 10)
	if err != nil {
		t.Fatalf("FetchSource returned error: %v", err)
	}

	if len(outcome.Articles) != 1 {
		t.Errorf("len(Articles) = %d, want 1", len(outcome.Articles))
	}
	if outcome.Attempted != 2 {
		t.Errorf("Attempted = %d, want 2", outcome.Attempted)
	}
	if len(outcome.Failures) != 1 {
		t.Fatalf("len(Failures) = %d, want 1", len(outcome.Failures))
	}
	if outcome.Failures[0].Kind != ErrorKindValidation {
		t.Errorf("Failures[0].Kind = %q, want %q (404)", outcome.Failures[0].Kind, ErrorKindValidation)
	}
	if outcome.Failures[0].URL != ts.URL+"/gone" {
		t.Errorf("Failures[0].URL = %q, want gone URL", outcome.Failures[0].URL)
	}
}

// TestFetchSource_FeedFailure はフィード自体の取得失敗がエラー（ソース失敗）に
// なることを検証する。
func TestFetchSource_FeedFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	f := newTestFetcher(ts.URL)
	_, err := f.FetchSource(context.Background(), testSource(ts.URL+"/feed.xml"), 5)
	if err == nil {
		t.Fatal("expected error for failing feed")
	}
}

// TestFetchSource_FeedParseFailure は解析不能なフィードがリトライなしで
// ソース失敗になることを検証する。
func TestFetchSource_FeedParseFailure(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("this is not a feed"))
	}))
	defer ts.Close()

	f := newTestFetcher(ts.URL)
	_, err := f.FetchSource(context.Background(), testSource(ts.URL+"/feed.xml"), 5)
	if err == nil {
		t.Fatal("expected error for unparsable feed")
	}
	if calls != 1 {
		t.Errorf("feed fetch calls = %d, want 1 (parse errors must not be retried)", calls)
	}
}

// TestFetchSource_EmptyFeed は空フィードが成功（空の結果）になることを検証する。
func TestFetchSource_EmptyFeed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFeed()))
	}))
	defer ts.Close()

	f := newTestFetcher(ts.URL)
	outcome, err := f.FetchSource(context.Background(), testSource(ts.URL+"/feed.xml"), 5)
	if err != nil {
		t.Fatalf("FetchSource returned error: %v", err)
	}
	if len(outcome.Articles) != 0 || outcome.Attempted != 0 {
		t.Errorf("empty feed should yield empty outcome, got %+v", outcome)
	}
}

// TestFetchSource_RespectsRobots はrobots.txtのDisallowに一致する記事が
// フェッチされずにRobotsSkippedへ記録されることを検証する。
func TestFetchSource_RespectsRobots(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private"))
	})
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFeed(ts.URL+"/public/a1", ts.URL+"/private/a2")))
	})
	mux.HandleFunc("/public/a1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articleHTML("Public article")))
	})
	mux.HandleFunc("/private/a2", func(w http.ResponseWriter, r *http.Request) {
		t.Error("disallowed URL should not be fetched")
	})

	src := testSource(ts.URL + "/feed.xml")
	src.RespectRobots = true

	f := newTestFetcher(ts.URL)
	outcome, err := f.FetchSource(context.Background(), src, 10)
	if err != nil {
		t.Fatalf("FetchSource returned error: %v", err)
	}

	if len(outcome.RobotsSkipped) != 1 || outcome.RobotsSkipped[0] != ts.URL+"/private/a2" {
		t.Errorf("RobotsSkipped = %v, want private URL only", outcome.RobotsSkipped)
	}
	if len(outcome.Articles) != 1 {
		t.Errorf("len(Articles) = %d, want 1", len(outcome.Articles))
	}
	// robots.txtでスキップされた記事は試行数に数えない
	if outcome.Attempted != 1 {
		t.Errorf("Attempted = %d, want 1", outcome.Attempted)
	}
}

// TestFetchSource_RobotsFetchFailureAllowsAll はrobots.txtが取得できない場合に
// 全許可へフォールバックすることを検証する。
func TestFetchSource_RobotsFetchFailureAllowsAll(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFeed(ts.URL + "/a1")))
	})
	mux.HandleFunc("/a1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articleHTML("Allowed by fallback")))
	})

	src := testSource(ts.URL + "/feed.xml")
	src.RespectRobots = true

	f := newTestFetcher(ts.URL)
	outcome, err := f.FetchSource(context.Background(), src, 10)
	if err != nil {
		t.Fatalf("FetchSource returned error: %v", err)
	}
	if len(outcome.Articles) != 1 {
		t.Errorf("len(Articles) = %d, want 1 (robots取得失敗時は全許可)", len(outcome.Articles))
	}
	if len(outcome.RobotsSkipped) != 0 {
		t.Errorf("RobotsSkipped = %v, want none", outcome.RobotsSkipped)
	}
}

// TestFetchSource_FeedMetadataSupplement は抽出結果に欠けたメタデータが
// フィード側の値で補完されることを検証する。
func TestFetchSource_FeedMetadataSupplement(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFeed(ts.URL + "/a1")))
	})
	mux.HandleFunc("/a1", func(w http.ResponseWriter, r *http.Request) {
		// author・datePublishedを持たない記事ページ
		w.Write([]byte(articleHTML("No metadata")))
	})

	f := newTestFetcher(ts.URL)
	outcome, err := f.FetchSource(context.Background(), testSource(ts.URL+"/feed.xml"), 1)
	if err != nil {
		t.Fatalf("FetchSource returned error: %v", err)
	}
	if len(outcome.Articles) != 1 {
		t.Fatalf("len(Articles) = %d, want 1", len(outcome.Articles))
	}

	article := outcome.Articles[0]
	if article.Author != "Feed Author" {
		t.Errorf("Author = %q, want supplemented %q", article.Author, "Feed Author")
	}
	if article.PublicationDate == nil {
		t.Error("expected PublicationDate to be supplemented from feed pubDate")
	}
}

// TestFetchSource_Cancelled はキャンセル済みコンテキストで即座に中断することを検証する。
func TestFetchSource_Cancelled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFeed()))
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newTestFetcher(ts.URL)
	if _, err := f.FetchSource(ctx, testSource(ts.URL+"/feed.xml"), 5); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// TestFetchSource_SendsUserAgent はソースのUser-Agentがリクエストに
// 付与されることを検証する。
func TestFetchSource_SendsUserAgent(t *testing.T) {
	var gotUA string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(rssFeed()))
	}))
	defer ts.Close()

	src := testSource(ts.URL + "/feed.xml")
	src.UserAgent = "newspipe-bot/1.0"

	f := newTestFetcher(ts.URL)
	if _, err := f.FetchSource(context.Background(), src, 5); err != nil {
		t.Fatalf("FetchSource returned error: %v", err)
	}
	if gotUA != "newspipe-bot/1.0" {
		t.Errorf("User-Agent = %q, want newspipe-bot/1.0", gotUA)
	}
}

package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/newspipe/internal/metrics"
	"github.com/hitoshi/newspipe/internal/middleware"
	"github.com/hitoshi/newspipe/internal/repository"
)

// Pinger はヘルスチェックのDB疎通確認インターフェース。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ジョブ
	JobService JobServiceInterface

	// 記事
	ContentStore ContentStore
	ArchiveStore ArchiveStore

	// ソース
	SourceRepo repository.SourceRepository

	// 運用系
	DB       Pinger
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → LoggingMiddleware → RecoveryMiddleware
//
// /health と /metrics はレート制限の対象外。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewRecoveryMiddleware())

	jobHandler := NewJobHandler(deps.JobService)
	contentHandler := NewContentHandler(deps.ContentStore, deps.ArchiveStore)
	sourceHandler := NewSourceHandler(deps.SourceRepo)

	// 運用系エンドポイント
	r.Get("/health", healthHandler(deps.DB))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// ジョブ管理
	r.Route("/api/jobs", func(r chi.Router) {
		// POST /api/jobs - ジョブトリガー（専用レート制限を適用）
		if deps.RateLimiter != nil {
			r.With(deps.RateLimiter.TriggerMiddleware()).Post("/", jobHandler.TriggerJob)
		} else {
			r.Post("/", jobHandler.TriggerJob)
		}
		r.Get("/", jobHandler.ListJobs)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", jobHandler.GetJob)
			r.Post("/cancel", jobHandler.CancelJob)
			r.Get("/logs", jobHandler.ListJobLogs)
		})
	})

	// 記事参照
	r.Route("/api/contents", func(r chi.Router) {
		r.Get("/", contentHandler.ListContents)
		r.Get("/{id}", contentHandler.GetContent)
	})

	// ソース管理
	r.Route("/api/sources", func(r chi.Router) {
		r.Get("/", sourceHandler.ListSources)
		r.Post("/", sourceHandler.CreateSource)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", sourceHandler.GetSource)
			r.Put("/", sourceHandler.UpdateSource)
			r.Delete("/", sourceHandler.DeleteSource)
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
				return
			}
		}

		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

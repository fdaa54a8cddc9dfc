// Package handler はREST APIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/newspipe/internal/model"
)

// JobServiceInterface はジョブハンドラーが必要とするサービスインターフェース。
type JobServiceInterface interface {
	// Trigger はジョブを受理して非同期実行を開始する。
	Trigger(ctx context.Context, sourceIDs []string, articlesPerSource int) (*model.Job, error)
	// Cancel は実行中のジョブにキャンセルを要求する。
	Cancel(ctx context.Context, jobID string) error
	// GetJob は指定IDのジョブを取得する。
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	// ListJobs はジョブ一覧を返す。
	ListJobs(ctx context.Context, status model.JobStatus, limit, offset int) ([]*model.Job, error)
	// ListJobLogs は指定ジョブのログを返す。
	ListJobLogs(ctx context.Context, jobID string, limit, offset int) ([]*model.JobLogEntry, error)
}

// JobHandler はジョブ管理のHTTPハンドラー。
type JobHandler struct {
	service JobServiceInterface
}

// NewJobHandler はJobHandlerを生成する。
func NewJobHandler(service JobServiceInterface) *JobHandler {
	return &JobHandler{service: service}
}

// triggerJobRequest はジョブトリガーリクエストのボディ。
type triggerJobRequest struct {
	SourceIDs         []string `json:"source_ids"`
	ArticlesPerSource int      `json:"articles_per_source"`
}

// jobResponse はジョブ情報のAPIレスポンス。
type jobResponse struct {
	ID                   string   `json:"id"`
	Status               string   `json:"status"`
	SourceIDs            []string `json:"source_ids"`
	ArticlesPerSource    int      `json:"articles_per_source"`
	TotalArticlesScraped int      `json:"total_articles_scraped"`
	TotalErrors          int      `json:"total_errors"`
	TriggeredAt          string   `json:"triggered_at"`
	CompletedAt          *string  `json:"completed_at,omitempty"`
}

// jobLogResponse はジョブログ1行のAPIレスポンス。
type jobLogResponse struct {
	ID        string         `json:"id"`
	SourceID  string         `json:"source_id,omitempty"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// TriggerJob はスクレイピングジョブの開始を処理する。
// POST /api/jobs
func (h *JobHandler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	var req triggerJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	if req.ArticlesPerSource == 0 {
		req.ArticlesPerSource = 5
	}

	job, err := h.service.Trigger(r.Context(), req.SourceIDs, req.ArticlesPerSource)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(toJobResponse(job))
}

// CancelJob はジョブのキャンセルを処理する。
// POST /api/jobs/:id/cancel
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	if err := h.service.Cancel(r.Context(), jobID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"id":     jobID,
		"status": "cancelling",
	})
}

// GetJob はジョブ詳細を取得する。
// GET /api/jobs/:id
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toJobResponse(job))
}

// ListJobs はジョブ一覧を取得する。
// GET /api/jobs?status=&limit=&offset=
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := model.JobStatus(r.URL.Query().Get("status"))
	if status != "" && !validJobStatus(status) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidFilterError("status: "+string(status)))
		return
	}

	limit, offset := parsePagination(r, 20, 100)

	jobs, err := h.service.ListJobs(r.Context(), status, limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"jobs": out})
}

// ListJobLogs はジョブログ一覧を取得する。
// GET /api/jobs/:id/logs?limit=&offset=
func (h *JobHandler) ListJobLogs(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	limit, offset := parsePagination(r, 100, 500)

	entries, err := h.service.ListJobLogs(r.Context(), jobID, limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]jobLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, jobLogResponse{
			ID:        e.ID,
			SourceID:  e.SourceID,
			Level:     string(e.Level),
			Message:   e.Message,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"logs": out})
}

// --- ヘルパー関数 ---

// toJobResponse はmodel.JobからAPIレスポンスに変換する。
func toJobResponse(job *model.Job) jobResponse {
	resp := jobResponse{
		ID:                   job.ID,
		Status:               string(job.Status),
		SourceIDs:            job.SourceIDs,
		ArticlesPerSource:    job.ArticlesPerSource,
		TotalArticlesScraped: job.TotalArticlesScraped,
		TotalErrors:          job.TotalErrors,
		TriggeredAt:          job.TriggeredAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if job.CompletedAt != nil {
		s := job.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.CompletedAt = &s
	}
	return resp
}

// validJobStatus はAPIで受け付けるジョブ状態かを返す。
func validJobStatus(s model.JobStatus) bool {
	switch s {
	case model.JobStatusNew, model.JobStatusInProgress,
		model.JobStatusSuccessful, model.JobStatusPartial, model.JobStatusFailed:
		return true
	}
	return false
}

// parsePagination はクエリからlimit/offsetを取り出す。
// limitは[1, max]に制限され、不正値はデフォルトに落とす。
func parsePagination(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNoValidSources, model.ErrCodeInvalidQuota,
		model.ErrCodeInvalidSource, model.ErrCodeInvalidFilter:
		return http.StatusBadRequest
	case model.ErrCodeJobNotFound, model.ErrCodeSourceNotFound, model.ErrCodeContentNotFound:
		return http.StatusNotFound
	case model.ErrCodeJobNotCancellable, model.ErrCodeDuplicateDomain:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

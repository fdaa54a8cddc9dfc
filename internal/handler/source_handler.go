package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/newspipe/internal/model"
	"github.com/hitoshi/newspipe/internal/repository"
)

// SourceHandler はソース管理（管理者用CRUD）のHTTPハンドラー。
type SourceHandler struct {
	repo repository.SourceRepository
}

// NewSourceHandler はSourceHandlerを生成する。
func NewSourceHandler(repo repository.SourceRepository) *SourceHandler {
	return &SourceHandler{repo: repo}
}

// sourceRequest はソース作成・更新リクエストのボディ。
type sourceRequest struct {
	Name            string `json:"name"`
	Domain          string `json:"domain"`
	FeedURL         string `json:"feed_url"`
	DefaultCategory string `json:"default_category"`
	RespectRobots   *bool  `json:"respect_robots"`
	DelayMs         int    `json:"delay_ms"`
	UserAgent       string `json:"user_agent"`
	TimeoutMs       int    `json:"timeout_ms"`
	Active          *bool  `json:"active"`
}

// sourceResponse はソース情報のAPIレスポンス。
type sourceResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Domain          string `json:"domain"`
	FeedURL         string `json:"feed_url"`
	DefaultCategory string `json:"default_category,omitempty"`
	RespectRobots   bool   `json:"respect_robots"`
	DelayMs         int    `json:"delay_ms"`
	UserAgent       string `json:"user_agent,omitempty"`
	TimeoutMs       int    `json:"timeout_ms"`
	Active          bool   `json:"active"`
	CreatedAt       string `json:"created_at"`
}

// ListSources はソース一覧を取得する。
// GET /api/sources
func (h *SourceHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.repo.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]sourceResponse, 0, len(sources))
	for _, s := range sources {
		out = append(out, toSourceResponse(s))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"sources": out})
}

// GetSource はソース詳細を取得する。
// GET /api/sources/:id
func (h *SourceHandler) GetSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")

	source, err := h.repo.FindByID(r.Context(), sourceID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if source == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewSourceNotFoundError(sourceID))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSourceResponse(source))
}

// CreateSource はソースを新規作成する。
// POST /api/sources
func (h *SourceHandler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	if reason := validateSourceRequest(&req); reason != "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidSourceError(reason))
		return
	}

	now := time.Now()
	source := &model.Source{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Domain:          strings.ToLower(req.Domain),
		FeedURL:         req.FeedURL,
		DefaultCategory: req.DefaultCategory,
		RespectRobots:   true,
		DelayMs:         req.DelayMs,
		UserAgent:       req.UserAgent,
		TimeoutMs:       req.TimeoutMs,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.RespectRobots != nil {
		source.RespectRobots = *req.RespectRobots
	}
	if req.Active != nil {
		source.Active = *req.Active
	}

	if err := h.repo.Create(r.Context(), source); err != nil {
		if errors.Is(err, repository.ErrDuplicateContent) {
			writeAPIErrorResponse(w, http.StatusConflict, model.NewDuplicateDomainError(source.Domain))
			return
		}
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toSourceResponse(source))
}

// UpdateSource はソースを更新する。
// 進行中のジョブはトリガー時点のスナップショットを使うため、編集の影響を受けない。
// PUT /api/sources/:id
func (h *SourceHandler) UpdateSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")

	source, err := h.repo.FindByID(r.Context(), sourceID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if source == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewSourceNotFoundError(sourceID))
		return
	}

	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	if reason := validateSourceRequest(&req); reason != "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidSourceError(reason))
		return
	}

	source.Name = req.Name
	source.Domain = strings.ToLower(req.Domain)
	source.FeedURL = req.FeedURL
	source.DefaultCategory = req.DefaultCategory
	source.DelayMs = req.DelayMs
	source.UserAgent = req.UserAgent
	source.TimeoutMs = req.TimeoutMs
	if req.RespectRobots != nil {
		source.RespectRobots = *req.RespectRobots
	}
	if req.Active != nil {
		source.Active = *req.Active
	}
	source.UpdatedAt = time.Now()

	if err := h.repo.Update(r.Context(), source); err != nil {
		if errors.Is(err, repository.ErrDuplicateContent) {
			writeAPIErrorResponse(w, http.StatusConflict, model.NewDuplicateDomainError(source.Domain))
			return
		}
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSourceResponse(source))
}

// DeleteSource はソースを削除する。
// DELETE /api/sources/:id
func (h *SourceHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")

	source, err := h.repo.FindByID(r.Context(), sourceID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if source == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewSourceNotFoundError(sourceID))
		return
	}

	if err := h.repo.Delete(r.Context(), sourceID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- ヘルパー関数 ---

func toSourceResponse(s *model.Source) sourceResponse {
	return sourceResponse{
		ID:              s.ID,
		Name:            s.Name,
		Domain:          s.Domain,
		FeedURL:         s.FeedURL,
		DefaultCategory: s.DefaultCategory,
		RespectRobots:   s.RespectRobots,
		DelayMs:         s.DelayMs,
		UserAgent:       s.UserAgent,
		TimeoutMs:       s.TimeoutMs,
		Active:          s.Active,
		CreatedAt:       s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// validateSourceRequest は必須項目と形式を検証し、問題があれば理由を返す。
func validateSourceRequest(req *sourceRequest) string {
	if strings.TrimSpace(req.Name) == "" {
		return "nameは必須です"
	}
	if strings.TrimSpace(req.Domain) == "" {
		return "domainは必須です"
	}
	if strings.Contains(req.Domain, "/") {
		return "domainにパスを含めることはできません"
	}
	if strings.TrimSpace(req.FeedURL) == "" {
		return "feed_urlは必須です"
	}
	u, err := url.Parse(req.FeedURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "feed_urlはhttp/httpsの絶対URLである必要があります"
	}
	if req.DelayMs < 0 {
		return "delay_msは0以上である必要があります"
	}
	if req.TimeoutMs < 0 {
		return "timeout_msは0以上である必要があります"
	}
	return ""
}

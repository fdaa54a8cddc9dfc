package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/newspipe/internal/model"
	"github.com/hitoshi/newspipe/internal/repository"
	"github.com/hitoshi/newspipe/internal/worker/cleanup"
)

// ContentStore は記事ハンドラーが必要とするストア操作のインターフェース。
// repository.ContentRepositoryがそのまま満たす。
type ContentStore interface {
	FindByID(ctx context.Context, id string) (*model.ContentItem, error)
	List(ctx context.Context, filter repository.ContentFilter) ([]*model.ContentItem, error)
}

// ArchiveStore はアーカイブ参照のインターフェース。
// repository.ArchiveRepositoryがそのまま満たす。
type ArchiveStore interface {
	FindByContentID(ctx context.Context, contentID string) (*model.ArchiveRecord, error)
}

// ContentHandler は記事参照のHTTPハンドラー。
type ContentHandler struct {
	contents ContentStore
	archives ArchiveStore
}

// NewContentHandler はContentHandlerを生成する。
func NewContentHandler(contents ContentStore, archives ArchiveStore) *ContentHandler {
	return &ContentHandler{
		contents: contents,
		archives: archives,
	}
}

// contentResponse は記事情報のAPIレスポンス。
type contentResponse struct {
	ID               string   `json:"id"`
	SourceID         string   `json:"source_id"`
	SourceURL        string   `json:"source_url"`
	Title            string   `json:"title"`
	Body             string   `json:"body,omitempty"`
	BodyHTML         string   `json:"body_html,omitempty"`
	Author           string   `json:"author,omitempty"`
	PublicationDate  *string  `json:"publication_date,omitempty"`
	Language         string   `json:"language"`
	Category         string   `json:"category"`
	Tags             []string `json:"tags,omitempty"`
	ProcessingStatus string   `json:"processing_status"`
	Archived         bool     `json:"archived"`
	CreatedAt        string   `json:"created_at"`
}

// contentSummaryResponse は一覧用の記事サマリー（本文を含まない）。
type contentSummaryResponse struct {
	ID              string   `json:"id"`
	SourceID        string   `json:"source_id"`
	SourceURL       string   `json:"source_url"`
	Title           string   `json:"title"`
	Author          string   `json:"author,omitempty"`
	PublicationDate *string  `json:"publication_date,omitempty"`
	Language        string   `json:"language"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags,omitempty"`
	CreatedAt       string   `json:"created_at"`
}

// GetContent は記事詳細を取得する。
// アクティブな記事に見つからない場合はアーカイブを検索し、展開して返す。
// GET /api/contents/:id
func (h *ContentHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "id")

	item, err := h.contents.FindByID(r.Context(), contentID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if item != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toContentResponse(item))
		return
	}

	// アーカイブへのフォールバック
	rec, err := h.archives.FindByContentID(r.Context(), contentID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if rec == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewContentNotFoundError(contentID))
		return
	}

	body, err := cleanup.Decompress(rec.CompressedBody)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := contentResponse{
		ID:        rec.ContentID,
		SourceID:  rec.SourceID,
		SourceURL: rec.SourceURL,
		Title:     rec.Title,
		Body:      string(body),
		Archived:  true,
		CreatedAt: rec.ContentCreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListContents は記事一覧を取得する。
// GET /api/contents?source_id=&language=&status=&q=&limit=&offset=
func (h *ContentHandler) ListContents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := model.ProcessingStatus(q.Get("status"))
	if status != "" && !validProcessingStatus(status) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidFilterError("status: "+string(status)))
		return
	}

	limit, offset := parsePagination(r, 20, 100)

	filter := repository.ContentFilter{
		SourceID:         q.Get("source_id"),
		Language:         q.Get("language"),
		ProcessingStatus: status,
		Query:            q.Get("q"),
		Limit:            limit,
		Offset:           offset,
	}

	items, err := h.contents.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]contentSummaryResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toContentSummary(item))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"contents": out})
}

// --- ヘルパー関数 ---

func toContentResponse(item *model.ContentItem) contentResponse {
	resp := contentResponse{
		ID:               item.ID,
		SourceID:         item.SourceID,
		SourceURL:        item.SourceURL,
		Title:            item.Title,
		Body:             item.Body,
		BodyHTML:         item.BodyHTML,
		Author:           item.Author,
		Language:         item.Language,
		Category:         item.Category,
		Tags:             item.Tags,
		ProcessingStatus: string(item.ProcessingStatus),
		CreatedAt:        item.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if item.PublicationDate != nil {
		s := item.PublicationDate.Format("2006-01-02T15:04:05Z07:00")
		resp.PublicationDate = &s
	}
	return resp
}

func toContentSummary(item *model.ContentItem) contentSummaryResponse {
	resp := contentSummaryResponse{
		ID:        item.ID,
		SourceID:  item.SourceID,
		SourceURL: item.SourceURL,
		Title:     item.Title,
		Author:    item.Author,
		Language:  item.Language,
		Category:  item.Category,
		Tags:      item.Tags,
		CreatedAt: item.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if item.PublicationDate != nil {
		s := item.PublicationDate.Format("2006-01-02T15:04:05Z07:00")
		resp.PublicationDate = &s
	}
	return resp
}

// validProcessingStatus はAPIで受け付ける処理状態かを返す。
func validProcessingStatus(s model.ProcessingStatus) bool {
	switch s {
	case model.ProcessingStatusPending, model.ProcessingStatusProcessing,
		model.ProcessingStatusCompleted, model.ProcessingStatusFailed:
		return true
	}
	return false
}

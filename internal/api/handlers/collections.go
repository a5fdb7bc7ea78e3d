// collections.go — читающие обработчики сборников.
// GET /api/v1/collections — список доступных сборников
// GET /api/v1/collections/{id}/access — точечная проверка доступа (deep link)
// GET /api/v1/collections/{id}/songs — состав песен сборника
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/songbook/collection-module/internal/api/errors"
	"github.com/bigkaa/songbook/collection-module/internal/api/middleware"
	"github.com/bigkaa/songbook/collection-module/internal/domain/access"
	"github.com/bigkaa/songbook/collection-module/internal/domain/model"
	"github.com/bigkaa/songbook/collection-module/internal/service"
)

// CollectionsHandler — обработчик читающих endpoints сборников.
type CollectionsHandler struct {
	resolver *service.Resolver
	logger   *slog.Logger
}

// NewCollectionsHandler создаёт обработчик сборников.
func NewCollectionsHandler(resolver *service.Resolver, logger *slog.Logger) *CollectionsHandler {
	return &CollectionsHandler{
		resolver: resolver,
		logger:   logger.With(slog.String("component", "collections_handler")),
	}
}

// collectionItem — сборник в ответе API.
type collectionItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	AccessLevel string  `json:"access_level"`
	Category    string  `json:"category,omitempty"`
	SongCount   int     `json:"song_count"`
	SortOrder   int     `json:"sort_order"`
	Decision    string  `json:"decision"`
}

// listResponse — ответ списка сборников.
type listResponse struct {
	Collections []collectionItem `json:"collections"`
	Degraded    bool             `json:"degraded"`
	Source      string           `json:"source"`
	FetchedAt   *string          `json:"fetched_at,omitempty"`
}

// accessResponse — ответ точечной проверки доступа.
type accessResponse struct {
	Collection collectionItem `json:"collection"`
	Decision   string         `json:"decision"`
}

// songItem — песня в ответе API.
type songItem struct {
	Number   string `json:"number"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// songsResponse — ответ состава песен.
type songsResponse struct {
	CollectionID string     `json:"collection_id"`
	Songs        []songItem `json:"songs"`
	Total        int        `json:"total"`
}

// toItem конвертирует резолвленный сборник в DTO ответа.
func toItem(rc service.ResolvedCollection) collectionItem {
	return collectionItem{
		ID:          rc.Collection.ID,
		Name:        rc.Collection.Name,
		Description: rc.Collection.Description,
		AccessLevel: rc.Collection.AccessLevel.String(),
		Category:    rc.Collection.Category,
		SongCount:   rc.Collection.SongCount,
		SortOrder:   rc.Collection.SortOrder,
		Decision:    rc.Decision.String(),
	}
}

// List — GET /api/v1/collections.
// Возвращает сборники, доступные текущему пользователю, с решением
// per сборник. Флаг degraded сигнализирует устаревшие или fallback-данные.
func (h *CollectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	caps := middleware.CapsFromContext(r.Context())

	result, err := h.resolver.GetAccessibleCollections(r.Context(), caps)
	if err != nil {
		h.logger.Error("Ошибка резолва сборников", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка получения списка сборников")
		return
	}

	resp := listResponse{
		Collections: make([]collectionItem, 0, len(result.Collections)),
		Degraded:    result.Degraded,
		Source:      result.Source,
	}
	for _, rc := range result.Collections {
		resp.Collections = append(resp.Collections, toItem(rc))
	}
	if !result.FetchedAt.IsZero() {
		ts := result.FetchedAt.UTC().Format(time.RFC3339)
		resp.FetchedAt = &ts
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetAccess — GET /api/v1/collections/{id}/access.
// Точечная проверка доступа для deep link. Denied маппится в 404:
// сборник, к которому нет даже preview-доступа, неотличим от
// несуществующего.
func (h *CollectionsHandler) GetAccess(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "id")
	caps := middleware.CapsFromContext(r.Context())

	result, err := h.resolver.GetAccessForCollection(r.Context(), collectionID, caps)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Сборник не найден")
			return
		}
		h.logger.Error("Ошибка проверки доступа",
			slog.String("collection_id", collectionID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка проверки доступа")
		return
	}

	if result.Decision == access.Denied {
		apierrors.NotFound(w, "Сборник не найден")
		return
	}

	writeJSON(w, http.StatusOK, accessResponse{
		Collection: toItem(service.ResolvedCollection{
			Collection: result.Collection,
			Decision:   result.Decision,
		}),
		Decision: result.Decision.String(),
	})
}

// GetSongs — GET /api/v1/collections/{id}/songs.
// Состав песен доступен только при полном доступе (granted).
// PreviewOnly — 403, Denied и неизвестный id — 404.
func (h *CollectionsHandler) GetSongs(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "id")
	caps := middleware.CapsFromContext(r.Context())

	songs, err := h.resolver.GetSongs(r.Context(), collectionID, caps)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			apierrors.NotFound(w, "Сборник не найден")
		case errors.Is(err, service.ErrAccessDenied):
			apierrors.Forbidden(w, "Состав сборника доступен только при полном доступе")
		case errors.Is(err, service.ErrBackendUnavailable):
			apierrors.BackendUnavailable(w, "Источник данных временно недоступен")
		default:
			h.logger.Error("Ошибка получения состава песен",
				slog.String("collection_id", collectionID),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Ошибка получения состава песен")
		}
		return
	}

	resp := songsResponse{
		CollectionID: collectionID,
		Songs:        make([]songItem, 0, len(songs)),
		Total:        len(songs),
	}
	for _, s := range songs {
		resp.Songs = append(resp.Songs, songItem{
			Number:   s.Number,
			Title:    s.Title,
			Position: s.Position,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// capsSignature — сигнатура текущего пользователя (для events handler).
func capsSignature(r *http.Request) model.Signature {
	return model.SignatureOf(middleware.CapsFromContext(r.Context()))
}

// admin.go — административные обработчики реестра сборников.
// Все endpoints требуют admin-возможности (middleware.RequireAdmin).
// POST   /api/v1/collections               — создать сборник (id опционален)
// PUT    /api/v1/collections/{id}          — создать/обновить сборник
// DELETE /api/v1/collections/{id}          — мягкое удаление (is_active=false)
// PUT    /api/v1/collections/{id}/active   — включить/выключить сборник
// PUT    /api/v1/collections/{id}/songs/{number} — добавить песню
// DELETE /api/v1/collections/{id}/songs/{number} — удалить песню
// POST   /api/v1/cache/invalidate          — сбросить кэш резолва
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/songbook/collection-module/internal/api/errors"
	"github.com/bigkaa/songbook/collection-module/internal/domain/model"
	"github.com/bigkaa/songbook/collection-module/internal/service"
)

// AdminHandler — обработчик административных endpoints.
type AdminHandler struct {
	admin    *service.AdminService
	resolver *service.Resolver
	logger   *slog.Logger
}

// NewAdminHandler создаёт обработчик административных endpoints.
func NewAdminHandler(
	admin *service.AdminService,
	resolver *service.Resolver,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		admin:    admin,
		resolver: resolver,
		logger:   logger.With(slog.String("component", "admin_handler")),
	}
}

// upsertCollectionRequest — тело запроса создания/обновления сборника.
// ID используется только в POST; в PUT идентификатор берётся из пути.
type upsertCollectionRequest struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	AccessLevel string  `json:"access_level"`
	Category    string  `json:"category,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
	SortOrder   int     `json:"sort_order"`
}

// setActiveRequest — тело запроса изменения активности.
type setActiveRequest struct {
	Active bool `json:"active"`
}

// addSongRequest — тело запроса добавления песни.
type addSongRequest struct {
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// collectionFromRequest собирает доменный сборник из тела запроса.
func (h *AdminHandler) collectionFromRequest(id string, req upsertCollectionRequest) model.Collection {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	return model.Collection{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		AccessLevel: model.ParseAccessLevel(req.AccessLevel, h.logger),
		Category:    req.Category,
		IsActive:    active,
		SortOrder:   req.SortOrder,
	}
}

// CreateCollection — POST /api/v1/collections.
// Если id в теле не задан, генерируется uuid.
func (h *AdminHandler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req upsertCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	collectionID := strings.TrimSpace(req.ID)
	if collectionID == "" {
		collectionID = uuid.NewString()
	}

	if err := h.admin.UpsertCollection(r.Context(), h.collectionFromRequest(collectionID, req)); err != nil {
		h.writeAdminError(w, err, "Ошибка создания сборника")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": collectionID, "status": "created"})
}

// UpsertCollection — PUT /api/v1/collections/{id}.
// Идентификатор берётся из пути; id в теле игнорируется.
func (h *AdminHandler) UpsertCollection(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "id")

	var req upsertCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	if err := h.admin.UpsertCollection(r.Context(), h.collectionFromRequest(collectionID, req)); err != nil {
		h.writeAdminError(w, err, "Ошибка сохранения сборника")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": collectionID, "status": "saved"})
}

// DeleteCollection — DELETE /api/v1/collections/{id}.
// Мягкое удаление: сборник деактивируется и перестаёт резолвиться всем,
// запись и состав песен сохраняются.
func (h *AdminHandler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "id")

	if err := h.admin.SetCollectionActive(r.Context(), collectionID, false); err != nil {
		h.writeAdminError(w, err, "Ошибка удаления сборника")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": collectionID, "status": "deactivated"})
}

// SetActive — PUT /api/v1/collections/{id}/active.
// Деактивация — мягкое удаление сборника.
func (h *AdminHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "id")

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	if err := h.admin.SetCollectionActive(r.Context(), collectionID, req.Active); err != nil {
		h.writeAdminError(w, err, "Ошибка изменения активности сборника")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": collectionID, "active": req.Active})
}

// AddSong — PUT /api/v1/collections/{id}/songs/{number}.
// Идемпотентно: повторный вызов обновляет title и position.
func (h *AdminHandler) AddSong(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "id")
	number := chi.URLParam(r, "number")

	var req addSongRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	song := model.SongRef{
		CollectionID: collectionID,
		Number:       number,
		Title:        req.Title,
		Position:     req.Position,
	}

	if err := h.admin.AddSong(r.Context(), song); err != nil {
		h.writeAdminError(w, err, "Ошибка добавления песни")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"collection_id": collectionID,
		"number":        number,
		"status":        "added",
	})
}

// RemoveSong — DELETE /api/v1/collections/{id}/songs/{number}.
func (h *AdminHandler) RemoveSong(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "id")
	number := chi.URLParam(r, "number")

	if err := h.admin.RemoveSong(r.Context(), collectionID, number); err != nil {
		h.writeAdminError(w, err, "Ошибка удаления песни")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"collection_id": collectionID,
		"number":        number,
		"status":        "removed",
	})
}

// InvalidateCache — POST /api/v1/cache/invalidate.
// Явный сброс кэша резолва, минуя TTL. Доступен и в remote-режиме:
// инвалидация не мутирует авторитетные данные.
func (h *AdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.resolver.InvalidateAndRefresh(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// writeAdminError маппит ошибки сервисного слоя в HTTP-ответы.
func (h *AdminHandler) writeAdminError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Сборник не найден")
	case errors.Is(err, service.ErrReadOnlyStore):
		apierrors.Conflict(w, "Реестр в режиме read-only: мутации выполняются на backend")
	default:
		h.logger.Error(logMsg, slog.String("error", err.Error()))
		apierrors.InternalError(w, logMsg)
	}
}

// handler.go — основной обработчик API Collection Module.
// Объединяет health, коллекционные, событийные и административные
// обработчики; маршруты монтируются в internal/server.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// APIHandler — основной обработчик API Collection Module.
type APIHandler struct {
	Health      *HealthHandler
	Collections *CollectionsHandler
	Events      *EventsHandler
	Admin       *AdminHandler
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	collections *CollectionsHandler,
	events *EventsHandler,
	admin *AdminHandler,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		Health:      health,
		Collections: collections,
		Events:      events,
		Admin:       admin,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

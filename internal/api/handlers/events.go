// events.go — SSE endpoint real-time обновлений списков сборников.
// GET /api/v1/events/collections — поток снимков для сигнатуры текущего
// пользователя. Первый снимок приходит сразу при подключении (текущее
// состояние), далее — при каждом изменении (TTL-резолв, инвалидация).
// Каждый SSE-клиент обслуживается в своей горутине запроса.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/songbook/collection-module/internal/api/middleware"
	"github.com/bigkaa/songbook/collection-module/internal/service"
)

// EventsHandler — обработчик SSE endpoint.
type EventsHandler struct {
	resolver *service.Resolver
	notifier *service.ChangeNotifier
	logger   *slog.Logger
}

// NewEventsHandler создаёт обработчик SSE.
func NewEventsHandler(
	resolver *service.Resolver,
	notifier *service.ChangeNotifier,
	logger *slog.Logger,
) *EventsHandler {
	return &EventsHandler{
		resolver: resolver,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "events_handler")),
	}
}

// collectionsEvent — SSE-событие со снимком списка сборников.
type collectionsEvent struct {
	Collections []collectionItem `json:"collections"`
}

// HandleCollections обрабатывает GET /api/v1/events/collections — SSE endpoint.
// Формат: event: collections\ndata: {json}\n\n
// Graceful disconnect при закрытии клиентом соединения (context cancel).
func (h *EventsHandler) HandleCollections(w http.ResponseWriter, r *http.Request) {
	sig := capsSignature(r)
	caps := middleware.CapsFromContext(r.Context())

	// Настраиваем заголовки SSE
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Отключаем буферизацию Nginx

	// Используем http.ResponseController для корректной работы Flush()
	// через обёрнутый ResponseWriter (logging middleware и др.).
	// ResponseController вызывает Unwrap() и находит оригинальный http.Flusher.
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		http.Error(w, "SSE не поддерживается", http.StatusInternalServerError)
		return
	}
	// Долгоживущее соединение: снимаем WriteTimeout сервера
	_ = rc.SetWriteDeadline(time.Time{})

	subscriberID := uuid.NewString()
	ch := h.notifier.Subscribe(sig, subscriberID)
	defer h.notifier.Unsubscribe(sig, subscriberID)

	h.logger.Debug("SSE клиент подключён",
		slog.String("signature", sig.String()),
		slog.String("subscriber_id", subscriberID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	// Если notifier ещё не видел эту сигнатуру, прогреваем резолв:
	// подписчик получит первый снимок через Publish либо через
	// холодный снимок notifier.
	if _, ok := h.resolver.CachedSnapshot(sig); !ok {
		h.resolver.RefreshInBackground(caps)
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			// Клиент отключился
			h.logger.Debug("SSE клиент отключён",
				slog.String("subscriber_id", subscriberID),
			)
			return
		case snapshot, ok := <-ch:
			if !ok {
				return
			}
			h.sendSnapshot(w, rc, snapshot)
		}
	}
}

// sendSnapshot отправляет SSE-событие со снимком списка сборников.
func (h *EventsHandler) sendSnapshot(w http.ResponseWriter, rc *http.ResponseController, snapshot []service.ResolvedCollection) {
	event := collectionsEvent{
		Collections: make([]collectionItem, 0, len(snapshot)),
	}
	for _, rcoll := range snapshot {
		event.Collections = append(event.Collections, toItem(rcoll))
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Ошибка сериализации снимка", slog.String("error", err.Error()))
		return
	}

	// Формат SSE: event: collections\ndata: {json}\n\n
	fmt.Fprintf(w, "event: collections\ndata: %s\n\n", data)
	_ = rc.Flush()
}

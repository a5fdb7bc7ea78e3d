// metrics.go — Prometheus HTTP метрики Collection Module.
// Регистрирует метрики: cm_http_requests_total, cm_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики Collection Module
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cm_http_requests_total",
			Help: "Общее количество HTTP-запросов к Collection Module",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Collection Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем id сборника на {id} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет id сборника в пути на {id} для предотвращения
// взрывного роста кардинальности метрик.
// /api/v1/collections/LPMI → /api/v1/collections/{id}
// /api/v1/collections/LPMI/songs → /api/v1/collections/{id}/songs
func normalizePath(path string) string {
	// Статические пути — возвращаем как есть
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/collections", "/api/v1/events/collections",
		"/api/v1/cache/invalidate":
		return path
	}

	// Динамические пути с id сборника
	const collectionsPrefix = "/api/v1/collections/"
	if strings.HasPrefix(path, collectionsPrefix) {
		rest := path[len(collectionsPrefix):]
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			switch rest[idx:] {
			case "/songs":
				return "/api/v1/collections/{id}/songs"
			case "/access":
				return "/api/v1/collections/{id}/access"
			case "/active":
				return "/api/v1/collections/{id}/active"
			default:
				// /api/v1/collections/{id}/songs/{number}
				if strings.HasPrefix(rest[idx:], "/songs/") {
					return "/api/v1/collections/{id}/songs/{number}"
				}
			}
		}
		return "/api/v1/collections/{id}"
	}

	return path
}

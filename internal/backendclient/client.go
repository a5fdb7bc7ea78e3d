// Пакет backendclient — HTTP-клиент удалённого songbook backend.
// Backend абстрагирован request/response каналом с ограниченным таймаутом;
// любая причина отказа (сеть, таймаут, авторизация, битый payload)
// схлопывается в одну ошибку ErrUnavailable — различать их вызывающему
// не нужно и незачем.
package backendclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Ошибки backend-клиента.
var (
	// ErrUnavailable — backend недоступен (сеть, таймаут, auth, payload).
	ErrUnavailable = errors.New("songbook backend недоступен")
	// ErrNotFound — запрошенный сборник не существует на backend.
	ErrNotFound = errors.New("сборник не найден на backend")
)

// collectionPayload — сырой ответ backend по одному сборнику.
// Динамические поля типизируются на этой границе; дальше внутрь
// нетипизированные map'ы не проходят.
type collectionPayload struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	AccessLevel string  `json:"access_level"`
	Category    string  `json:"category"`
	SongCount   int     `json:"song_count"`
	IsActive    bool    `json:"is_active"`
	SortOrder   int     `json:"sort_order"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// songPayload — сырой ответ backend по одной песне сборника.
type songPayload struct {
	Number   string `json:"number"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// Client — HTTP-клиент songbook backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

// New создаёт backend-клиент.
// baseURL — базовый URL backend (например, http://songbook-backend:8040).
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// timeout — таймаут HTTP-запросов (из конфигурации CM_BACKEND_TIMEOUT, по умолчанию 8s).
// token — статический сервисный Bearer token (пустая строка — без авторизации).
func New(
	baseURL string,
	caCertPath string,
	timeout time.Duration,
	token string,
	logger *slog.Logger,
) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата backend: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат backend добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		logger:     logger.With(slog.String("component", "backend_client")),
	}, nil
}

// FetchAllCollections запрашивает полный список сборников.
// GET /api/v1/collections
func (c *Client) FetchAllCollections(ctx context.Context) ([]CollectionRecord, error) {
	reqURL := c.baseURL + "/api/v1/collections"

	var payload struct {
		Collections []collectionPayload `json:"collections"`
	}
	if err := c.getJSON(ctx, reqURL, &payload); err != nil {
		return nil, err
	}

	records := make([]CollectionRecord, 0, len(payload.Collections))
	for _, p := range payload.Collections {
		rec, err := c.toRecord(p)
		if err != nil {
			// Битая запись — логируем и пропускаем, не валим весь список
			c.logger.Warn("Некорректная запись сборника от backend, пропущена",
				slog.String("id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// FetchSongs запрашивает состав песен сборника.
// GET /api/v1/collections/{id}/songs
// 404 от backend — ErrNotFound, остальные отказы — ErrUnavailable.
func (c *Client) FetchSongs(ctx context.Context, collectionID string) ([]SongRecord, error) {
	reqURL := fmt.Sprintf("%s/api/v1/collections/%s/songs", c.baseURL, collectionID)

	var payload struct {
		Songs []songPayload `json:"songs"`
	}
	if err := c.getJSON(ctx, reqURL, &payload); err != nil {
		return nil, err
	}

	songs := make([]SongRecord, 0, len(payload.Songs))
	for _, p := range payload.Songs {
		if p.Number == "" {
			c.logger.Warn("Песня без номера от backend, пропущена",
				slog.String("collection_id", collectionID),
			)
			continue
		}
		songs = append(songs, SongRecord{
			CollectionID: collectionID,
			Number:       p.Number,
			Title:        p.Title,
			Position:     p.Position,
		})
	}

	return songs, nil
}

// getJSON выполняет GET-запрос и декодирует JSON-ответ.
func (c *Client) getJSON(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: создание запроса: %v", ErrUnavailable, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: backend вернул статус %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: декодирование ответа: %v", ErrUnavailable, err)
	}

	return nil
}

// CollectionRecord — типизированная запись сборника с границы backend.
// Дубликат доменной модели намеренно отсутствует: конвертацию в
// model.Collection выполняет адаптер store в service (см. service/store.go),
// здесь — только валидация и нормализация полей.
type CollectionRecord struct {
	ID          string
	Name        string
	Description *string
	AccessLevel string
	Category    string
	SongCount   int
	IsActive    bool
	SortOrder   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SongRecord — типизированная запись песни с границы backend.
type SongRecord struct {
	CollectionID string
	Number       string
	Title        string
	Position     int
}

// toRecord валидирует и нормализует сырую запись backend.
// Запись без id отбрасывается; битые timestamp'ы заменяются нулевым временем.
func (c *Client) toRecord(p collectionPayload) (CollectionRecord, error) {
	if p.ID == "" {
		return CollectionRecord{}, errors.New("отсутствует id")
	}

	rec := CollectionRecord{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		AccessLevel: p.AccessLevel,
		Category:    p.Category,
		SongCount:   p.SongCount,
		IsActive:    p.IsActive,
		SortOrder:   p.SortOrder,
	}

	rec.CreatedAt = parseTime(p.CreatedAt)
	rec.UpdatedAt = parseTime(p.UpdatedAt)

	return rec, nil
}

// parseTime разбирает RFC3339 timestamp backend; при ошибке — нулевое время.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ReadinessChecker — проверка доступности songbook backend для /health/ready.
type ReadinessChecker struct {
	client *Client
}

// NewReadinessChecker создаёт checker доступности backend.
// Переиспользует HTTP-клиент (и его TLS-конфигурацию) основного клиента.
func (c *Client) NewReadinessChecker() *ReadinessChecker {
	return &ReadinessChecker{client: c}
}

// CheckReady опрашивает readiness endpoint backend.
func (r *ReadinessChecker) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.client.baseURL+"/health/ready", http.NoBody)
	if err != nil {
		return "fail", "ошибка создания запроса: " + err.Error()
	}
	resp, err := r.client.httpClient.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("songbook backend недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("songbook backend вернул статус %d", resp.StatusCode)
	}
	return "ok", "backend доступен"
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

// store.go — порт CollectionStore и его адаптеры.
// Store — тонкий доступ к авторитетным данным о сборниках; никакой
// retry-логики здесь нет, fallback-поведение — ответственность resolver.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/songbook/collection-module/internal/backendclient"
	"github.com/bigkaa/songbook/collection-module/internal/domain/model"
	"github.com/bigkaa/songbook/collection-module/internal/repository"
)

// Ошибки сервисного слоя.
var (
	// ErrNotFound — сборник не найден.
	ErrNotFound = errors.New("сборник не найден")
	// ErrBackendUnavailable — источник данных недоступен (сеть, таймаут, БД).
	ErrBackendUnavailable = errors.New("источник данных недоступен")
	// ErrAccessDenied — доступ к содержимому сборника не предоставлен.
	ErrAccessDenied = errors.New("доступ к сборнику запрещён")
	// ErrReadOnlyStore — store не поддерживает мутации (remote backend).
	ErrReadOnlyStore = errors.New("store доступен только для чтения")
)

// CollectionStore — порт доступа к авторитетным данным о сборниках.
// Реализации: локальный PostgreSQL-реестр и удалённый songbook backend.
type CollectionStore interface {
	// FetchAllCollections возвращает все сборники (включая неактивные).
	// Единственная ошибка отказа — ErrBackendUnavailable.
	FetchAllCollections(ctx context.Context) ([]model.Collection, error)
	// FetchSongs возвращает состав песен сборника.
	// ErrNotFound — неизвестный id, ErrBackendUnavailable — отказ транспорта.
	FetchSongs(ctx context.Context, collectionID string) ([]model.SongRef, error)
}

// --- PostgreSQL-адаптер ---

// repositoryStore — CollectionStore поверх локального реестра PostgreSQL.
type repositoryStore struct {
	repo repository.CollectionRepository
}

// NewRepositoryStore создаёт store поверх репозитория сборников.
func NewRepositoryStore(repo repository.CollectionRepository) CollectionStore {
	return &repositoryStore{repo: repo}
}

// FetchAllCollections возвращает все сборники из реестра.
// Любой отказ БД схлопывается в ErrBackendUnavailable — для resolver
// недоступный PostgreSQL неотличим от недоступного remote backend.
func (s *repositoryStore) FetchAllCollections(ctx context.Context) ([]model.Collection, error) {
	collections, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return collections, nil
}

// FetchSongs возвращает состав песен сборника из реестра.
func (s *repositoryStore) FetchSongs(ctx context.Context, collectionID string) ([]model.SongRef, error) {
	songs, err := s.repo.ListSongs(ctx, collectionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return songs, nil
}

// --- Remote-адаптер ---

// remoteStore — CollectionStore поверх HTTP-клиента songbook backend.
// Конвертация типизированных записей границы в доменную модель
// (включая тотальный парсинг access_level) происходит здесь.
type remoteStore struct {
	client *backendclient.Client
	logger *slog.Logger
}

// NewRemoteStore создаёт store поверх backend-клиента.
func NewRemoteStore(client *backendclient.Client, logger *slog.Logger) CollectionStore {
	return &remoteStore{
		client: client,
		logger: logger.With(slog.String("component", "remote_store")),
	}
}

// FetchAllCollections запрашивает сборники у backend и типизирует их.
func (s *remoteStore) FetchAllCollections(ctx context.Context) ([]model.Collection, error) {
	records, err := s.client.FetchAllCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	collections := make([]model.Collection, 0, len(records))
	for _, rec := range records {
		collections = append(collections, model.Collection{
			ID:          rec.ID,
			Name:        rec.Name,
			Description: rec.Description,
			AccessLevel: model.ParseAccessLevel(rec.AccessLevel, s.logger),
			Category:    rec.Category,
			SongCount:   rec.SongCount,
			IsActive:    rec.IsActive,
			SortOrder:   rec.SortOrder,
			CreatedAt:   rec.CreatedAt,
			UpdatedAt:   rec.UpdatedAt,
		})
	}

	return collections, nil
}

// FetchSongs запрашивает состав песен у backend.
func (s *remoteStore) FetchSongs(ctx context.Context, collectionID string) ([]model.SongRef, error) {
	records, err := s.client.FetchSongs(ctx, collectionID)
	if err != nil {
		if errors.Is(err, backendclient.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	songs := make([]model.SongRef, 0, len(records))
	for _, rec := range records {
		songs = append(songs, model.SongRef{
			CollectionID: rec.CollectionID,
			Number:       rec.Number,
			Title:        rec.Title,
			Position:     rec.Position,
		})
	}

	return songs, nil
}

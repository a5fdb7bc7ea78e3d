// admin.go — административные мутации реестра сборников.
// Каждая успешная мутация инвалидирует кэш резолва и немедленно
// пере-резолвит сигнатуры с активными подписчиками.
// В режиме удалённого store мутации недоступны (ErrReadOnlyStore):
// авторитетные данные принадлежат backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/songbook/collection-module/internal/domain/model"
	"github.com/bigkaa/songbook/collection-module/internal/repository"
)

// AdminService — мутации реестра сборников.
type AdminService struct {
	repo     repository.CollectionRepository // nil в режиме удалённого store
	resolver *Resolver
	logger   *slog.Logger
}

// NewAdminService создаёт сервис административных мутаций.
// repo может быть nil — тогда все мутации возвращают ErrReadOnlyStore.
func NewAdminService(
	repo repository.CollectionRepository,
	resolver *Resolver,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		repo:     repo,
		resolver: resolver,
		logger:   logger.With(slog.String("component", "admin_service")),
	}
}

// UpsertCollection создаёт или обновляет сборник.
func (s *AdminService) UpsertCollection(ctx context.Context, c model.Collection) error {
	if s.repo == nil {
		return ErrReadOnlyStore
	}
	if err := validateCollection(c); err != nil {
		return err
	}

	if err := s.repo.Upsert(ctx, &c); err != nil {
		return fmt.Errorf("сохранение сборника %s: %w", c.ID, err)
	}

	s.logger.Info("Сборник сохранён",
		slog.String("collection_id", c.ID),
		slog.String("access_level", c.AccessLevel.String()),
	)
	s.resolver.InvalidateAndRefresh(ctx)
	return nil
}

// SetCollectionActive включает или выключает сборник.
// Деактивация — мягкое удаление: сборник перестаёт резолвиться всем.
func (s *AdminService) SetCollectionActive(ctx context.Context, collectionID string, active bool) error {
	if s.repo == nil {
		return ErrReadOnlyStore
	}

	if err := s.repo.SetActive(ctx, collectionID, active); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("изменение активности сборника %s: %w", collectionID, err)
	}

	s.logger.Info("Активность сборника изменена",
		slog.String("collection_id", collectionID),
		slog.Bool("active", active),
	)
	s.resolver.InvalidateAndRefresh(ctx)
	return nil
}

// AddSong добавляет песню в сборник. Идемпотентно: повторное добавление
// того же номера обновляет title и position.
func (s *AdminService) AddSong(ctx context.Context, song model.SongRef) error {
	if s.repo == nil {
		return ErrReadOnlyStore
	}
	if song.Number == "" {
		return fmt.Errorf("%w: пустой номер песни", ErrValidation)
	}

	if err := s.repo.AddSong(ctx, &song); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("добавление песни %s в сборник %s: %w", song.Number, song.CollectionID, err)
	}

	s.logger.Info("Песня добавлена в сборник",
		slog.String("collection_id", song.CollectionID),
		slog.String("number", song.Number),
	)
	s.resolver.InvalidateAndRefresh(ctx)
	return nil
}

// RemoveSong удаляет песню из сборника.
func (s *AdminService) RemoveSong(ctx context.Context, collectionID, number string) error {
	if s.repo == nil {
		return ErrReadOnlyStore
	}

	if err := s.repo.RemoveSong(ctx, collectionID, number); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("удаление песни %s из сборника %s: %w", number, collectionID, err)
	}

	s.logger.Info("Песня удалена из сборника",
		slog.String("collection_id", collectionID),
		slog.String("number", number),
	)
	s.resolver.InvalidateAndRefresh(ctx)
	return nil
}

// ErrValidation — некорректные входные данные мутации.
var ErrValidation = errors.New("некорректные данные")

// validateCollection проверяет обязательные поля сборника.
func validateCollection(c model.Collection) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: пустой id сборника", ErrValidation)
	}
	if strings.ContainsAny(c.ID, " /") {
		return fmt.Errorf("%w: id сборника содержит недопустимые символы", ErrValidation)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: пустое имя сборника", ErrValidation)
	}
	if !c.AccessLevel.IsValid() {
		return fmt.Errorf("%w: неизвестный уровень доступа", ErrValidation)
	}
	return nil
}

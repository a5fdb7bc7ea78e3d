package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/songbook/collection-module/internal/domain/model"
)

// collectionColumns — список столбцов таблицы collection_registry для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const collectionColumns = `id, name, description, access_level, category,
	song_count, is_active, sort_order, created_at, updated_at`

// CollectionRepository — интерфейс доступа к реестру сборников.
type CollectionRepository interface {
	// List возвращает все сборники (включая неактивные) в порядке
	// sort_order, id. Фильтрация по доступу и активности — задача resolver.
	List(ctx context.Context) ([]model.Collection, error)
	// GetByID возвращает сборник по идентификатору.
	GetByID(ctx context.Context, id string) (*model.Collection, error)
	// ListSongs возвращает состав песен сборника в порядке position, number.
	// ErrNotFound — если сборник не существует.
	ListSongs(ctx context.Context, collectionID string) ([]model.SongRef, error)
	// Upsert создаёт или обновляет сборник; updated_at продвигается всегда.
	Upsert(ctx context.Context, c *model.Collection) error
	// SetActive обновляет флаг soft delete.
	SetActive(ctx context.Context, id string, active bool) error
	// AddSong добавляет песню в сборник и актуализирует song_count.
	AddSong(ctx context.Context, s *model.SongRef) error
	// RemoveSong удаляет песню из сборника и актуализирует song_count.
	RemoveSong(ctx context.Context, collectionID, number string) error
}

// collectionRepo — реализация CollectionRepository через pgx.
type collectionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewCollectionRepository создаёт репозиторий сборников.
func NewCollectionRepository(db DBTX, logger *slog.Logger) CollectionRepository {
	return &collectionRepo{
		db:     db,
		logger: logger.With(slog.String("component", "collection_repo")),
	}
}

// List возвращает все сборники в стабильном порядке отображения.
func (r *collectionRepo) List(ctx context.Context) ([]model.Collection, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM collection_registry ORDER BY sort_order, id`,
		collectionColumns,
	)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса сборников: %w", err)
	}
	defer rows.Close()

	var result []model.Collection
	for rows.Next() {
		c, err := r.scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования сборника: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	return result, nil
}

// GetByID возвращает сборник по идентификатору или ErrNotFound.
func (r *collectionRepo) GetByID(ctx context.Context, id string) (*model.Collection, error) {
	query := fmt.Sprintf(`SELECT %s FROM collection_registry WHERE id = $1`, collectionColumns)

	c, err := r.scanCollection(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сборника: %w", err)
	}
	return &c, nil
}

// ListSongs возвращает состав песен сборника.
// Сборник без песен — валидный случай (пустой срез), но несуществующий
// сборник — ErrNotFound.
func (r *collectionRepo) ListSongs(ctx context.Context, collectionID string) ([]model.SongRef, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM collection_registry WHERE id = $1)`,
		collectionID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки сборника: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := r.db.Query(ctx, `
		SELECT collection_id, song_number, title, position
		FROM collection_songs
		WHERE collection_id = $1
		ORDER BY position, song_number`,
		collectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса песен: %w", err)
	}
	defer rows.Close()

	var songs []model.SongRef
	for rows.Next() {
		var s model.SongRef
		if err := rows.Scan(&s.CollectionID, &s.Number, &s.Title, &s.Position); err != nil {
			return nil, fmt.Errorf("ошибка сканирования песни: %w", err)
		}
		songs = append(songs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	return songs, nil
}

// Upsert создаёт или обновляет сборник.
// updated_at продвигается при каждом вызове — сигнал свежести для кэша.
func (r *collectionRepo) Upsert(ctx context.Context, c *model.Collection) error {
	query := `
		INSERT INTO collection_registry
			(id, name, description, access_level, category, song_count,
			 is_active, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			access_level = EXCLUDED.access_level,
			category = EXCLUDED.category,
			is_active = EXCLUDED.is_active,
			sort_order = EXCLUDED.sort_order,
			updated_at = now()`

	_, err := r.db.Exec(ctx, query,
		c.ID, c.Name, c.Description, c.AccessLevel.String(), c.Category,
		c.SongCount, c.IsActive, c.SortOrder,
	)
	if err != nil {
		return fmt.Errorf("ошибка upsert сборника: %w", err)
	}
	return nil
}

// SetActive обновляет флаг soft delete сборника.
func (r *collectionRepo) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE collection_registry
		SET is_active = $2, updated_at = now()
		WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления is_active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddSong добавляет песню в сборник и актуализирует song_count.
// Повторное добавление того же номера — идемпотентно (обновляется title).
func (r *collectionRepo) AddSong(ctx context.Context, s *model.SongRef) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO collection_songs (collection_id, song_number, title, position)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection_id, song_number) DO UPDATE SET
			title = EXCLUDED.title,
			position = EXCLUDED.position`,
		s.CollectionID, s.Number, s.Title, s.Position,
	)
	if err != nil {
		return fmt.Errorf("ошибка добавления песни: %w", err)
	}
	_ = tag

	return r.syncSongCount(ctx, s.CollectionID)
}

// RemoveSong удаляет песню из сборника и актуализирует song_count.
func (r *collectionRepo) RemoveSong(ctx context.Context, collectionID, number string) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM collection_songs
		WHERE collection_id = $1 AND song_number = $2`,
		collectionID, number,
	)
	if err != nil {
		return fmt.Errorf("ошибка удаления песни: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return r.syncSongCount(ctx, collectionID)
}

// syncSongCount пересчитывает song_count из фактического состава.
// Состав — ground truth; денормализованный счётчик только следует за ним.
func (r *collectionRepo) syncSongCount(ctx context.Context, collectionID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE collection_registry
		SET song_count = (
			SELECT COUNT(*) FROM collection_songs WHERE collection_id = $1
		), updated_at = now()
		WHERE id = $1`,
		collectionID,
	)
	if err != nil {
		return fmt.Errorf("ошибка пересчёта song_count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanCollection сканирует одну строку collection_registry.
// access_level хранится текстом; парсинг тотальный (неизвестное → public).
func (r *collectionRepo) scanCollection(row pgx.Row) (model.Collection, error) {
	var c model.Collection
	var level string
	err := row.Scan(
		&c.ID, &c.Name, &c.Description, &level, &c.Category,
		&c.SongCount, &c.IsActive, &c.SortOrder, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return model.Collection{}, err
	}
	c.AccessLevel = model.ParseAccessLevel(level, r.logger)
	return c, nil
}

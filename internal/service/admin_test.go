package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/bigkaa/songbook/collection-module/internal/domain/model"
	"github.com/bigkaa/songbook/collection-module/internal/repository"
)

// --- Mock repository ---

// mockRepo — мок CollectionRepository для unit-тестов мутаций.
type mockRepo struct {
	upsertFn     func(ctx context.Context, c *model.Collection) error
	setActiveFn  func(ctx context.Context, id string, active bool) error
	addSongFn    func(ctx context.Context, s *model.SongRef) error
	removeSongFn func(ctx context.Context, collectionID, number string) error
}

func (m *mockRepo) List(_ context.Context) ([]model.Collection, error) { return nil, nil }
func (m *mockRepo) GetByID(_ context.Context, _ string) (*model.Collection, error) {
	return nil, repository.ErrNotFound
}
func (m *mockRepo) ListSongs(_ context.Context, _ string) ([]model.SongRef, error) {
	return nil, repository.ErrNotFound
}

func (m *mockRepo) Upsert(ctx context.Context, c *model.Collection) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, c)
	}
	return nil
}

func (m *mockRepo) SetActive(ctx context.Context, id string, active bool) error {
	if m.setActiveFn != nil {
		return m.setActiveFn(ctx, id, active)
	}
	return nil
}

func (m *mockRepo) AddSong(ctx context.Context, s *model.SongRef) error {
	if m.addSongFn != nil {
		return m.addSongFn(ctx, s)
	}
	return nil
}

func (m *mockRepo) RemoveSong(ctx context.Context, collectionID, number string) error {
	if m.removeSongFn != nil {
		return m.removeSongFn(ctx, collectionID, number)
	}
	return nil
}

// newTestAdmin собирает AdminService поверх мокового репозитория.
func newTestAdmin(repo repository.CollectionRepository, store CollectionStore) *AdminService {
	return NewAdminService(repo, newTestResolver(store), slog.Default())
}

func validCollection() model.Collection {
	return model.Collection{
		ID:          "LPMI",
		Name:        "Lagu Pujian Masa Ini",
		AccessLevel: model.AccessPublic,
		IsActive:    true,
	}
}

// TestAdminService_ReadOnlyStore проверяет, что без локального репозитория
// все мутации возвращают ErrReadOnlyStore.
func TestAdminService_ReadOnlyStore(t *testing.T) {
	svc := newTestAdmin(nil, &mockStore{})
	ctx := context.Background()

	if err := svc.UpsertCollection(ctx, validCollection()); !errors.Is(err, ErrReadOnlyStore) {
		t.Errorf("UpsertCollection = %v, ожидался ErrReadOnlyStore", err)
	}
	if err := svc.SetCollectionActive(ctx, "LPMI", false); !errors.Is(err, ErrReadOnlyStore) {
		t.Errorf("SetCollectionActive = %v, ожидался ErrReadOnlyStore", err)
	}
	if err := svc.AddSong(ctx, model.SongRef{CollectionID: "LPMI", Number: "1"}); !errors.Is(err, ErrReadOnlyStore) {
		t.Errorf("AddSong = %v, ожидался ErrReadOnlyStore", err)
	}
	if err := svc.RemoveSong(ctx, "LPMI", "1"); !errors.Is(err, ErrReadOnlyStore) {
		t.Errorf("RemoveSong = %v, ожидался ErrReadOnlyStore", err)
	}
}

// TestAdminService_Validation проверяет отклонение некорректных сборников.
func TestAdminService_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *model.Collection)
	}{
		{"пустой id", func(c *model.Collection) { c.ID = "  " }},
		{"пробел в id", func(c *model.Collection) { c.ID = "bad id" }},
		{"слэш в id", func(c *model.Collection) { c.ID = "bad/id" }},
		{"пустое имя", func(c *model.Collection) { c.Name = "" }},
		{"некорректный уровень", func(c *model.Collection) { c.AccessLevel = model.AccessLevel(42) }},
	}

	svc := newTestAdmin(&mockRepo{}, &mockStore{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCollection()
			tt.mutate(&c)

			if err := svc.UpsertCollection(context.Background(), c); !errors.Is(err, ErrValidation) {
				t.Errorf("UpsertCollection = %v, ожидался ErrValidation", err)
			}
		})
	}
}

// TestAdminService_AddSong_EmptyNumber проверяет отклонение пустого номера.
func TestAdminService_AddSong_EmptyNumber(t *testing.T) {
	svc := newTestAdmin(&mockRepo{}, &mockStore{})

	err := svc.AddSong(context.Background(), model.SongRef{CollectionID: "LPMI", Number: ""})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("AddSong = %v, ожидался ErrValidation", err)
	}
}

// TestAdminService_NotFoundMapping проверяет маппинг repository.ErrNotFound
// в сервисную ошибку.
func TestAdminService_NotFoundMapping(t *testing.T) {
	repo := &mockRepo{
		setActiveFn: func(_ context.Context, _ string, _ bool) error {
			return repository.ErrNotFound
		},
		removeSongFn: func(_ context.Context, _, _ string) error {
			return repository.ErrNotFound
		},
	}
	svc := newTestAdmin(repo, &mockStore{})
	ctx := context.Background()

	if err := svc.SetCollectionActive(ctx, "no-such", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetCollectionActive = %v, ожидался ErrNotFound", err)
	}
	if err := svc.RemoveSong(ctx, "no-such", "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RemoveSong = %v, ожидался ErrNotFound", err)
	}
}

// TestAdminService_UpsertInvalidatesCache проверяет, что успешная мутация
// сбрасывает кэш резолва: следующий вызов идёт в store.
func TestAdminService_UpsertInvalidatesCache(t *testing.T) {
	fetchCalls := 0
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			fetchCalls++
			return testCollections(), nil
		},
	}
	resolver := newTestResolver(store)
	svc := NewAdminService(&mockRepo{}, resolver, slog.Default())
	ctx := context.Background()

	// Прогреваем кэш и убеждаемся в попадании
	if _, err := resolver.GetAccessibleCollections(ctx, anonCaps); err != nil {
		t.Fatalf("GetAccessibleCollections ошибка: %v", err)
	}
	if _, err := resolver.GetAccessibleCollections(ctx, anonCaps); err != nil {
		t.Fatalf("GetAccessibleCollections ошибка: %v", err)
	}
	if fetchCalls != 1 {
		t.Fatalf("fetchCalls до мутации = %d, ожидался 1", fetchCalls)
	}

	if err := svc.UpsertCollection(ctx, validCollection()); err != nil {
		t.Fatalf("UpsertCollection ошибка: %v", err)
	}

	// Кэш сброшен — следующий резолв снова идёт в store
	if _, err := resolver.GetAccessibleCollections(ctx, anonCaps); err != nil {
		t.Fatalf("GetAccessibleCollections после мутации ошибка: %v", err)
	}
	if fetchCalls != 2 {
		t.Errorf("fetchCalls после мутации = %d, ожидался 2", fetchCalls)
	}
}

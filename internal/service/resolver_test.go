package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bigkaa/songbook/collection-module/internal/domain/access"
	"github.com/bigkaa/songbook/collection-module/internal/domain/model"
)

// --- Mock store ---

// mockStore — мок CollectionStore для unit-тестов.
type mockStore struct {
	fetchAllFn   func(ctx context.Context) ([]model.Collection, error)
	fetchSongsFn func(ctx context.Context, collectionID string) ([]model.SongRef, error)
}

func (m *mockStore) FetchAllCollections(ctx context.Context) ([]model.Collection, error) {
	if m.fetchAllFn != nil {
		return m.fetchAllFn(ctx)
	}
	return nil, nil
}

func (m *mockStore) FetchSongs(ctx context.Context, collectionID string) ([]model.SongRef, error) {
	if m.fetchSongsFn != nil {
		return m.fetchSongsFn(ctx, collectionID)
	}
	return nil, ErrNotFound
}

// testCollections — типовой набор сборников для тестов: по одному на каждый
// уровень доступа плюс неактивный.
func testCollections() []model.Collection {
	return []model.Collection{
		{ID: "pub", Name: "Public", AccessLevel: model.AccessPublic, IsActive: true, SortOrder: 0},
		{ID: "reg", Name: "Registered", AccessLevel: model.AccessRegistered, IsActive: true, SortOrder: 1},
		{ID: "prem", Name: "Premium", AccessLevel: model.AccessPremium, IsActive: true, SortOrder: 2},
		{ID: "adm", Name: "Admin", AccessLevel: model.AccessAdmin, IsActive: true, SortOrder: 3},
		{ID: "off", Name: "Inactive", AccessLevel: model.AccessPublic, IsActive: false, SortOrder: 4},
	}
}

// newTestResolver собирает resolver с моковым store и свежими кэшами.
func newTestResolver(store CollectionStore) *Resolver {
	logger := slog.Default()
	return NewResolver(
		store,
		NewSignatureCache(5*time.Minute),
		NewSongCache(100, 5*time.Minute),
		NewChangeNotifier(logger),
		logger,
	)
}

var (
	anonCaps    = model.UserCapabilities{}
	regCaps     = model.UserCapabilities{IsAuthenticated: true, IsRegistered: true}
	premiumCaps = model.UserCapabilities{IsAuthenticated: true, IsRegistered: true, IsPremium: true}
	adminCaps   = model.UserCapabilities{IsAuthenticated: true, IsRegistered: true, IsAdmin: true}
)

// --- GetAccessibleCollections ---

// TestResolver_GetAccessibleCollections_Anonymous проверяет резолв для
// анонимного пользователя: public granted, registered/premium preview,
// admin и неактивные невидимы.
func TestResolver_GetAccessibleCollections_Anonymous(t *testing.T) {
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			return testCollections(), nil
		},
	}
	r := newTestResolver(store)

	result, err := r.GetAccessibleCollections(context.Background(), anonCaps)
	if err != nil {
		t.Fatalf("GetAccessibleCollections ошибка: %v", err)
	}

	if result.Degraded {
		t.Error("Degraded = true, ожидался false при успешной выборке")
	}
	if result.Source != SourceFetch {
		t.Errorf("Source = %q, ожидался %q", result.Source, SourceFetch)
	}

	want := map[string]access.Decision{
		"pub":  access.Granted,
		"reg":  access.PreviewOnly,
		"prem": access.PreviewOnly,
	}
	if len(result.Collections) != len(want) {
		t.Fatalf("Collections count = %d, ожидался %d", len(result.Collections), len(want))
	}
	for _, rc := range result.Collections {
		wantDecision, ok := want[rc.Collection.ID]
		if !ok {
			t.Errorf("неожиданный сборник %q в результате", rc.Collection.ID)
			continue
		}
		if rc.Decision != wantDecision {
			t.Errorf("сборник %q: Decision = %s, ожидался %s", rc.Collection.ID, rc.Decision, wantDecision)
		}
	}
}

// TestResolver_GetAccessibleCollections_Admin проверяет что админ видит
// все активные сборники как Granted, но не видит неактивные.
func TestResolver_GetAccessibleCollections_Admin(t *testing.T) {
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			return testCollections(), nil
		},
	}
	r := newTestResolver(store)

	result, err := r.GetAccessibleCollections(context.Background(), adminCaps)
	if err != nil {
		t.Fatalf("GetAccessibleCollections ошибка: %v", err)
	}

	if len(result.Collections) != 4 {
		t.Fatalf("Collections count = %d, ожидался 4 (все активные)", len(result.Collections))
	}
	for _, rc := range result.Collections {
		if rc.Collection.ID == "off" {
			t.Error("неактивный сборник не должен резолвиться даже админу")
		}
		if rc.Decision != access.Granted {
			t.Errorf("сборник %q: Decision = %s, ожидался granted", rc.Collection.ID, rc.Decision)
		}
	}
}

// TestResolver_GetAccessibleCollections_CacheHit проверяет что повторный
// резолв той же сигнатуры не обращается к store.
func TestResolver_GetAccessibleCollections_CacheHit(t *testing.T) {
	callCount := 0
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			callCount++
			return testCollections(), nil
		},
	}
	r := newTestResolver(store)

	if _, err := r.GetAccessibleCollections(context.Background(), anonCaps); err != nil {
		t.Fatalf("первый резолв: %v", err)
	}
	result, err := r.GetAccessibleCollections(context.Background(), anonCaps)
	if err != nil {
		t.Fatalf("второй резолв: %v", err)
	}

	if callCount != 1 {
		t.Errorf("store вызван %d раз, ожидался 1 (cache hit)", callCount)
	}
	if result.Source != SourceCache {
		t.Errorf("Source = %q, ожидался %q", result.Source, SourceCache)
	}
}

// TestResolver_SignatureSharing проверяет что пользователи с разными caps,
// но одной сигнатурой, делят одну запись кэша.
func TestResolver_SignatureSharing(t *testing.T) {
	callCount := 0
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			callCount++
			return testCollections(), nil
		},
	}
	r := newTestResolver(store)

	// Premium-пользователь и premium-админ без admin-флага — одна сигнатура
	capsA := model.UserCapabilities{IsAuthenticated: true, IsRegistered: true, IsPremium: true}
	capsB := model.UserCapabilities{IsAuthenticated: true, IsRegistered: true, IsPremium: true}

	if _, err := r.GetAccessibleCollections(context.Background(), capsA); err != nil {
		t.Fatalf("резолв A: %v", err)
	}
	if _, err := r.GetAccessibleCollections(context.Background(), capsB); err != nil {
		t.Fatalf("резолв B: %v", err)
	}

	if callCount != 1 {
		t.Errorf("store вызван %d раз, ожидался 1 (общая сигнатура)", callCount)
	}
}

// TestResolver_Degraded_StaleFallback проверяет деградацию на stale-снимок
// при недоступном store.
func TestResolver_Degraded_StaleFallback(t *testing.T) {
	failing := false
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			if failing {
				return nil, ErrBackendUnavailable
			}
			return testCollections(), nil
		},
	}
	r := newTestResolver(store)

	// Прогреваем кэш успешным резолвом
	if _, err := r.GetAccessibleCollections(context.Background(), anonCaps); err != nil {
		t.Fatalf("прогрев кэша: %v", err)
	}

	// Инвалидация TTL-истечением имитируется полным сбросом записей
	// через подмену часов
	r.cache.now = func() time.Time { return time.Now().Add(time.Hour) }
	failing = true

	result, err := r.GetAccessibleCollections(context.Background(), anonCaps)
	if err != nil {
		t.Fatalf("ошибка вместо деградации: %v", err)
	}

	if !result.Degraded {
		t.Error("Degraded = false, ожидался true при stale-снимке")
	}
	if result.Source != SourceStale {
		t.Errorf("Source = %q, ожидался %q", result.Source, SourceStale)
	}
	if len(result.Collections) == 0 {
		t.Error("stale-снимок не должен быть пустым")
	}
}

// TestResolver_Degraded_StaticFallback проверяет статический fallback
// при недоступном store и пустом кэше: результат непустой и Degraded.
func TestResolver_Degraded_StaticFallback(t *testing.T) {
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			return nil, ErrBackendUnavailable
		},
	}
	r := newTestResolver(store)

	result, err := r.GetAccessibleCollections(context.Background(), anonCaps)
	if err != nil {
		t.Fatalf("ошибка вместо fallback: %v", err)
	}

	if !result.Degraded {
		t.Error("Degraded = false, ожидался true для fallback")
	}
	if result.Source != SourceFallback {
		t.Errorf("Source = %q, ожидался %q", result.Source, SourceFallback)
	}
	if len(result.Collections) == 0 {
		t.Fatal("статический fallback обязан быть непустым")
	}
	for _, rc := range result.Collections {
		if rc.Collection.AccessLevel != model.AccessPublic {
			t.Errorf("fallback-сборник %q не public", rc.Collection.ID)
		}
	}
}

// TestResolver_FallbackNotCached проверяет что fallback-результат не
// кэшируется: следующий вызов снова пробует store.
func TestResolver_FallbackNotCached(t *testing.T) {
	callCount := 0
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			callCount++
			if callCount == 1 {
				return nil, ErrBackendUnavailable
			}
			return testCollections(), nil
		},
	}
	r := newTestResolver(store)

	first, err := r.GetAccessibleCollections(context.Background(), anonCaps)
	if err != nil {
		t.Fatalf("первый резолв: %v", err)
	}
	if first.Source != SourceFallback {
		t.Fatalf("Source = %q, ожидался %q", first.Source, SourceFallback)
	}

	second, err := r.GetAccessibleCollections(context.Background(), anonCaps)
	if err != nil {
		t.Fatalf("второй резолв: %v", err)
	}
	if second.Source != SourceFetch {
		t.Errorf("Source = %q, ожидался %q (store восстановился)", second.Source, SourceFetch)
	}
	if second.Degraded {
		t.Error("Degraded = true после восстановления store")
	}
}

// TestResolver_SortOrder проверяет сортировку по sort_order, затем id.
func TestResolver_SortOrder(t *testing.T) {
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			return []model.Collection{
				{ID: "b", AccessLevel: model.AccessPublic, IsActive: true, SortOrder: 1},
				{ID: "c", AccessLevel: model.AccessPublic, IsActive: true, SortOrder: 0},
				{ID: "a", AccessLevel: model.AccessPublic, IsActive: true, SortOrder: 1},
			}, nil
		},
	}
	r := newTestResolver(store)

	result, err := r.GetAccessibleCollections(context.Background(), anonCaps)
	if err != nil {
		t.Fatalf("GetAccessibleCollections ошибка: %v", err)
	}

	wantOrder := []string{"c", "a", "b"}
	for i, rc := range result.Collections {
		if rc.Collection.ID != wantOrder[i] {
			t.Errorf("позиция %d: ID = %q, ожидался %q", i, rc.Collection.ID, wantOrder[i])
		}
	}
}

// TestResolver_DefensiveCopy проверяет что модификация возвращённого среза
// не портит запись кэша.
func TestResolver_DefensiveCopy(t *testing.T) {
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			return testCollections(), nil
		},
	}
	r := newTestResolver(store)

	first, err := r.GetAccessibleCollections(context.Background(), anonCaps)
	if err != nil {
		t.Fatalf("первый резолв: %v", err)
	}

	// Потребитель портит свой срез
	first.Collections[0] = ResolvedCollection{
		Collection: model.Collection{ID: "corrupted"},
	}

	second, err := r.GetAccessibleCollections(context.Background(), anonCaps)
	if err != nil {
		t.Fatalf("второй резолв: %v", err)
	}
	if second.Collections[0].Collection.ID == "corrupted" {
		t.Error("модификация результата потребителем протекла в кэш")
	}
}

// --- GetAccessForCollection ---

// TestResolver_GetAccessForCollection проверяет точечную проверку доступа
// для deep link: найден/preview/denied/not found.
func TestResolver_GetAccessForCollection(t *testing.T) {
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			return testCollections(), nil
		},
	}
	r := newTestResolver(store)

	tests := []struct {
		name         string
		collectionID string
		caps         model.UserCapabilities
		wantDecision access.Decision
		wantErr      error
	}{
		{"public для анонима", "pub", anonCaps, access.Granted, nil},
		{"premium preview для registered", "prem", regCaps, access.PreviewOnly, nil},
		{"premium granted для premium", "prem", premiumCaps, access.Granted, nil},
		{"admin denied для premium", "adm", premiumCaps, access.Denied, nil},
		{"admin granted для админа", "adm", adminCaps, access.Granted, nil},
		{"неактивный — not found", "off", adminCaps, 0, ErrNotFound},
		{"неизвестный id — not found", "no-such", anonCaps, 0, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.GetAccessForCollection(context.Background(), tt.collectionID, tt.caps)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ошибка = %v, ожидалась %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetAccessForCollection ошибка: %v", err)
			}
			if result.Decision != tt.wantDecision {
				t.Errorf("Decision = %s, ожидался %s", result.Decision, tt.wantDecision)
			}
		})
	}
}

// --- GetSongs ---

// TestResolver_GetSongs_Granted проверяет выдачу состава при Granted.
func TestResolver_GetSongs_Granted(t *testing.T) {
	songs := []model.SongRef{
		{CollectionID: "pub", Number: "1", Title: "Песня 1", Position: 0},
		{CollectionID: "pub", Number: "2", Title: "Песня 2", Position: 1},
	}
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			return testCollections(), nil
		},
		fetchSongsFn: func(_ context.Context, id string) ([]model.SongRef, error) {
			if id != "pub" {
				return nil, ErrNotFound
			}
			return songs, nil
		},
	}
	r := newTestResolver(store)

	got, err := r.GetSongs(context.Background(), "pub", anonCaps)
	if err != nil {
		t.Fatalf("GetSongs ошибка: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("songs count = %d, ожидался 2", len(got))
	}
}

// TestResolver_GetSongs_PreviewDenied проверяет что при PreviewOnly
// состав песен не выдаётся.
func TestResolver_GetSongs_PreviewDenied(t *testing.T) {
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			return testCollections(), nil
		},
	}
	r := newTestResolver(store)

	_, err := r.GetSongs(context.Background(), "prem", regCaps)
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("ошибка = %v, ожидалась ErrAccessDenied", err)
	}
}

// TestResolver_GetSongs_AdminInvisible проверяет что admin-only сборник
// для обычного пользователя неотличим от несуществующего.
func TestResolver_GetSongs_AdminInvisible(t *testing.T) {
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			return testCollections(), nil
		},
	}
	r := newTestResolver(store)

	_, err := r.GetSongs(context.Background(), "adm", premiumCaps)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ошибка = %v, ожидалась ErrNotFound (Denied невидим)", err)
	}
}

// TestResolver_GetSongs_CacheHit проверяет кэширование состава песен.
func TestResolver_GetSongs_CacheHit(t *testing.T) {
	callCount := 0
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			return testCollections(), nil
		},
		fetchSongsFn: func(_ context.Context, _ string) ([]model.SongRef, error) {
			callCount++
			return []model.SongRef{{CollectionID: "pub", Number: "1"}}, nil
		},
	}
	r := newTestResolver(store)

	if _, err := r.GetSongs(context.Background(), "pub", anonCaps); err != nil {
		t.Fatalf("первый вызов: %v", err)
	}
	if _, err := r.GetSongs(context.Background(), "pub", anonCaps); err != nil {
		t.Fatalf("второй вызов: %v", err)
	}

	if callCount != 1 {
		t.Errorf("FetchSongs вызван %d раз, ожидался 1 (cache hit)", callCount)
	}
}

// TestResolver_GetSongs_IntegrityMismatch проверяет что расхождение
// song_count с фактическим составом не прерывает обработку.
func TestResolver_GetSongs_IntegrityMismatch(t *testing.T) {
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			return []model.Collection{
				{ID: "pub", AccessLevel: model.AccessPublic, IsActive: true, SongCount: 10},
			}, nil
		},
		fetchSongsFn: func(_ context.Context, _ string) ([]model.SongRef, error) {
			// Фактический состав меньше заявленного song_count
			return []model.SongRef{{CollectionID: "pub", Number: "1"}}, nil
		},
	}
	r := newTestResolver(store)

	songs, err := r.GetSongs(context.Background(), "pub", anonCaps)
	if err != nil {
		t.Fatalf("GetSongs ошибка: %v", err)
	}
	if len(songs) != 1 {
		t.Errorf("songs count = %d, ожидался 1 (состав — ground truth)", len(songs))
	}
}

// --- InvalidateAndRefresh ---

// TestResolver_InvalidateAndRefresh проверяет сброс кэша и немедленный
// пере-резолв сигнатур с активными подписчиками.
func TestResolver_InvalidateAndRefresh(t *testing.T) {
	collections := testCollections()
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			return collections, nil
		},
	}
	r := newTestResolver(store)

	// Подписчик public-сигнатуры
	ch := r.notifier.Subscribe(model.AccessPublic, "sub-1")
	defer r.notifier.Unsubscribe(model.AccessPublic, "sub-1")

	// Прогреваем кэш
	if _, err := r.GetAccessibleCollections(context.Background(), anonCaps); err != nil {
		t.Fatalf("прогрев кэша: %v", err)
	}
	// Снимок прогрева
	<-ch

	// Мутация данных + инвалидация
	collections = append(collections, model.Collection{
		ID: "fresh", AccessLevel: model.AccessPublic, IsActive: true, SortOrder: 10,
	})
	r.InvalidateAndRefresh(context.Background())

	// Подписчик должен получить пере-резолвленный снимок с новым сборником
	select {
	case snapshot := <-ch:
		found := false
		for _, rc := range snapshot {
			if rc.Collection.ID == "fresh" {
				found = true
			}
		}
		if !found {
			t.Error("пере-резолвленный снимок не содержит новый сборник")
		}
	case <-time.After(time.Second):
		t.Fatal("снимок после инвалидации не доставлен")
	}
}

// TestResolver_InvalidateAndRefresh_BackendDown проверяет что отказ backend
// при пере-резолве не паникует и не возвращается вызывающему.
func TestResolver_InvalidateAndRefresh_BackendDown(t *testing.T) {
	store := &mockStore{
		fetchAllFn: func(_ context.Context) ([]model.Collection, error) {
			return nil, ErrBackendUnavailable
		},
	}
	r := newTestResolver(store)

	ch := r.notifier.Subscribe(model.AccessAdmin, "sub-adm")
	defer r.notifier.Unsubscribe(model.AccessAdmin, "sub-adm")

	// Не должно паниковать и не должно блокироваться
	r.InvalidateAndRefresh(context.Background())

	// Деградированный пере-резолв снимок не публикует: fallback — ответ
	// конкретному вызову, а не новое состояние
	select {
	case snapshot := <-ch:
		t.Fatalf("неожиданный снимок после деградированной инвалидации: %d записей", len(snapshot))
	default:
	}
}

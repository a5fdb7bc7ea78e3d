// resolver.go — оркестрирующий сервис резолва доступных сборников.
// Pipeline: сигнатура → кэш → store → политика доступа → сортировка →
// кэш → публикация подписчикам. Доступность важнее свежести: при отказе
// backend отдаётся stale-снимок или статический fallback, но не ошибка.
package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/songbook/collection-module/internal/domain/access"
	"github.com/bigkaa/songbook/collection-module/internal/domain/model"
)

// Источники результата резолва (лейбл метрики и поле ответа).
const (
	SourceCache    = "cache"
	SourceFetch    = "fetch"
	SourceStale    = "stale"
	SourceFallback = "fallback"
)

// Prometheus-метрики резолва.
var (
	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_resolve_total",
		Help: "Общее количество резолвов списка сборников (по источнику результата).",
	}, []string{"source"})

	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cm_resolve_duration_seconds",
		Help:    "Длительность резолва списка сборников.",
		Buckets: prometheus.DefBuckets,
	})

	invalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_invalidations_total",
		Help: "Количество явных инвалидаций кэша после административных мутаций.",
	})

	integrityWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_integrity_warnings_total",
		Help: "Количество обнаруженных расхождений song_count с фактическим составом.",
	})
)

// ResolvedCollection — сборник с решением политики доступа.
// Для PreviewOnly видимы только метаданные; состав песен не возвращается.
type ResolvedCollection struct {
	Collection model.Collection
	Decision   access.Decision
}

// ResolveResult — результат резолва списка сборников.
type ResolveResult struct {
	// Collections — отфильтрованный, отсортированный список
	Collections []ResolvedCollection
	// Degraded — данные могут быть устаревшими (stale) или fallback;
	// флаг для пассивного «offline» индикатора, не ошибка
	Degraded bool
	// Source — откуда получен результат (cache, fetch, stale, fallback)
	Source string
	// FetchedAt — момент выборки данных у store
	FetchedAt time.Time
}

// AccessResult — результат точечной проверки доступа к сборнику.
type AccessResult struct {
	Collection model.Collection
	Decision   access.Decision
}

// Resolver — оркестрирующий сервис доступа к сборникам.
// Конструируется в composition root и передаётся потребителям явно —
// глобальных экземпляров нет, каждый тест собирает собственный
// Resolver + Cache + fake Store.
type Resolver struct {
	store    CollectionStore
	cache    *SignatureCache
	songs    *SongCache
	notifier *ChangeNotifier
	logger   *slog.Logger
}

// NewResolver создаёт resolver.
func NewResolver(
	store CollectionStore,
	cache *SignatureCache,
	songs *SongCache,
	notifier *ChangeNotifier,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		store:    store,
		cache:    cache,
		songs:    songs,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "resolver")),
	}
}

// GetAccessibleCollections возвращает список сборников, доступных для caps.
//
// Алгоритм:
//  1. Свёртка caps в сигнатуру, попытка чтения свежей записи кэша.
//  2. Промах/истёкший TTL → выборка у store.
//  3. Отказ store → last-known-good снимок (даже истёкший) для этой
//     сигнатуры, иначе статический fallback; в обоих случаях Degraded.
//  4. Фильтрация: только is_active, политика доступа per сборник,
//     Denied отбрасывается полностью.
//  5. Сортировка по sort_order, затем id.
//  6. Новая immutable-запись кэша, публикация подписчикам, возврат копии.
//
// ErrBackendUnavailable через эту границу не проходит никогда.
func (r *Resolver) GetAccessibleCollections(ctx context.Context, caps model.UserCapabilities) (*ResolveResult, error) {
	start := time.Now()
	defer func() { resolveDuration.Observe(time.Since(start).Seconds()) }()

	sig := model.SignatureOf(caps)

	// 1-2. Свежая запись кэша
	if entry, ok := r.cache.Get(sig); ok {
		resolveTotal.WithLabelValues(SourceCache).Inc()
		return &ResolveResult{
			Collections: copyResolved(entry.Resolved),
			Source:      SourceCache,
			FetchedAt:   entry.FetchedAt,
		}, nil
	}

	// 3. Выборка у store. Отмена вызывающего намеренно не распространяется:
	// брошенный UI-компонентом запрос дорабатывает до конца и прогревает
	// кэш для следующего вызова; таймаут ограничен самим store.
	raw, err := r.store.FetchAllCollections(context.WithoutCancel(ctx))
	if err != nil {
		return r.resolveDegraded(sig, caps, err), nil
	}

	// 4-5. Фильтрация и сортировка
	resolved := r.filterAndSort(raw, caps)

	// 6. Кэш, публикация, возврат
	entry := r.cache.Put(sig, resolved, raw)
	r.notifier.Publish(sig, copyResolved(resolved))

	resolveTotal.WithLabelValues(SourceFetch).Inc()
	r.logger.Debug("Резолв выполнен",
		slog.String("signature", sig.String()),
		slog.Int("fetched", len(raw)),
		slog.Int("visible", len(resolved)),
	)

	return &ResolveResult{
		Collections: copyResolved(resolved),
		Source:      SourceFetch,
		FetchedAt:   entry.FetchedAt,
	}, nil
}

// resolveDegraded строит деградированный результат при недоступном store:
// stale-снимок этой сигнатуры, иначе статический fallback.
// Fallback в кэш не пишется — следующий вызов снова попробует store.
func (r *Resolver) resolveDegraded(sig model.Signature, caps model.UserCapabilities, cause error) *ResolveResult {
	r.logger.Warn("Store недоступен, используется деградированный результат",
		slog.String("signature", sig.String()),
		slog.String("error", cause.Error()),
	)

	if entry, ok := r.cache.GetStale(sig); ok {
		resolveTotal.WithLabelValues(SourceStale).Inc()
		return &ResolveResult{
			Collections: copyResolved(entry.Resolved),
			Degraded:    true,
			Source:      SourceStale,
			FetchedAt:   entry.FetchedAt,
		}
	}

	// Снимка нет вообще — статический минимальный список, не пустой:
	// UI обязан оставаться функциональным offline.
	resolveTotal.WithLabelValues(SourceFallback).Inc()
	return &ResolveResult{
		Collections: r.filterAndSort(fallbackCollections(), caps),
		Degraded:    true,
		Source:      SourceFallback,
	}
}

// filterAndSort применяет политику доступа к сырой выборке.
// Неактивные сборники исключаются до политики — даже для админа.
func (r *Resolver) filterAndSort(raw []model.Collection, caps model.UserCapabilities) []ResolvedCollection {
	resolved := make([]ResolvedCollection, 0, len(raw))
	for _, c := range raw {
		if !c.IsActive {
			continue
		}
		decision := access.Decide(c.AccessLevel, caps)
		if decision == access.Denied {
			continue
		}
		resolved = append(resolved, ResolvedCollection{Collection: c, Decision: decision})
	}

	sort.Slice(resolved, func(i, j int) bool {
		a, b := resolved[i].Collection, resolved[j].Collection
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})

	return resolved
}

// GetAccessForCollection — точечная проверка доступа для deep link.
// Полного закэшированного списка не требует, но попутно прогревает кэш,
// если выборка всё равно выполнилась. Единственная типизированная ошибка
// через эту границу — ErrNotFound (неизвестный либо неактивный сборник;
// admin-only сборник для не-админа существует, но возвращается Denied).
func (r *Resolver) GetAccessForCollection(ctx context.Context, collectionID string, caps model.UserCapabilities) (*AccessResult, error) {
	sig := model.SignatureOf(caps)

	// Нефильтрованный снимок: свежий, иначе stale, иначе полный резолв
	var raw []model.Collection
	if entry, ok := r.cache.Get(sig); ok {
		raw = entry.Raw
	} else {
		if _, err := r.GetAccessibleCollections(ctx, caps); err != nil {
			return nil, err
		}
		if entry, ok := r.cache.GetStale(sig); ok {
			raw = entry.Raw
		} else {
			// Fallback-резолв кэш не наполняет — ищем в статическом списке
			raw = fallbackCollections()
		}
	}

	for _, c := range raw {
		if c.ID != collectionID {
			continue
		}
		if !c.IsActive {
			// Неактивный сборник не резолвится никому
			return nil, ErrNotFound
		}
		return &AccessResult{
			Collection: c,
			Decision:   access.Decide(c.AccessLevel, caps),
		}, nil
	}

	return nil, ErrNotFound
}

// GetSongs возвращает состав песен сборника при решении Granted.
// PreviewOnly и Denied — ErrAccessDenied/ErrNotFound: состав не отдаётся.
// Расхождение song_count с фактическим составом — warning, состав —
// ground truth, обработка продолжается.
func (r *Resolver) GetSongs(ctx context.Context, collectionID string, caps model.UserCapabilities) ([]model.SongRef, error) {
	ar, err := r.GetAccessForCollection(ctx, collectionID, caps)
	if err != nil {
		return nil, err
	}

	switch ar.Decision {
	case access.Granted:
	case access.PreviewOnly:
		return nil, ErrAccessDenied
	default:
		return nil, ErrNotFound
	}

	// Кэш состава песен
	if songs, ok := r.songs.Get(collectionID); ok {
		return songs, nil
	}

	songs, err := r.store.FetchSongs(context.WithoutCancel(ctx), collectionID)
	if err != nil {
		return nil, err
	}

	// Data-integrity: денормализованный счётчик против факта
	if ar.Collection.SongCount != len(songs) {
		integrityWarningsTotal.Inc()
		r.logger.Warn("song_count расходится с фактическим составом",
			slog.String("collection_id", collectionID),
			slog.Int("song_count", ar.Collection.SongCount),
			slog.Int("actual", len(songs)),
		)
	}

	r.songs.Set(collectionID, songs)
	return songs, nil
}

// InvalidateAndRefresh сбрасывает кэш целиком (мимо TTL) и немедленно
// пере-резолвит сигнатуры с активными подписчиками — подписчики получают
// свежие данные, не дожидаясь собственного следующего вызова.
// Отказ backend при пере-резолве глотается и логируется: stale-данные
// предпочтительнее исключения в административном потоке.
func (r *Resolver) InvalidateAndRefresh(ctx context.Context) {
	invalidationsTotal.Inc()
	r.cache.InvalidateAll()
	r.songs.Purge()

	r.logger.Info("Кэш сборников инвалидирован")

	for _, sig := range r.notifier.ActiveSignatures() {
		// Гонка с in-flight выборкой допустима: результат устаревшей
		// выборки может перетереть свежий — окно ограничено одним
		// round-trip и закрывается следующим TTL-резолвом.
		if _, err := r.GetAccessibleCollections(ctx, capsForSignature(sig)); err != nil {
			r.logger.Warn("Ошибка пере-резолва после инвалидации",
				slog.String("signature", sig.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// RefreshInBackground запускает отсоединённый резолв для caps.
// Fire-and-forget: единственный эффект — будущая запись кэша и публикация;
// отказ фоновой задачи никогда не роняет вызывающего.
func (r *Resolver) RefreshInBackground(caps model.UserCapabilities) {
	go func() {
		if _, err := r.GetAccessibleCollections(context.Background(), caps); err != nil {
			r.logger.Warn("Ошибка фонового резолва",
				slog.String("error", err.Error()),
			)
		}
	}()
}

// CachedSnapshot возвращает последний снимок резолва для сигнатуры
// (включая истёкший). Используется SSE handler'ом, чтобы понять, нужен ли
// прогрев при подключении первого подписчика.
func (r *Resolver) CachedSnapshot(sig model.Signature) ([]ResolvedCollection, bool) {
	entry, ok := r.cache.GetStale(sig)
	if !ok {
		return nil, false
	}
	return copyResolved(entry.Resolved), true
}

// capsForSignature восстанавливает минимальный набор возможностей,
// удовлетворяющий сигнатуру (обратное к model.SignatureOf).
func capsForSignature(sig model.Signature) model.UserCapabilities {
	switch sig {
	case model.AccessAdmin:
		return model.UserCapabilities{IsAuthenticated: true, IsRegistered: true, IsAdmin: true}
	case model.AccessPremium:
		return model.UserCapabilities{IsAuthenticated: true, IsRegistered: true, IsPremium: true}
	case model.AccessRegistered:
		return model.UserCapabilities{IsAuthenticated: true, IsRegistered: true}
	default:
		return model.UserCapabilities{}
	}
}

// copyResolved возвращает защитную копию списка: наружу и подписчикам
// никогда не отдаётся живой срез из immutable-записи кэша.
func copyResolved(src []ResolvedCollection) []ResolvedCollection {
	dst := make([]ResolvedCollection, len(src))
	copy(dst, src)
	return dst
}

// fallbackCollections — статический минимальный список public-сборников,
// «страховочная сетка» на случай полностью недоступного backend при
// пустом кэше. Состав намеренно консервативный: только базовые сборники.
func fallbackCollections() []model.Collection {
	return []model.Collection{
		{
			ID:          "LPMI",
			Name:        "Lagu Pujian Masa Ini",
			AccessLevel: model.AccessPublic,
			Category:    "traditional",
			IsActive:    true,
			SortOrder:   0,
		},
		{
			ID:          "SRD",
			Name:        "Seasonal & Related Devotions",
			AccessLevel: model.AccessPublic,
			Category:    "seasonal",
			IsActive:    true,
			SortOrder:   1,
		},
	}
}

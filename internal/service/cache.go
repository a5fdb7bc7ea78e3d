// cache.go — кэширование результатов резолва.
// SignatureCache — ровно 4 bucket'а по каноническим сигнатурам возможностей
// с TTL и immutable-записями; SongCache — LRU-кэш состава песен с TTL
// (обёртка над hashicorp/golang-lru/v2/expirable).
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/songbook/collection-module/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_cache_hits_total",
		Help: "Общее количество попаданий в кэш резолва по сигнатурам.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_cache_misses_total",
		Help: "Общее количество промахов кэша резолва (включая истёкший TTL).",
	})
)

// CacheEntry — результат одного резолва для одной сигнатуры.
// Запись immutable: обновление кэша всегда создаёт новую запись и
// атомарно замещает старую целиком — частичных обновлений под
// конкурентными читателями не бывает. Ни один компонент не имеет права
// менять AccessLevel закэшированного сборника локально.
type CacheEntry struct {
	// Resolved — отфильтрованный по доступу список с решениями
	Resolved []ResolvedCollection
	// Raw — нефильтрованный снимок выборки (для точечных проверок доступа)
	Raw []model.Collection
	// FetchedAt — момент выборки у store
	FetchedAt time.Time
}

// SignatureCache — in-memory кэш записей резолва, ключ — каноническая
// сигнатура возможностей. Кардинальность — 4 bucket'а независимо от
// количества пользователей. Чисто синхронное состояние, никогда не
// блокируется на I/O.
type SignatureCache struct {
	mu      sync.RWMutex
	entries map[model.Signature]*CacheEntry
	ttl     time.Duration

	// now подменяется в тестах для проверки границы TTL.
	now func() time.Time
}

// NewSignatureCache создаёт кэш с указанным TTL записей.
func NewSignatureCache(ttl time.Duration) *SignatureCache {
	return &SignatureCache{
		entries: make(map[model.Signature]*CacheEntry, 4),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get возвращает свежую запись для сигнатуры.
// Запись с истёкшим TTL трактуется как отсутствующая, но НЕ удаляется —
// ленивое вытеснение при следующем Put, а истёкший снимок остаётся
// доступным через GetStale для degraded-режима.
func (c *SignatureCache) Get(sig model.Signature) (*CacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[sig]
	c.mu.RUnlock()

	if !ok || c.now().Sub(entry.FetchedAt) > c.ttl {
		cacheMissesTotal.Inc()
		return nil, false
	}

	cacheHitsTotal.Inc()
	return entry, true
}

// GetStale возвращает последнюю известную запись для сигнатуры,
// даже с истёкшим TTL. Используется resolver'ом как last-known-good
// снимок при недоступном backend.
func (c *SignatureCache) GetStale(sig model.Signature) (*CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[sig]
	return entry, ok
}

// Put сохраняет новую запись для сигнатуры, безусловно замещая старую.
// Конкурентные записи — last-write-wins; корректно, поскольку запись
// замещается как единый immutable-объект.
func (c *SignatureCache) Put(sig model.Signature, resolved []ResolvedCollection, raw []model.Collection) *CacheEntry {
	entry := &CacheEntry{
		Resolved:  resolved,
		Raw:       raw,
		FetchedAt: c.now(),
	}

	c.mu.Lock()
	c.entries[sig] = entry
	c.mu.Unlock()

	return entry
}

// InvalidateAll очищает все записи независимо от TTL.
// Вызывается после любой административной мутации данных сборников.
func (c *SignatureCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[model.Signature]*CacheEntry, 4)
	c.mu.Unlock()
}

// TTL возвращает настроенное время жизни записей.
func (c *SignatureCache) TTL() time.Duration {
	return c.ttl
}

// --- Кэш состава песен ---

// SongCache — LRU-кэш состава песен сборников с автоматическим TTL.
type SongCache struct {
	cache *expirable.LRU[string, []model.SongRef]
}

// NewSongCache создаёт LRU-кэш состава песен.
// maxSize — максимальное количество сборников в кэше.
// ttl — время жизни записи после добавления.
func NewSongCache(maxSize int, ttl time.Duration) *SongCache {
	cache := expirable.NewLRU[string, []model.SongRef](maxSize, nil, ttl)
	return &SongCache{cache: cache}
}

// Get возвращает состав песен сборника из кэша.
func (c *SongCache) Get(collectionID string) ([]model.SongRef, bool) {
	return c.cache.Get(collectionID)
}

// Set добавляет или обновляет состав песен в кэше.
func (c *SongCache) Set(collectionID string, songs []model.SongRef) {
	c.cache.Add(collectionID, songs)
}

// Purge очищает кэш целиком (инвалидация после мутаций).
func (c *SongCache) Purge() {
	c.cache.Purge()
}

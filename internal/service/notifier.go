// notifier.go — fan-out уведомлений об изменении списков сборников.
// Подписка ведётся по сигнатуре возможностей: все подписчики одной
// сигнатуры получают одинаковые снимки. Доставка push-based и строго
// неблокирующая — медленный подписчик теряет промежуточный снимок,
// но никогда не тормозит резолв.
package service

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/songbook/collection-module/internal/domain/model"
)

// Ёмкость канала подписчика. Снимки замещающие, не инкрементальные,
// поэтому потеря промежуточного снимка безвредна: следующий Publish
// доставит актуальное состояние целиком.
const subscriberBuffer = 8

var notifierSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "cm_notifier_subscribers",
	Help: "Текущее количество подписчиков на изменения списков сборников.",
})

// ChangeNotifier — раздача снимков резолва подписчикам по сигнатурам.
type ChangeNotifier struct {
	mu     sync.RWMutex
	subs   map[model.Signature]map[string]chan []ResolvedCollection
	last   map[model.Signature][]ResolvedCollection
	logger *slog.Logger
}

// NewChangeNotifier создаёт notifier.
func NewChangeNotifier(logger *slog.Logger) *ChangeNotifier {
	return &ChangeNotifier{
		subs:   make(map[model.Signature]map[string]chan []ResolvedCollection),
		last:   make(map[model.Signature][]ResolvedCollection),
		logger: logger.With(slog.String("component", "notifier")),
	}
}

// Subscribe регистрирует подписчика на сигнатуру и возвращает канал снимков.
// id подписчика должен быть уникален (обычно uuid).
// Если для сигнатуры уже есть опубликованный снимок, он кладётся в канал
// до возврата — холодный подписчик получает текущее состояние сразу,
// не дожидаясь следующего резолва.
func (n *ChangeNotifier) Subscribe(sig model.Signature, id string) <-chan []ResolvedCollection {
	ch := make(chan []ResolvedCollection, subscriberBuffer)

	n.mu.Lock()
	if n.subs[sig] == nil {
		n.subs[sig] = make(map[string]chan []ResolvedCollection)
	}
	n.subs[sig][id] = ch

	if snapshot, ok := n.last[sig]; ok {
		ch <- copyResolved(snapshot)
	}
	n.mu.Unlock()

	notifierSubscribers.Inc()
	n.logger.Debug("Подписчик зарегистрирован",
		slog.String("signature", sig.String()),
		slog.String("subscriber_id", id),
	)

	return ch
}

// Unsubscribe снимает подписчика и закрывает его канал.
// Повторный вызов для того же id безвреден.
func (n *ChangeNotifier) Unsubscribe(sig model.Signature, id string) {
	n.mu.Lock()
	ch, ok := n.subs[sig][id]
	if ok {
		delete(n.subs[sig], id)
		if len(n.subs[sig]) == 0 {
			delete(n.subs, sig)
		}
	}
	n.mu.Unlock()

	if ok {
		close(ch)
		notifierSubscribers.Dec()
		n.logger.Debug("Подписчик снят",
			slog.String("signature", sig.String()),
			slog.String("subscriber_id", id),
		)
	}
}

// Publish рассылает снимок всем подписчикам сигнатуры.
// Доставка неблокирующая: при заполненном канале снимок для этого
// подписчика отбрасывается с warning.
func (n *ChangeNotifier) Publish(sig model.Signature, snapshot []ResolvedCollection) {
	n.mu.Lock()
	n.last[sig] = snapshot

	for id, ch := range n.subs[sig] {
		select {
		case ch <- snapshot:
		default:
			n.logger.Warn("Канал подписчика переполнен, снимок отброшен",
				slog.String("signature", sig.String()),
				slog.String("subscriber_id", id),
			)
		}
	}
	n.mu.Unlock()
}

// ActiveSignatures возвращает сигнатуры, имеющие хотя бы одного подписчика.
// Используется resolver'ом для пере-резолва после инвалидации.
func (n *ChangeNotifier) ActiveSignatures() []model.Signature {
	n.mu.RLock()
	defer n.mu.RUnlock()

	sigs := make([]model.Signature, 0, len(n.subs))
	for sig := range n.subs {
		sigs = append(sigs, sig)
	}
	return sigs
}

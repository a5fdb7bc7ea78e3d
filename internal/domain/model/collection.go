// Пакет model — доменные модели Collection Module.
// Collection — сборник песен с уровнем доступа, SongRef — песня в сборнике.
package model

import (
	"log/slog"
	"strings"
	"time"
)

// AccessLevel — уровень доступа к сборнику.
// Уровни упорядочены по строгости: Public < Registered < Premium < Admin.
type AccessLevel int

const (
	// AccessPublic — виден всем, включая анонимных гостей.
	AccessPublic AccessLevel = iota
	// AccessRegistered — полный доступ только для зарегистрированных.
	AccessRegistered
	// AccessPremium — полный доступ только для premium-подписчиков.
	AccessPremium
	// AccessAdmin — виден только администраторам (без preview).
	AccessAdmin
)

// accessLevelNames — канонические строковые имена уровней (формат backend).
var accessLevelNames = map[AccessLevel]string{
	AccessPublic:     "public",
	AccessRegistered: "registered",
	AccessPremium:    "premium",
	AccessAdmin:      "admin",
}

// String возвращает каноническое строковое имя уровня.
func (l AccessLevel) String() string {
	if name, ok := accessLevelNames[l]; ok {
		return name
	}
	return "public"
}

// IsValid проверяет, что значение находится в допустимом диапазоне.
func (l AccessLevel) IsValid() bool {
	_, ok := accessLevelNames[l]
	return ok
}

// ParseAccessLevel преобразует строку backend в AccessLevel.
// Функция тотальна: регистр игнорируется, любое нераспознанное значение
// маппится в AccessPublic с warning в лог — неизвестный уровень НЕ должен
// молча превращаться в самый привилегированный.
func ParseAccessLevel(s string, logger *slog.Logger) AccessLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public", "":
		return AccessPublic
	case "registered":
		return AccessRegistered
	case "premium":
		return AccessPremium
	case "admin":
		return AccessAdmin
	default:
		if logger != nil {
			logger.Warn("Неизвестный уровень доступа, используется public",
				slog.String("access_level", s),
			)
		}
		return AccessPublic
	}
}

// Collection — сборник песен из реестра collection_registry.
type Collection struct {
	// ID — стабильный строковый идентификатор сборника (например, "LPMI", "SRD")
	ID string
	// Name — отображаемое имя сборника
	Name string
	// Description — описание сборника (опционально)
	Description *string
	// AccessLevel — уровень доступа к содержимому сборника
	AccessLevel AccessLevel
	// Category — классификационный тег (traditional, modern, seasonal, ...)
	Category string
	// SongCount — закэшированная мощность множества песен.
	// Расхождение с фактическим составом — data-integrity warning, не ошибка.
	SongCount int
	// IsActive — флаг soft delete; неактивные сборники не резолвятся никому
	IsActive bool
	// SortOrder — порядок отображения (tie-break — лексикографически по ID)
	SortOrder int
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего изменения; продвигается при каждой мутации
	UpdatedAt time.Time
}

// SongRef — ссылка на песню в составе сборника.
// Номер песни уникален внутри сборника.
type SongRef struct {
	// CollectionID — идентификатор сборника
	CollectionID string
	// Number — номер песни в сборнике
	Number string
	// Title — название песни
	Title string
	// Position — позиция в порядке отображения
	Position int
}

// UserCapabilities — эффективные права вызывающего, вычисленные один раз
// на запрос. Поставляется внешним identity/subscription провайдером
// (JWT middleware) без сетевых обращений на hot path.
type UserCapabilities struct {
	// IsAuthenticated — есть аутентифицированная сессия (в т.ч. анонимная)
	IsAuthenticated bool
	// IsRegistered — аутентифицирован неанонимной учётной записью
	IsRegistered bool
	// IsPremium — действует premium-подписка или trial
	IsPremium bool
	// IsAdmin — администратор
	IsAdmin bool
	// IsSuperAdmin — суперадминистратор (подразумевает IsAdmin)
	IsSuperAdmin bool
}

// HasAdmin возвращает true для администратора любого уровня.
func (c UserCapabilities) HasAdmin() bool {
	return c.IsAdmin || c.IsSuperAdmin
}

// Signature — каноническая свёртка UserCapabilities в один из ровно
// четырёх ключей кэша. Доступ зависит только от наивысшего
// удовлетворённого уровня, поэтому кардинальность кэша — 4 независимо
// от количества пользователей.
type Signature = AccessLevel

// SignatureOf возвращает наивысший уровень, который удовлетворяют
// возможности пользователя. Детерминированная свёртка для ключа кэша.
func SignatureOf(caps UserCapabilities) Signature {
	switch {
	case caps.HasAdmin():
		return AccessAdmin
	case caps.IsPremium:
		return AccessPremium
	case caps.IsRegistered:
		return AccessRegistered
	default:
		return AccessPublic
	}
}

// AllSignatures — все канонические сигнатуры в порядке возрастания.
func AllSignatures() []Signature {
	return []Signature{AccessPublic, AccessRegistered, AccessPremium, AccessAdmin}
}

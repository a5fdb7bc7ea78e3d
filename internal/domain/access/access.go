// Пакет access — чистая логика контроля доступа к сборникам.
// Маппит (уровень доступа сборника, возможности пользователя) в решение
// Granted / PreviewOnly / Denied. Без состояния, без сети, без кэша —
// вызывается из resolver для каждого сборника и тестируется изолированно.
package access

import "github.com/bigkaa/songbook/collection-module/internal/domain/model"

// Decision — исход проверки доступа.
// Порядок значим: Denied < PreviewOnly < Granted. Монотонность политики
// означает, что расширение возможностей никогда не уменьшает Decision.
type Decision int

const (
	// Denied — сборник не должен появляться ни в одном списке.
	Denied Decision = iota
	// PreviewOnly — метаданные (имя, описание, количество песен) видны,
	// состав песен не возвращается.
	PreviewOnly
	// Granted — полный доступ к сборнику и его песням.
	Granted
)

// String возвращает строковое имя решения (для API и логов).
func (d Decision) String() string {
	switch d {
	case Granted:
		return "granted"
	case PreviewOnly:
		return "preview"
	default:
		return "denied"
	}
}

// Decide вычисляет решение о доступе к сборнику уровня level для
// возможностей caps. Правила в порядке приоритета, первое совпадение:
//  1. Public — Granted безусловно.
//  2. Registered — Granted для registered/premium/admin, иначе PreviewOnly.
//  3. Premium — Granted для premium/admin, иначе PreviewOnly.
//  4. Admin — Granted только для admin, иначе Denied: admin-контент
//     невидим, а не «дразнится» preview.
func Decide(level model.AccessLevel, caps model.UserCapabilities) Decision {
	switch level {
	case model.AccessPublic:
		return Granted
	case model.AccessRegistered:
		if caps.IsRegistered || caps.IsPremium || caps.HasAdmin() {
			return Granted
		}
		return PreviewOnly
	case model.AccessPremium:
		if caps.IsPremium || caps.HasAdmin() {
			return Granted
		}
		return PreviewOnly
	case model.AccessAdmin:
		if caps.HasAdmin() {
			return Granted
		}
		return Denied
	default:
		// Недостижимо при тотальном ParseAccessLevel, но политика обязана
		// быть тотальной сама по себе.
		return Denied
	}
}

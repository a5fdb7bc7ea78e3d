package access

import (
	"testing"

	"github.com/bigkaa/songbook/collection-module/internal/domain/model"
)

// TestDecide_Rules проверяет таблицу правил §прав доступа по уровням.
func TestDecide_Rules(t *testing.T) {
	guest := model.UserCapabilities{}
	anonymous := model.UserCapabilities{IsAuthenticated: true}
	registered := model.UserCapabilities{IsAuthenticated: true, IsRegistered: true}
	premium := model.UserCapabilities{IsAuthenticated: true, IsRegistered: true, IsPremium: true}
	admin := model.UserCapabilities{IsAuthenticated: true, IsRegistered: true, IsAdmin: true}
	superAdmin := model.UserCapabilities{IsAuthenticated: true, IsRegistered: true, IsSuperAdmin: true}

	tests := []struct {
		name  string
		level model.AccessLevel
		caps  model.UserCapabilities
		want  Decision
	}{
		{"public для гостя", model.AccessPublic, guest, Granted},
		{"public для анонимной сессии", model.AccessPublic, anonymous, Granted},
		{"public для админа", model.AccessPublic, admin, Granted},
		{"registered для гостя — preview", model.AccessRegistered, guest, PreviewOnly},
		{"registered для анонимной сессии — preview", model.AccessRegistered, anonymous, PreviewOnly},
		{"registered для зарегистрированного", model.AccessRegistered, registered, Granted},
		{"registered для premium", model.AccessRegistered, premium, Granted},
		{"premium для гостя — preview", model.AccessPremium, guest, PreviewOnly},
		{"premium для зарегистрированного — preview", model.AccessPremium, registered, PreviewOnly},
		{"premium для premium", model.AccessPremium, premium, Granted},
		{"premium для админа без подписки", model.AccessPremium, admin, Granted},
		{"admin для гостя — denied, не preview", model.AccessAdmin, guest, Denied},
		{"admin для premium — denied", model.AccessAdmin, premium, Denied},
		{"admin для админа", model.AccessAdmin, admin, Granted},
		{"admin для суперадмина", model.AccessAdmin, superAdmin, Granted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.level, tt.caps)
			if got != tt.want {
				t.Errorf("Decide(%v, %+v) = %v, ожидался %v", tt.level, tt.caps, got, tt.want)
			}
		})
	}
}

// allCapabilities перечисляет все 32 комбинации булевого кортежа возможностей.
func allCapabilities() []model.UserCapabilities {
	var caps []model.UserCapabilities
	for i := 0; i < 32; i++ {
		caps = append(caps, model.UserCapabilities{
			IsAuthenticated: i&1 != 0,
			IsRegistered:    i&2 != 0,
			IsPremium:       i&4 != 0,
			IsAdmin:         i&8 != 0,
			IsSuperAdmin:    i&16 != 0,
		})
	}
	return caps
}

// covers проверяет, что a покрывает b (a ⊇ b покомпонентно).
func covers(a, b model.UserCapabilities) bool {
	implies := func(x, y bool) bool { return !y || x }
	return implies(a.IsAuthenticated, b.IsAuthenticated) &&
		implies(a.IsRegistered, b.IsRegistered) &&
		implies(a.IsPremium, b.IsPremium) &&
		implies(a.HasAdmin(), b.HasAdmin())
}

// TestDecide_Monotonicity — свойство монотонности: для любых caps2 ⊇ caps1
// решение для caps2 никогда не строже решения для caps1
// (по порядку Denied < PreviewOnly < Granted), для всех уровней.
func TestDecide_Monotonicity(t *testing.T) {
	levels := []model.AccessLevel{
		model.AccessPublic, model.AccessRegistered, model.AccessPremium, model.AccessAdmin,
	}
	caps := allCapabilities()

	for _, level := range levels {
		for _, weaker := range caps {
			for _, stronger := range caps {
				if !covers(stronger, weaker) {
					continue
				}
				dw := Decide(level, weaker)
				ds := Decide(level, stronger)
				if ds < dw {
					t.Errorf("нарушение монотонности: уровень %v, %+v → %v, но %+v → %v",
						level, weaker, dw, stronger, ds)
				}
			}
		}
	}
}

// TestDecide_AdminSeesEverything — админ получает Granted для любого уровня.
func TestDecide_AdminSeesEverything(t *testing.T) {
	admin := model.UserCapabilities{IsAdmin: true}
	for _, level := range []model.AccessLevel{
		model.AccessPublic, model.AccessRegistered, model.AccessPremium, model.AccessAdmin,
	} {
		if got := Decide(level, admin); got != Granted {
			t.Errorf("Decide(%v, admin) = %v, ожидался Granted", level, got)
		}
	}
}

// TestDecide_SuperAdminImpliesAdmin — суперадмин не слабее админа.
func TestDecide_SuperAdminImpliesAdmin(t *testing.T) {
	sa := model.UserCapabilities{IsSuperAdmin: true}
	admin := model.UserCapabilities{IsAdmin: true}
	for _, level := range []model.AccessLevel{
		model.AccessPublic, model.AccessRegistered, model.AccessPremium, model.AccessAdmin,
	} {
		if Decide(level, sa) != Decide(level, admin) {
			t.Errorf("уровень %v: решение для суперадмина отличается от админа", level)
		}
	}
}

// TestDecision_String проверяет строковые имена решений.
func TestDecision_String(t *testing.T) {
	if Granted.String() != "granted" || PreviewOnly.String() != "preview" || Denied.String() != "denied" {
		t.Error("неверные строковые имена Decision")
	}
}

// auth.go — JWT middleware аутентификации Collection Module.
// Извлекает claims из Keycloak JWT и сводит их к набору возможностей
// пользователя (model.UserCapabilities). В отличие от классического RBAC,
// анонимный запрос — не ошибка: запросы без токена проходят дальше с
// пустыми возможностями и видят только public-контент.
// Fallback-валидация подписи через JWKS Keycloak (основная — на API Gateway).
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/songbook/collection-module/internal/api/errors"
	"github.com/bigkaa/songbook/collection-module/internal/domain/model"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyCaps — возможности пользователя в контексте запроса.
	ContextKeyCaps contextKey = "user_capabilities"
)

// keycloakClaims — raw claims из Keycloak JWT для парсинга.
type keycloakClaims struct {
	jwt.RegisteredClaims
	// PreferredUsername — имя пользователя.
	PreferredUsername string `json:"preferred_username"`
	// Email — электронная почта.
	Email string `json:"email"`
	// EmailVerified — подтверждён ли email (регистрация завершена).
	EmailVerified bool `json:"email_verified"`
	// Groups — группы пользователя.
	Groups []string `json:"groups,omitempty"`
}

// JWTAuth — middleware для JWT-аутентификации через JWKS Keycloak.
type JWTAuth struct {
	jwks             keyfunc.Keyfunc
	logger           *slog.Logger
	premiumGroups    []string
	adminGroups      []string
	superadminGroups []string
	issuer           string
	jwtLeeway        time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS из Keycloak.
// jwksURL — URL к JWKS endpoint Keycloak.
// caCertPath — опциональный путь к CA-сертификату для TLS.
// issuer — ожидаемый issuer JWT (может быть пустым — issuer не проверяется).
// premiumGroups, adminGroups, superadminGroups — группы для маппинга в возможности.
// jwksClientTimeout — таймаут HTTP-клиента JWKS.
// jwksRefreshInterval — интервал обновления JWKS-ключей.
// jwtLeeway — допустимое отклонение времени при проверке JWT.
func NewJWTAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	premiumGroups, adminGroups, superadminGroups []string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	// HTTP-клиент для JWKS (с кастомным CA или стандартный)
	httpClient := &http.Client{Timeout: jwksClientTimeout}
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, jwksClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если Keycloak ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:             k,
		logger:           logger.With(slog.String("component", "jwt_auth")),
		premiumGroups:    premiumGroups,
		adminGroups:      adminGroups,
		superadminGroups: superadminGroups,
		issuer:           issuer,
		jwtLeeway:        jwtLeeway,
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с готовым keyfunc.
// Используется в тестах, где JWKS-ключи генерируются локально.
func NewJWTAuthWithKeyfunc(
	kf keyfunc.Keyfunc,
	issuer string,
	premiumGroups, adminGroups, superadminGroups []string,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		jwks:             kf,
		logger:           logger.With(slog.String("component", "jwt_auth")),
		premiumGroups:    premiumGroups,
		adminGroups:      adminGroups,
		superadminGroups: superadminGroups,
		issuer:           issuer,
		jwtLeeway:        time.Minute,
	}
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Запрос без заголовка Authorization проходит дальше как анонимный
// (пустые возможности). Невалидный или просроченный токен — 401:
// протухшая сессия должна быть видна клиенту, а не тихо деградировать
// до анонимного доступа.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				// Анонимный запрос — пустые возможности
				ctx := context.WithValue(r.Context(), ContextKeyCaps, model.UserCapabilities{})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			// Парсинг и валидация JWT через JWKS
			rawClaims := &keycloakClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if !token.Valid {
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			subject, err := rawClaims.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			caps := j.buildCapabilities(rawClaims)
			ctx := context.WithValue(r.Context(), ContextKeyCaps, caps)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildCapabilities сводит raw Keycloak claims к набору возможностей.
// Возможности аддитивны: superadmin подразумевает admin, admin и premium
// подразумевают завершённую регистрацию.
func (j *JWTAuth) buildCapabilities(raw *keycloakClaims) model.UserCapabilities {
	caps := model.UserCapabilities{
		IsAuthenticated: true,
		// Регистрация считается завершённой при подтверждённом email
		IsRegistered: raw.EmailVerified,
	}

	premiumSet := toSet(j.premiumGroups)
	adminSet := toSet(j.adminGroups)
	superadminSet := toSet(j.superadminGroups)

	for _, g := range raw.Groups {
		if premiumSet[g] {
			caps.IsPremium = true
		}
		if adminSet[g] {
			caps.IsAdmin = true
		}
		if superadminSet[g] {
			caps.IsSuperAdmin = true
		}
	}

	// Привилегированные возможности подразумевают регистрацию
	if caps.IsPremium || caps.IsAdmin || caps.IsSuperAdmin {
		caps.IsRegistered = true
	}

	return caps
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}

// --- Авторизационные middleware ---

// RequireAdmin возвращает middleware, пропускающий только администраторов.
// Анонимный запрос — 401, аутентифицированный без admin-возможности — 403.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caps := CapsFromContext(r.Context())
			if !caps.IsAuthenticated {
				apierrors.Unauthorized(w, "Требуется аутентификация")
				return
			}
			if !caps.HasAdmin() {
				apierrors.Forbidden(w, "Недостаточно прав: требуется административный доступ")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Context helpers ---

// CapsFromContext извлекает возможности пользователя из контекста запроса.
// Отсутствие значения трактуется как анонимный запрос (пустые возможности).
func CapsFromContext(ctx context.Context) model.UserCapabilities {
	caps, _ := ctx.Value(ContextKeyCaps).(model.UserCapabilities)
	return caps
}

// --- ReadinessChecker для Keycloak ---

// KeycloakReadinessChecker — проверка доступности Keycloak через JWKS.
type KeycloakReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewKeycloakReadinessChecker создаёт checker доступности Keycloak.
func NewKeycloakReadinessChecker(jwksURL, caCertPath string, readinessTimeout time.Duration) (*KeycloakReadinessChecker, error) {
	client := &http.Client{Timeout: readinessTimeout}
	if caCertPath != "" {
		var err error
		client, err = httpClientWithCA(caCertPath, readinessTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA для readiness checker: %w", err)
		}
	}

	return &KeycloakReadinessChecker{
		jwksURL: jwksURL,
		client:  client,
	}, nil
}

const statusFail = "fail"

// CheckReady проверяет доступность JWKS endpoint Keycloak.
func (k *KeycloakReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // G704: URL из конфигурации Keycloak
	if err != nil {
		return statusFail, fmt.Sprintf("Keycloak JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("Keycloak JWKS вернул статус %d", resp.StatusCode)
	}

	// Проверяем, что ответ — валидный JSON с ключами
	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("Keycloak JWKS: невалидный JSON: %v", err)
	}

	if len(jwksResp.Keys) == 0 {
		return "degraded", "Keycloak JWKS: нет ключей"
	}

	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}

// Close освобождает ресурсы JWT middleware.
func (j *JWTAuth) Close() {
	// keyfunc v3 не требует явного закрытия
}

// Пакет config — загрузка и валидация конфигурации Collection Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Collection Module.
//
// Режим store определяется CM_BACKEND_URL: если задан — авторитетные данные
// у удалённого songbook backend (мутации недоступны), иначе — локальный
// реестр PostgreSQL (CM_DB_* обязательны).
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8050-8059)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL (режим локального реестра) ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Пользователь БД
	DBUser string
	// Пароль пользователя БД
	DBPassword string
	// Режим SSL (disable, require, verify-ca, verify-full)
	DBSSLMode string

	// --- Songbook backend (режим удалённого store) ---

	// URL songbook backend; пустая строка — режим локального реестра
	BackendURL string
	// Таймаут запросов к backend (по умолчанию 8s)
	BackendTimeout time.Duration
	// Статический сервисный Bearer token для backend
	BackendToken string
	// Путь к CA-сертификату backend (пустая строка — стандартный пул)
	BackendCACert string

	// --- Кэш ---

	// TTL записей кэша резолва (по умолчанию 5m)
	CacheTTL time.Duration
	// Максимальное количество сборников в кэше песен (по умолчанию 256)
	SongCacheSize int
	// TTL кэша песен (по умолчанию 5m)
	SongCacheTTL time.Duration

	// --- Аутентификация (Keycloak JWKS) ---

	// URL JWKS endpoint; пустая строка — аутентификация выключена,
	// все запросы анонимные
	JWKSURL string
	// Путь к CA-сертификату Keycloak
	JWKSCACert string
	// Таймаут HTTP-клиента JWKS (по умолчанию 10s)
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей (по умолчанию 1h)
	JWKSRefreshInterval time.Duration
	// Ожидаемый issuer JWT (пустая строка — issuer не проверяется)
	JWTIssuer string
	// Допустимое отклонение времени при проверке JWT (по умолчанию 1m)
	JWTLeeway time.Duration
	// Группы Keycloak, дающие premium-возможность
	PremiumGroups []string
	// Группы Keycloak, дающие admin-возможность
	AdminGroups []string
	// Группы Keycloak, дающие superadmin-возможность
	SuperadminGroups []string

	// --- Dephealth ---

	// Включение мониторинга зависимостей topologymetrics
	DephealthEnabled bool
	// Имя группы в метриках dephealth
	DephealthGroup string
	// Интервал проверки зависимостей (по умолчанию 15s)
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CM_PORT — порт HTTP-сервера (по умолчанию 8050)
	cfg.Port, err = getEnvInt("CM_PORT", 8050)
	if err != nil {
		return nil, fmt.Errorf("CM_PORT: %w", err)
	}

	// CM_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("CM_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("CM_LOG_LEVEL: %w", err)
	}

	// CM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("CM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	// CM_HTTP_READ_TIMEOUT — таймаут чтения (по умолчанию 30s)
	cfg.HTTPReadTimeout, err = getEnvDuration("CM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_HTTP_READ_TIMEOUT: %w", err)
	}

	// CM_HTTP_WRITE_TIMEOUT — таймаут записи (по умолчанию 60s)
	cfg.HTTPWriteTimeout, err = getEnvDuration("CM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_HTTP_WRITE_TIMEOUT: %w", err)
	}

	// CM_HTTP_IDLE_TIMEOUT — таймаут простоя (по умолчанию 120s)
	cfg.HTTPIdleTimeout, err = getEnvDuration("CM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	// CM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("CM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Songbook backend ---

	// CM_BACKEND_URL — URL backend (пустая строка — локальный реестр)
	cfg.BackendURL = os.Getenv("CM_BACKEND_URL")

	// CM_BACKEND_TIMEOUT — таймаут запросов к backend (по умолчанию 8s)
	cfg.BackendTimeout, err = getEnvDuration("CM_BACKEND_TIMEOUT", 8*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_BACKEND_TIMEOUT: %w", err)
	}

	// CM_BACKEND_TOKEN — сервисный Bearer token
	cfg.BackendToken = os.Getenv("CM_BACKEND_TOKEN")

	// CM_BACKEND_CA_CERT — CA-сертификат backend
	cfg.BackendCACert = os.Getenv("CM_BACKEND_CA_CERT")

	// --- PostgreSQL (обязателен только без CM_BACKEND_URL) ---

	if cfg.BackendURL == "" {
		// CM_DB_HOST — обязательный
		cfg.DBHost, err = getEnvRequired("CM_DB_HOST")
		if err != nil {
			return nil, err
		}

		// CM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
		cfg.DBPort, err = getEnvInt("CM_DB_PORT", 5432)
		if err != nil {
			return nil, fmt.Errorf("CM_DB_PORT: %w", err)
		}

		// CM_DB_NAME — обязательный
		cfg.DBName, err = getEnvRequired("CM_DB_NAME")
		if err != nil {
			return nil, err
		}

		// CM_DB_USER — обязательный
		cfg.DBUser, err = getEnvRequired("CM_DB_USER")
		if err != nil {
			return nil, err
		}

		// CM_DB_PASSWORD — обязательный
		cfg.DBPassword, err = getEnvRequired("CM_DB_PASSWORD")
		if err != nil {
			return nil, err
		}

		// CM_DB_SSL_MODE — режим SSL (по умолчанию disable)
		cfg.DBSSLMode = getEnvDefault("CM_DB_SSL_MODE", "disable")
		validSSLModes := map[string]bool{
			"disable": true, "require": true, "verify-ca": true, "verify-full": true,
		}
		if !validSSLModes[cfg.DBSSLMode] {
			return nil, fmt.Errorf("CM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
		}
	}

	// --- Кэш ---

	// CM_CACHE_TTL — TTL кэша резолва (по умолчанию 5m)
	cfg.CacheTTL, err = getEnvDuration("CM_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CM_CACHE_TTL: %w", err)
	}
	if cfg.CacheTTL <= 0 {
		return nil, fmt.Errorf("CM_CACHE_TTL: значение должно быть > 0")
	}

	// CM_SONG_CACHE_SIZE — размер кэша песен (по умолчанию 256)
	cfg.SongCacheSize, err = getEnvInt("CM_SONG_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("CM_SONG_CACHE_SIZE: %w", err)
	}
	if cfg.SongCacheSize < 1 {
		return nil, fmt.Errorf("CM_SONG_CACHE_SIZE: значение должно быть >= 1")
	}

	// CM_SONG_CACHE_TTL — TTL кэша песен (по умолчанию равен CM_CACHE_TTL)
	cfg.SongCacheTTL, err = getEnvDuration("CM_SONG_CACHE_TTL", cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("CM_SONG_CACHE_TTL: %w", err)
	}

	// --- Аутентификация ---

	// CM_JWKS_URL — URL JWKS endpoint (пустая строка — аутентификация выключена)
	cfg.JWKSURL = os.Getenv("CM_JWKS_URL")

	// CM_JWKS_CA_CERT — CA-сертификат Keycloak
	cfg.JWKSCACert = os.Getenv("CM_JWKS_CA_CERT")

	// CM_JWKS_CLIENT_TIMEOUT — таймаут HTTP-клиента JWKS (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = getEnvDuration("CM_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// CM_JWKS_REFRESH_INTERVAL — интервал обновления JWKS-ключей (по умолчанию 1h)
	cfg.JWKSRefreshInterval, err = getEnvDuration("CM_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("CM_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// CM_JWT_ISSUER — ожидаемый issuer JWT
	cfg.JWTIssuer = os.Getenv("CM_JWT_ISSUER")

	// CM_JWT_LEEWAY — допустимое отклонение времени (по умолчанию 1m)
	cfg.JWTLeeway, err = getEnvDuration("CM_JWT_LEEWAY", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CM_JWT_LEEWAY: %w", err)
	}

	// CM_PREMIUM_GROUPS — группы premium (по умолчанию "songbook-premium")
	cfg.PremiumGroups = parseCSV(getEnvDefault("CM_PREMIUM_GROUPS", "songbook-premium"))

	// CM_ADMIN_GROUPS — группы admin (по умолчанию "songbook-admins")
	cfg.AdminGroups = parseCSV(getEnvDefault("CM_ADMIN_GROUPS", "songbook-admins"))

	// CM_SUPERADMIN_GROUPS — группы superadmin (по умолчанию "songbook-superadmins")
	cfg.SuperadminGroups = parseCSV(getEnvDefault("CM_SUPERADMIN_GROUPS", "songbook-superadmins"))

	// --- Dephealth ---

	// CM_DEPHEALTH_ENABLED — мониторинг зависимостей (по умолчанию true)
	cfg.DephealthEnabled, err = getEnvBool("CM_DEPHEALTH_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("CM_DEPHEALTH_ENABLED: %w", err)
	}

	// CM_DEPHEALTH_GROUP — группа в метриках (по умолчанию "songbook")
	cfg.DephealthGroup = getEnvDefault("CM_DEPHEALTH_GROUP", "songbook")

	// CM_DEPHEALTH_CHECK_INTERVAL — интервал проверки (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("CM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// RemoteMode сообщает, работает ли модуль поверх удалённого backend.
func (c *Config) RemoteMode() bool {
	return c.BackendURL != ""
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL.
// Используется topologymetrics для извлечения host/port зависимости.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// Точка входа Collection Module — подсистема контроля доступа и
// кэширования сборников песенника.
// Загружает конфигурацию, выбирает источник данных (локальный реестр
// PostgreSQL или удалённый songbook backend), создаёт кэши, resolver
// и notifier, запускает мониторинг зависимостей (topologymetrics),
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/songbook/collection-module/internal/api/handlers"
	"github.com/bigkaa/songbook/collection-module/internal/api/middleware"
	"github.com/bigkaa/songbook/collection-module/internal/backendclient"
	"github.com/bigkaa/songbook/collection-module/internal/config"
	"github.com/bigkaa/songbook/collection-module/internal/database"
	"github.com/bigkaa/songbook/collection-module/internal/domain/model"
	"github.com/bigkaa/songbook/collection-module/internal/repository"
	"github.com/bigkaa/songbook/collection-module/internal/server"
	"github.com/bigkaa/songbook/collection-module/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Collection Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.Bool("remote_mode", cfg.RemoteMode()),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if cfg.DephealthEnabled && os.Getenv("CM_DEPHEALTH_GROUP") == "" {
		logger.Warn("CM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	ctx := context.Background()
	healthHandler := handlers.NewHealthHandler()

	// 3. Источник данных о сборниках.
	// CM_BACKEND_URL задан — удалённый songbook backend (реестр read-only),
	// иначе — локальный реестр PostgreSQL с миграциями.
	var (
		store        service.CollectionStore
		repo         repository.CollectionRepository // nil в remote-режиме
		dephealthSvc *service.DephealthService
	)

	if cfg.RemoteMode() {
		// 3a. HTTP-клиент songbook backend
		bc, clientErr := backendclient.New(
			cfg.BackendURL,
			cfg.BackendCACert,
			cfg.BackendTimeout,
			cfg.BackendToken,
			logger,
		)
		if clientErr != nil {
			logger.Error("Ошибка создания backend-клиента", slog.String("error", clientErr.Error()))
			os.Exit(1)
		}
		store = service.NewRemoteStore(bc, logger)
		healthHandler.AddChecker("songbook_backend", bc.NewReadinessChecker())
		logger.Info("Режим удалённого store",
			slog.String("backend_url", cfg.BackendURL),
		)

		// 3b. topologymetrics — мониторинг backend как зависимости
		if cfg.DephealthEnabled {
			dephealthSvc, err = service.NewDephealthService(
				"collection-module",
				cfg.DephealthGroup,
				nil, // PostgreSQL в remote-режиме не используется
				"",
				cfg.BackendURL,
				cfg.DephealthCheckInterval,
				logger,
			)
		}
	} else {
		// 3a. Применение миграций БД
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		// 3b. Подключение к PostgreSQL (pgxpool)
		pool, connErr := database.Connect(ctx, cfg, logger)
		if connErr != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", connErr.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		repo = repository.NewCollectionRepository(pool, logger)
		store = service.NewRepositoryStore(repo)
		healthHandler.AddChecker("postgresql", database.NewReadinessChecker(pool))

		// 3c. topologymetrics — connection pool mode через адаптер
		// pgxpool → *sql.DB; проверка здоровья идёт через существующий
		// пул и может обнаружить его исчерпание.
		if cfg.DephealthEnabled {
			sqlDB := stdlib.OpenDBFromPool(pool)
			defer sqlDB.Close()

			dephealthSvc, err = service.NewDephealthService(
				"collection-module",
				cfg.DephealthGroup,
				sqlDB,
				cfg.DatabaseURL(),
				"", // backend в режиме локального реестра не используется
				cfg.DephealthCheckInterval,
				logger,
			)
		}
	}

	// 4. Запуск мониторинга зависимостей
	if cfg.DephealthEnabled {
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			defer dephealthSvc.Stop()
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 5. Кэши, notifier, resolver
	sigCache := service.NewSignatureCache(cfg.CacheTTL)
	songCache := service.NewSongCache(cfg.SongCacheSize, cfg.SongCacheTTL)
	notifier := service.NewChangeNotifier(logger)
	resolver := service.NewResolver(store, sigCache, songCache, notifier, logger)

	// 6. Сервис административных мутаций.
	// В remote-режиме repo == nil — мутации возвращают 409 Conflict.
	adminSvc := service.NewAdminService(repo, resolver, logger)

	// 7. JWT middleware (если задан CM_JWKS_URL).
	// Без него все запросы анонимные, административные endpoints недоступны.
	var jwtAuth *middleware.JWTAuth
	if cfg.JWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(
			cfg.JWKSURL,
			cfg.JWKSCACert,
			cfg.JWTIssuer,
			cfg.PremiumGroups, cfg.AdminGroups, cfg.SuperadminGroups,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer jwtAuth.Close()
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)

		kcChecker, checkerErr := middleware.NewKeycloakReadinessChecker(
			cfg.JWKSURL, cfg.JWKSCACert, cfg.JWKSClientTimeout,
		)
		if checkerErr != nil {
			logger.Error("Ошибка создания Keycloak readiness checker", slog.String("error", checkerErr.Error()))
			os.Exit(1)
		}
		healthHandler.AddChecker("keycloak", kcChecker)
	} else {
		logger.Warn("CM_JWKS_URL не задан, аутентификация выключена: все запросы анонимные")
	}

	// 8. API handlers
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		handlers.NewCollectionsHandler(resolver, logger),
		handlers.NewEventsHandler(resolver, notifier, logger),
		handlers.NewAdminHandler(adminSvc, resolver, logger),
		logger,
	)

	// 9. Middleware: метрики → логирование → JWT (health и metrics без JWT)
	middlewares := []func(http.Handler) http.Handler{
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	}
	if jwtAuth != nil {
		middlewares = append(middlewares,
			server.JWTAuthWithExclusions(jwtAuth.Middleware(), "/health", "/metrics"),
		)
	}

	// 10. Прогрев кэша: публичная сигнатура резолвится в фоне,
	// первый анонимный запрос получает ответ из кэша
	resolver.RefreshInBackground(model.UserCapabilities{})

	// 11. Запуск сервера (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, apiHandler, middlewares...)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Collection Module остановлен")
}

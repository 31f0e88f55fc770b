package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/shenikar/emergency_response_system/internal/config"
	v1 "github.com/shenikar/emergency_response_system/internal/handler/http/v1"
	"github.com/shenikar/emergency_response_system/internal/repository"
	"github.com/shenikar/emergency_response_system/internal/service"
	"github.com/shenikar/emergency_response_system/internal/webhook"
	"github.com/shenikar/emergency_response_system/pkg/logger"
	"github.com/shenikar/emergency_response_system/pkg/postgres"
	redisclient "github.com/shenikar/emergency_response_system/pkg/redis"
	"github.com/sirupsen/logrus"

	_ "github.com/shenikar/emergency_response_system/docs"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title Emergency Response System API
// @version 1.0
// @description SOS alerts, nearest facility matching and incident lifecycle for hospital staff.
// @host localhost:8080
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func runMigrations(cfg *config.Config, log *logrus.Entry) error {
	log.Info("Running database migrations...")

	migrationURL := cfg.DatabaseURL
	if !strings.HasPrefix(migrationURL, "pgx5://") {
		migrationURL = strings.Replace(migrationURL, "postgres://", "pgx5://", 1)
		migrationURL = strings.Replace(migrationURL, "postgresql://", "pgx5://", 1)
	}

	m, err := migrate.New(cfg.MigrationsPath, migrationURL)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Database migrations applied successfully")
	return nil
}

func main() {
	// Загрузка конфигурации
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	log := logger.New(cfg.LogLevel)
	appLog := logger.ForComponent(log, "api")

	// Контекст для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Запуск миграций
	if err := runMigrations(cfg, appLog); err != nil {
		appLog.Fatalf("Failed to run database migrations: %v", err)
	}

	// Подключение к PostgreSQL
	dbpool, err := postgres.NewPostgresDB(ctx, cfg)
	if err != nil {
		appLog.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer dbpool.Close()
	appLog.Info("Successfully connected to PostgreSQL")

	// Инициализация Redis клиента
	redisClient, err := redisclient.NewRedisClient(ctx, cfg)
	if err != nil {
		appLog.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	appLog.Info("Successfully connected to Redis")

	// Инициализация издателя вебхуков; без WEBHOOK_URL события не ставятся в очередь
	webhookPublisher := webhook.NewPublisher(redisClient, cfg)

	// Воркер доставляет события жизненного цикла, если задан WEBHOOK_URL
	if cfg.WebhookURL != "" {
		webhookWorker := webhook.NewWebhookWorker(redisClient, log, cfg)
		webhookWorker.Start(ctx)
	} else {
		appLog.Warn("WEBHOOK_URL is not set, lifecycle events are discarded")
	}

	// Инициализация репозиториев
	incidentRepo := repository.NewIncidentRepository(dbpool, redisClient, cfg.IncidentCacheTTL)
	facilityRepo := repository.NewFacilityRepository(dbpool)
	profileRepo := repository.NewProfileRepository(dbpool)
	userRepo := repository.NewUserRepository(dbpool)

	// Инициализация сервисов
	facilityService := service.NewFacilityService(facilityRepo, log, cfg)
	profileService := service.NewProfileService(profileRepo, log)
	authService := service.NewAuthService(userRepo, log, cfg)
	incidentService := service.NewIncidentService(incidentRepo, facilityService, profileRepo, webhookPublisher, log, cfg)

	// Инициализация хэндлеров
	handler := v1.NewHandler(incidentService, facilityService, profileService, authService, log, cfg)

	// Настройка Gin роутера
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)

	// Добавление маршрута для Swagger UI
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Запуск HTTP-сервера
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Запуск сервера в горутине
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatalf("Error starting HTTP server: %v", err)
		}
	}()
	appLog.WithField("match_strategy", cfg.MatchStrategy).Infof("HTTP server started on port %s", cfg.HTTPPort)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Received shutdown signal, shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Fatalf("Server forced to shutdown: %v", err)
	}
	cancel()

	appLog.Info("Server gracefully stopped")
}

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"restoerp/server/internal/api"
	"restoerp/server/internal/config"
	"restoerp/server/internal/database"
	"restoerp/server/internal/logger"
	"restoerp/server/internal/models"
	"restoerp/server/internal/services"
	"restoerp/server/internal/utils"
)

func main() {
	// Загружаем переменные окружения из .env файла (если существует)
	// Игнорируем ошибку, если файл не найден (для production окружений)
	envErr := godotenv.Load()

	cfg := config.Load()
	log := logger.MustInit(cfg.Environment, cfg.LogLevel)
	defer log.Sync()
	sugar := log.Sugar()

	if envErr != nil {
		sugar.Info("ℹ️ .env файл не найден, используем переменные окружения системы")
	} else {
		sugar.Info("✅ Переменные окружения загружены из .env файла")
	}
	sugar.Infof("📋 DATABASE_URL установлен: %s", maskURL(cfg.DatabaseURL))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Подключение к PostgreSQL
	db, err := database.ConnectPostgres(database.PostgresOptions{
		URL:             cfg.DatabaseURL,
		Debug:           !cfg.IsProduction() && cfg.LogLevel == "debug",
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		sugar.Fatalf("❌ PostgreSQL connection failed: %v", err)
	}
	defer database.ClosePostgres(db)

	if err := models.AutoMigrate(db); err != nil {
		sugar.Fatalf("❌ Migration failed: %v", err)
	}

	// Граф конвертаций: Redis, если он доступен, иначе память процесса
	var graphCache services.ConversionGraphCache
	redisClient, err := database.ConnectRedis(database.RedisOptions{
		URL:           cfg.RedisURL,
		SentinelAddrs: cfg.RedisSentinelAddrs,
		MasterName:    cfg.RedisMasterName,
		PoolSize:      cfg.RedisPoolSize,
	})
	if err != nil {
		sugar.Warnf("⚠️ Redis connection failed: %v (continuing without Redis)", err)
	} else {
		defer database.CloseRedis(redisClient)
		if cfg.UseRedisGraphCache {
			graphCache = services.NewRedisGraphCache(utils.NewRedisClient(redisClient), cfg.UomGraphCacheTTL)
			sugar.Info("✅ Граф конвертаций хранится в Redis")
		}
	}

	// Публикаторы событий: WebSocket всегда, Kafka при наличии брокеров
	hub := api.NewHub()
	go hub.Run(ctx)
	publishers := services.MultiPublisher{api.NewHubPublisher(hub)}

	if brokers := api.ParseKafkaBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		dialer := api.CreateKafkaDialer(cfg.KafkaUsername, cfg.KafkaPassword, cfg.KafkaCACert)
		topicCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if err := api.EnsureKafkaTopic(topicCtx, dialer, brokers, cfg.InventoryEventsTopic); err != nil {
			sugar.Warnf("⚠️ Не удалось проверить топик %s: %v", cfg.InventoryEventsTopic, err)
		}
		cancel()

		transport := api.CreateKafkaTransport(cfg.KafkaUsername, cfg.KafkaPassword, cfg.KafkaCACert)
		kafkaPublisher := api.NewKafkaPublisher(brokers, cfg.InventoryEventsTopic, cfg.KafkaEventFormat, transport)
		defer kafkaPublisher.Close()
		publishers = append(publishers, kafkaPublisher)
	} else {
		sugar.Warn("⚠️ KAFKA_BROKERS не установлен, события уходят только в WebSocket")
	}

	inventory := services.NewInventory(db, graphCache, publishers, sugar)

	if cfg.ReconcileInterval > 0 {
		go runReconcileLoop(ctx, inventory.Stock, cfg.ReconcileInterval, cfg.ReconcileRepair, sugar)
	}

	// gRPC health check для оркестратора
	healthServer := api.NewHealthServer(db)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		sugar.Fatalf("failed to listen gRPC: %v", err)
	}
	go func() {
		if err := healthServer.Serve(lis); err != nil {
			sugar.Errorf("❌ gRPC server stopped: %v", err)
		}
	}()
	go healthServer.Watch(ctx, 15*time.Second)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestLogger(sugar), api.CORS())
	api.RegisterRoutes(r, db, inventory, hub)

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		sugar.Infof("🚀 Server starting on port %s", cfg.ServerPort)
		sugar.Infof("📡 API доступен на http://0.0.0.0:%s/api/v1", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("🛑 Остановка сервера...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorf("❌ HTTP shutdown: %v", err)
	}
	healthServer.Stop()
	sugar.Info("✅ Сервер остановлен")
}

// runReconcileLoop периодически сверяет остатки всех тенантов
func runReconcileLoop(ctx context.Context, stock *services.StockService, interval time.Duration, repair bool, log *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Infof("🔁 Сверка остатков каждые %v (repair=%v)", interval, repair)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drifts, err := stock.ReconcileAll(ctx, repair)
			if err != nil {
				log.Errorf("❌ Ошибка сверки остатков: %v", err)
				continue
			}
			if drifts > 0 {
				log.Warnf("⚠️ Найдено расхождений остатков: %d", drifts)
			}
		}
	}
}

// maskURL скрывает логин и пароль в строке подключения
func maskURL(raw string) string {
	idx := strings.LastIndex(raw, "@")
	schemeIdx := strings.Index(raw, "://")
	if idx > 0 && schemeIdx > 0 && schemeIdx < idx {
		return raw[:schemeIdx+3] + "***@" + raw[idx+1:]
	}
	return raw
}

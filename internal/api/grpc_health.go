package api

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"gorm.io/gorm"
)

// Имя сервиса в grpc.health.v1
const InventoryServiceName = "restoerp.inventory"

// HealthServer отдает статус сервиса по gRPC и следит за доступностью БД
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	db     *gorm.DB
}

// NewHealthServer регистрирует grpc.health.v1 и reflection на новом gRPC сервере
func NewHealthServer(db *gorm.DB) *HealthServer {
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	hs := &HealthServer{server: grpcServer, health: healthServer, db: db}
	hs.refresh(context.Background())
	return hs
}

// Serve принимает соединения до вызова Stop
func (hs *HealthServer) Serve(lis net.Listener) error {
	zap.S().Infof("📡 gRPC health server слушает %s", lis.Addr())
	return hs.server.Serve(lis)
}

// Watch периодически проверяет БД и обновляет статус
func (hs *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hs.refresh(ctx)
		}
	}
}

func (hs *HealthServer) refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := pingDB(ctx, hs.db); err != nil {
		zap.S().Warnf("⚠️ БД недоступна: %v", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.health.SetServingStatus("", status)
	hs.health.SetServingStatus(InventoryServiceName, status)
}

// Stop переводит сервис в NOT_SERVING и останавливает сервер
func (hs *HealthServer) Stop() {
	hs.health.Shutdown()
	hs.server.GracefulStop()
}

func pingDB(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errDatabaseUnavailable
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

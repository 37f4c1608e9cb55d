package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"monat/internal/pkg/bootstrap"
	"monat/internal/pkg/logger"
	"monat/internal/pkg/redis"
	"monat/internal/pkg/resilience"
	"monat/internal/pkg/zookeeper"
	"monat/internal/service/inventory/application"
	"monat/internal/service/inventory/infrastructure"
	"monat/internal/service/inventory/interfaces"
)

const (
	serviceName = "inventory-service"
	servicePort = 8082
)

func main() {
	var (
		sweeper   *application.ExpirySweeper
		zkServers []string
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			cfg := appCtx.Config

			db, err := gorm.Open(mysql.Open(cfg.Infra.MySQL.DSN), &gorm.Config{})
			if err != nil {
				logger.Logger.Fatal().Err(err).Msg("failed to connect mysql")
			}
			if err := db.AutoMigrate(&infrastructure.InventoryModel{}, &infrastructure.ReservationModel{}); err != nil {
				logger.Logger.Fatal().Err(err).Msg("failed to migrate schema")
			}

			rdb, err := redis.NewClient(cfg.Infra.Redis.Addr)
			if err != nil {
				logger.Logger.Fatal().Err(err).Msg("failed to connect redis")
			}

			invRepo := infrastructure.NewGormInventoryRepository(db)
			resRepo := infrastructure.NewGormReservationRepository(db)
			cache := infrastructure.NewRedisStockCache(rdb)

			retry := resilience.RetryPolicy{
				MaxAttempts: cfg.App.OptimisticRetry.MaxAttempts,
				BaseDelay:   cfg.App.OptimisticRetry.BaseDelay,
				Multiplier:  cfg.App.OptimisticRetry.Multiplier,
				MaxDelay:    cfg.App.OptimisticRetry.MaxDelay,
			}

			tracer := otel.Tracer(serviceName)
			svc := application.NewInventoryApplicationService(invRepo, resRepo, cache, retry, cfg.App.Reservation.TTL, tracer)
			sweeper = application.NewExpirySweeper(svc, resRepo, cfg.App.Reservation.SweepInterval, tracer)
			zkServers = cfg.Infra.Zookeeper.Servers

			interfaces.NewInventoryHandler(svc).RegisterRoutes(appCtx.Mux)
		},
		BackgroundTasks: []bootstrap.BackgroundTask{
			// 过期回收是全局单例，多实例部署时通过 zk 选主
			func(ctx context.Context) error {
				conn, err := zookeeper.Connect(zkServers)
				if err != nil {
					return err
				}
				defer conn.Close()
				return zookeeper.RunExclusive(ctx, conn, "inventory-expiry-sweep", sweeper.Run)
			},
		},
	})
}

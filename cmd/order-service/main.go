package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"monat/internal/outbox"
	"monat/internal/pkg/bootstrap"
	"monat/internal/pkg/database"
	"monat/internal/pkg/httpclient"
	"monat/internal/pkg/logger"
	"monat/internal/pkg/mq"
	"monat/internal/pkg/resilience"
	"monat/internal/pkg/zookeeper"
	"monat/internal/service/order/application"
	"monat/internal/service/order/infrastructure"
	"monat/internal/service/order/interfaces"
)

const (
	serviceName = "order-service"
	servicePort = 8081
)

func main() {
	var (
		publisher *outbox.Publisher
		zkServers []string
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			cfg := appCtx.Config
			tracer := otel.Tracer(serviceName)

			db, err := gorm.Open(mysql.Open(cfg.Infra.MySQL.DSN), &gorm.Config{})
			if err != nil {
				logger.Logger.Fatal().Err(err).Msg("failed to connect mysql")
			}
			if err := db.AutoMigrate(&infrastructure.OrderModel{}, &infrastructure.SagaStateModel{}, &outbox.EventModel{}); err != nil {
				logger.Logger.Fatal().Err(err).Msg("failed to migrate schema")
			}

			orders := infrastructure.NewGormOrderRepository(db)
			sagas := infrastructure.NewGormSagaRepository(db)
			txManager := database.NewTxManager(db)
			events := outbox.NewGormStore(db)

			// 下游适配器: nacos 解析地址，每个协作方一个独立熔断器。
			// 业务拒绝(200 + success=false)不计入熔断失败。
			client := httpclient.NewClient(tracer)
			inventory := infrastructure.NewHTTPInventoryAdapter(
				appCtx.Nacos, client,
				resilience.NewBreaker("inventory-service", cfg.App.Breaker("inventory-service"), httpclient.IsUnavailable),
			)
			payments := infrastructure.NewHTTPPaymentAdapter(
				appCtx.Nacos, client,
				resilience.NewBreaker("payment-service", cfg.App.Breaker("payment-service"), httpclient.IsUnavailable),
			)
			users := infrastructure.NewHTTPUserAdapter(
				appCtx.Nacos, client,
				resilience.NewBreaker("user-service", cfg.App.Breaker("user-service"), httpclient.IsUnavailable),
			)

			orchestrator := application.NewSagaOrchestrator(
				orders, sagas, txManager, events,
				users, inventory, payments,
				cfg.App.Saga.StepTimeout, tracer,
			)
			svc := application.NewOrderApplicationService(orders, sagas, txManager, events, orchestrator, tracer)
			interfaces.NewOrderHandler(svc).RegisterRoutes(appCtx.Mux)

			writer := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers)
			publisher = outbox.NewPublisher(
				events, outbox.NewKafkaSender(writer),
				cfg.App.Outbox.PollInterval, cfg.App.Outbox.BatchSize, tracer,
			)
			zkServers = cfg.Infra.Zookeeper.Servers
		},
		BackgroundTasks: []bootstrap.BackgroundTask{
			// 发件箱发布器是全局单例，多实例部署时通过 zk 选主
			func(ctx context.Context) error {
				conn, err := zookeeper.Connect(zkServers)
				if err != nil {
					return err
				}
				defer conn.Close()
				return zookeeper.RunExclusive(ctx, conn, "outbox-publisher", publisher.Run)
			},
		},
	})
}

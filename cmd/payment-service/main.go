package main

import (
	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"monat/internal/pkg/bootstrap"
	"monat/internal/pkg/logger"
	"monat/internal/service/payment/application"
	"monat/internal/service/payment/infrastructure"
	"monat/internal/service/payment/interfaces"
)

const (
	serviceName = "payment-service"
	servicePort = 8083
)

func main() {
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			cfg := appCtx.Config

			db, err := gorm.Open(mysql.Open(cfg.Infra.MySQL.DSN), &gorm.Config{})
			if err != nil {
				logger.Logger.Fatal().Err(err).Msg("failed to connect mysql")
			}
			if err := db.AutoMigrate(&infrastructure.PaymentModel{}); err != nil {
				logger.Logger.Fatal().Err(err).Msg("failed to migrate schema")
			}

			gateway := application.NewSimulatedGateway(cfg.App.Payment.FailureRate, cfg.App.Payment.ProcessingDelay)
			svc := application.NewPaymentApplicationService(
				infrastructure.NewGormPaymentRepository(db),
				gateway,
				otel.Tracer(serviceName),
			)
			interfaces.NewPaymentHandler(svc).RegisterRoutes(appCtx.Mux)
		},
	})
}

package main

import (
	"go.opentelemetry.io/otel"

	"monat/internal/pkg/bootstrap"
	"monat/internal/service/user/application"
	"monat/internal/service/user/interfaces"
)

const (
	serviceName = "user-service"
	servicePort = 8084
)

func main() {
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			svc := application.NewUserApplicationService(otel.Tracer(serviceName))
			// 演练环境的固定用户集
			svc.Register(application.User{UserID: "user-1", Name: "张伟", Status: application.UserActive})
			svc.Register(application.User{UserID: "user-2", Name: "李娜", Status: application.UserActive})
			svc.Register(application.User{UserID: "user-blocked", Name: "王强", Status: application.UserBlocked})
			interfaces.NewUserHandler(svc).RegisterRoutes(appCtx.Mux)
		},
	})
}

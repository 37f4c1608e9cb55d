package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"monat/internal/pkg/config"
	"monat/internal/pkg/logger"
	"monat/internal/pkg/nacos"
	"monat/internal/tracing"
)

// AppCtx 传递给服务注册回调的组装上下文。
type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client
	Config config.Config
}

// BackgroundTask 是一个跟随服务生命周期的长驻任务(outbox 发布器、过期回收)。
// ctx 取消时必须返回。
type BackgroundTask func(ctx context.Context) error

// AppInfo 描述启动一个微服务所需的全部信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx)
	BackgroundTasks  []BackgroundTask
}

// StartService 封装所有微服务通用的启动与优雅关停流程。
func StartService(info AppInfo) {
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(info.ServiceName, cfg.App.LogLevel)

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 2. 注册到 Nacos
	namingClient, err := nacos.NewClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize nacos client")
	}

	ip, err := outboundIP()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to get outbound IP address")
	}
	if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to register service with nacos")
	}

	// 3. 组装 HTTP 路由
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient, Config: cfg})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}

	// 4. 启动 HTTP 服务和后台任务
	rootCtx, stop := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		logger.Logger.Info().Str("addr", server.Addr).Msgf("%s listening", info.ServiceName)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	for _, task := range info.BackgroundTasks {
		task := task
		g.Go(func() error { return task(gctx) })
	}

	// 5. 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Logger.Info().Msgf("shutting down service %s", info.ServiceName)
	case <-gctx.Done():
		logger.Logger.Error().Msg("background task failed, shutting down")
	}

	// 6. 优雅关停: 注销服务 -> 停后台任务 -> 刷 trace -> 关 HTTP
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		logger.Logger.Error().Err(err).Msg("error deregistering from nacos")
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error().Err(err).Msg("error shutting down http server")
	}

	stop()
	if err := g.Wait(); err != nil {
		logger.Logger.Error().Err(err).Msg("background task exited with error")
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error().Err(err).Msg("error shutting down tracer provider")
	}

	logger.Logger.Info().Msgf("service %s gracefully shut down", info.ServiceName)
}

// outboundIP 获取本机对外 IP，用于服务注册。
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

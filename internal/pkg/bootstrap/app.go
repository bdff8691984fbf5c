// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"productstream/internal/pkg/logger"
	"productstream/internal/pkg/nacos"
	"productstream/internal/pkg/tracing"
	"productstream/internal/pkg/utils"
)

type shutdownHook struct {
	name string
	fn   func(ctx context.Context) error
}

// AppCtx 是注册路由时可用的运行时组件
type AppCtx struct {
	Ctx    context.Context // 收到退出信号后取消
	Mux    *http.ServeMux
	Nacos  *nacos.Client // 未配置 Nacos 时为 nil
	Config *Config
	Tracer trace.Tracer

	group *errgroup.Group
	hooks *[]shutdownHook
}

// Go 启动一个随服务一起运行的后台任务，任务返回错误会触发整个服务退出
func (a AppCtx) Go(fn func(ctx context.Context) error) {
	a.group.Go(func() error { return fn(a.Ctx) })
}

// OnShutdown 注册一个关停时执行的清理函数，按注册的逆序执行
func (a AppCtx) OnShutdown(name string, fn func(ctx context.Context) error) {
	*a.hooks = append(*a.hooks, shutdownHook{name: name, fn: fn})
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) error // 允许每个服务注册自己独特的 HTTP 路由与依赖
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) error {
	// 1. 配置与日志
	if err := Init(info.ServiceName); err != nil {
		return err
	}
	cfg := GetCurrentConfig()
	logger.Init(info.ServiceName, cfg.App.LogLevel)

	// 2. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		return err
	}

	// 3. 服务注册
	var namingClient *nacos.Client
	var ip string
	if addrs := getEnv("NACOS_SERVER_ADDRS", ""); addrs != "" {
		serverConfigs, err := createNacosServerConfigs(addrs)
		if err != nil {
			return err
		}
		clientConfig := createNacosClientConfig(getEnv("NACOS_NAMESPACE", ""))
		namingClient, err = nacos.NewNacosClientWithConfigs(serverConfigs, &clientConfig, getEnv("NACOS_GROUP", "DEFAULT_GROUP"))
		if err != nil {
			return err
		}
		if ip, err = utils.GetOutboundIP(); err != nil {
			return err
		}
		if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// 4. 注册路由与依赖
	var hooks []shutdownHook
	mux := http.NewServeMux()
	appCtx := AppCtx{
		Ctx:    gctx,
		Mux:    mux,
		Nacos:  namingClient,
		Config: cfg,
		Tracer: otel.Tracer(info.ServiceName),
		group:  g,
		hooks:  &hooks,
	}
	if info.RegisterHandlers != nil {
		if err := info.RegisterHandlers(appCtx); err != nil {
			runHooks(hooks)
			return err
		}
	}

	// 5. 启动 HTTP Server
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	g.Go(func() error {
		zlog.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 6. 优雅关停
	g.Go(func() error {
		<-gctx.Done()
		zlog.Info().Str("service", info.ServiceName).Msg("Shutting down service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// a. 从 Nacos 注销服务，不再接收新流量
		if namingClient != nil {
			if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
				zlog.Error().Err(err).Msg("Error deregistering from Nacos")
			}
			namingClient.Close()
		}
		if nacosConfigClient != nil {
			nacosConfigClient.CloseClient()
		}

		// b. 关闭 HTTP 服务器
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Err(err).Msg("Error shutting down http server")
		}

		// c. 服务自身注册的清理函数
		runHooksWithContext(shutdownCtx, hooks)

		// d. 最后关闭 Tracer Provider，确保所有缓冲的 trace 都被发送出去
		if err := tp.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Err(err).Msg("Error shutting down tracer provider")
		}
		return nil
	})

	err = g.Wait()
	zlog.Info().Str("service", info.ServiceName).Msg("Service gracefully shut down.")
	return err
}

func runHooks(hooks []shutdownHook) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	runHooksWithContext(ctx, hooks)
}

func runHooksWithContext(ctx context.Context, hooks []shutdownHook) {
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i].fn(ctx); err != nil {
			zlog.Error().Err(err).Str("hook", hooks[i].name).Msg("shutdown hook failed")
		}
	}
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// cmd/productstream-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"productstream/internal/pkg/bootstrap"
	"productstream/internal/pkg/httpclient"
	"productstream/internal/pkg/mq"
	"productstream/internal/pkg/redis"
	"productstream/internal/service/productstream/application"
	"productstream/internal/service/productstream/condition"
	"productstream/internal/service/productstream/domain/port"
	"productstream/internal/service/productstream/infrastructure"
	"productstream/internal/service/productstream/infrastructure/adapter"
	"productstream/internal/service/productstream/interfaces"
	"productstream/internal/zookeeper"
)

const serviceName = "productstream-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	httpPort, _ := strconv.Atoi(getEnv("PORT", "8090"))
	err := bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:      serviceName,
		Port:             httpPort,
		RegisterHandlers: registerHandlers,
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("productstream service exited")
	}
}

func registerHandlers(app bootstrap.AppCtx) error {
	cfg := app.Config

	// 1. 存储：MySQL + Redis 读穿缓存
	db, err := infrastructure.OpenMySQL(cfg.Infra.MySQL.DSN)
	if err != nil {
		return err
	}
	gormRepo := infrastructure.NewGormStreamRepository(db)
	if err := gormRepo.Migrate(app.Ctx); err != nil {
		return err
	}
	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		return err
	}
	app.OnShutdown("redis", func(context.Context) error { return redisClient.Close() })
	repo := infrastructure.NewCachedStreamRepository(gormRepo, redisClient, cfg.Infra.Redis.CacheTTL)

	// 2. 预览请求发往 Kafka
	kafkaWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.PreviewTopic)
	app.OnShutdown("kafka", func(context.Context) error { return kafkaWriter.Close() })
	preview := adapter.NewKafkaPreviewAdapter(kafkaWriter, app.Tracer)

	// 3. 保存期间的分布式锁
	zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
	if err != nil {
		return err
	}
	app.OnShutdown("zookeeper", func(context.Context) error {
		zkConn.Close()
		return nil
	})
	locker := adapter.NewZkStreamLocker(zkConn, cfg.Infra.Zookeeper.LockWait)

	// 4. 分类条件通过目录服务校验
	categories := catalogLookup(app)

	// 5. 提示消息经 WebSocket 推送给编辑端
	hub := adapter.NewGrowlHub(serviceName + "-" + uuid.New().String()[:8])
	app.Go(func(ctx context.Context) error {
		hub.Run(ctx)
		return nil
	})

	registry := condition.Build(condition.Dependencies{
		Categories:    categories,
		LookupTimeout: cfg.App.CategoryLookupTimeout,
	})
	service := application.NewEditorService(registry, repo, locker, preview,
		func(sessionID string) port.Notifier { return hub.ForSession(sessionID) },
		app.Tracer,
	)
	app.OnShutdown("sessions", func(context.Context) error {
		service.Shutdown()
		return nil
	})

	interfaces.NewEditorHandler(service, http.HandlerFunc(hub.ServeWs), cfg.App.AddWait).RegisterRoutes(app.Mux)
	zlog.Info().Int("handlers", registry.Len()).Msg("✅ product stream editor ready")
	return nil
}

// catalogLookup 优先使用配置的地址，否则每次调用时从 Nacos 发现一个健康实例。
// 两者都没有时不做远程校验。
func catalogLookup(app bootstrap.AppCtx) port.CategoryLookup {
	catalog := app.Config.Infra.Catalog
	client := httpclient.NewClient(app.Tracer)
	switch {
	case catalog.BaseURL != "":
		return adapter.NewHTTPCategoryLookup(client, adapter.StaticEndpoint(catalog.BaseURL))
	case app.Nacos != nil && catalog.ServiceName != "":
		return adapter.NewHTTPCategoryLookup(client, func() (string, error) {
			ip, p, err := app.Nacos.DiscoverServiceInstance(catalog.ServiceName)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("http://%s:%d", ip, p), nil
		})
	default:
		zlog.Warn().Msg("⚠️ catalog service not configured, category conditions are not checked")
		return nil
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

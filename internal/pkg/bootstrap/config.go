// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
	"productstream/internal/pkg/nacos"
)

// Config 是服务的完整配置，来自 Nacos 配置中心或本地 YAML 文件
type Config struct {
	App   AppConfig   `yaml:"app"`
	Infra InfraConfig `yaml:"infra"`
}

type AppConfig struct {
	LogLevel string `yaml:"logLevel"`
	// AddWait 是 HTTP 添加条件时等待处理器产出的时长
	AddWait time.Duration `yaml:"addWait"`
	// CategoryLookupTimeout 是分类条件异步校验的超时
	CategoryLookupTimeout time.Duration `yaml:"categoryLookupTimeout"`
}

type InfraConfig struct {
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addrs    string        `yaml:"addrs"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	PreviewTopic string   `yaml:"previewTopic"`
}

type ZookeeperConfig struct {
	Servers        string        `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
	LockWait       time.Duration `yaml:"lockWait"`
}

// CatalogConfig 描述商品目录服务。BaseURL 为空时通过 Nacos 按 ServiceName 发现。
type CatalogConfig struct {
	BaseURL     string `yaml:"baseURL"`
	ServiceName string `yaml:"serviceName"`
}

// DefaultConfig 返回本地开发可用的默认配置
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			LogLevel:              "info",
			AddWait:               2 * time.Second,
			CategoryLookupTimeout: 3 * time.Second,
		},
		Infra: InfraConfig{
			Jaeger: JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
			MySQL:  MySQLConfig{DSN: "root:root@tcp(localhost:3306)/productstream?charset=utf8mb4"},
			Redis:  RedisConfig{Addrs: "localhost:6379", CacheTTL: 10 * time.Minute},
			Kafka: KafkaConfig{
				Brokers:      []string{"localhost:9092"},
				PreviewTopic: "productstream.preview",
			},
			Zookeeper: ZookeeperConfig{
				Servers:        "localhost:2181",
				SessionTimeout: 5 * time.Second,
				LockWait:       10 * time.Second,
			},
			Catalog: CatalogConfig{ServiceName: "catalog-service"},
		},
	}
}

// ParseConfig 在默认配置之上解析 YAML，未出现的字段保留默认值
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	if len(cfg.Infra.Kafka.Brokers) == 0 {
		return nil, errors.New("config: infra.kafka.brokers must not be empty")
	}
	return cfg, nil
}

var (
	currentConfig     atomic.Pointer[Config]
	nacosConfigClient config_client.IConfigClient
)

// GetCurrentConfig 返回当前生效的配置。Init 之前调用时返回默认配置。
func GetCurrentConfig() *Config {
	if cfg := currentConfig.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

func setCurrentConfig(cfg *Config) {
	currentConfig.Store(cfg)
}

// Init 加载配置。优先级：Nacos 配置中心 > CONFIG_FILE 指向的本地文件 > 默认值。
// 从 Nacos 加载时会持续监听变更，变更后的配置通过 GetCurrentConfig 生效。
func Init(serviceName string) error {
	dataID := getEnv("NACOS_CONFIG_DATA_ID", serviceName+".yaml")
	group := getEnv("NACOS_GROUP", "DEFAULT_GROUP")

	if addrs := getEnv("NACOS_SERVER_ADDRS", ""); addrs != "" {
		serverConfigs, err := createNacosServerConfigs(addrs)
		if err != nil {
			return err
		}
		clientConfig := createNacosClientConfig(getEnv("NACOS_NAMESPACE", ""))
		client, err := nacos.NewConfigClient(serverConfigs, &clientConfig)
		if err != nil {
			return err
		}
		if err := loadFromNacos(client, dataID, group); err != nil {
			client.CloseClient()
			return err
		}
		nacosConfigClient = client
		return nil
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "read config file %s", path)
		}
		cfg, err := ParseConfig(data)
		if err != nil {
			return err
		}
		setCurrentConfig(cfg)
		zlog.Info().Str("file", path).Msg("config loaded from file")
		return nil
	}

	setCurrentConfig(DefaultConfig())
	zlog.Warn().Msg("⚠️ neither NACOS_SERVER_ADDRS nor CONFIG_FILE set, using default config")
	return nil
}

func loadFromNacos(client config_client.IConfigClient, dataID, group string) error {
	content, err := client.GetConfig(vo.ConfigParam{DataId: dataID, Group: group})
	if err != nil {
		return errors.Wrapf(err, "get config %s/%s from nacos", group, dataID)
	}
	cfg, err := ParseConfig([]byte(content))
	if err != nil {
		return err
	}
	setCurrentConfig(cfg)
	zlog.Info().Str("dataId", dataID).Str("group", group).Msg("✅ config loaded from nacos")

	return client.ListenConfig(vo.ConfigParam{
		DataId: dataID,
		Group:  group,
		OnChange: func(namespace, group, dataId, data string) {
			cfg, err := ParseConfig([]byte(data))
			if err != nil {
				zlog.Error().Err(err).Str("dataId", dataId).Msg("ignoring invalid config update")
				return
			}
			setCurrentConfig(cfg)
			zlog.Info().Str("dataId", dataId).Msg("🔄 config updated from nacos")
		},
	})
}

func createNacosServerConfigs(addrs string) ([]constant.ServerConfig, error) {
	return nacos.ParseServerConfigs(addrs)
}

func createNacosClientConfig(namespaceID string) constant.ClientConfig {
	return nacos.NewClientConfig(namespaceID)
}

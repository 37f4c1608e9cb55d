package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 汇总了所有服务的运行配置。
// 配置来源优先级: 环境变量 > yaml 配置文件 > 默认值。
type Config struct {
	Infra InfraConfig `yaml:"infra"`
	App   AppConfig   `yaml:"app"`
}

type InfraConfig struct {
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
	} `yaml:"kafka"`
	Zookeeper struct {
		Servers []string `yaml:"servers"`
	} `yaml:"zookeeper"`
	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`
	Nacos struct {
		ServerAddrs string `yaml:"serverAddrs"`
		Namespace   string `yaml:"namespace"`
		Group       string `yaml:"group"`
	} `yaml:"nacos"`
}

type AppConfig struct {
	LogLevel string `yaml:"logLevel"`

	// Reservation 库存预占相关配置
	Reservation struct {
		TTL           time.Duration `yaml:"ttl"`           // 预占过期时间
		SweepInterval time.Duration `yaml:"sweepInterval"` // 过期回收扫描周期
	} `yaml:"reservation"`

	// OptimisticRetry 乐观锁冲突的本地重试策略
	OptimisticRetry struct {
		MaxAttempts uint          `yaml:"maxAttempts"`
		BaseDelay   time.Duration `yaml:"baseDelay"`
		Multiplier  float64       `yaml:"multiplier"`
		MaxDelay    time.Duration `yaml:"maxDelay"`
	} `yaml:"optimisticRetry"`

	// Payment 模拟支付网关
	Payment struct {
		FailureRate     float64       `yaml:"failureRate"`
		ProcessingDelay time.Duration `yaml:"processingDelay"`
	} `yaml:"payment"`

	// Outbox 发布器
	Outbox struct {
		PollInterval time.Duration `yaml:"pollInterval"`
		BatchSize    int           `yaml:"batchSize"`
	} `yaml:"outbox"`

	// Saga 远程调用
	Saga struct {
		StepTimeout time.Duration `yaml:"stepTimeout"`
	} `yaml:"saga"`

	// Breakers 按协作方区分的熔断参数
	Breakers map[string]BreakerConfig `yaml:"breakers"`
}

// BreakerConfig 对应单个协作方的熔断器参数。
type BreakerConfig struct {
	FailureRateThreshold float64       `yaml:"failureRateThreshold"` // 0-1
	SlidingWindowSize    uint32        `yaml:"slidingWindowSize"`
	MinimumCalls         uint32        `yaml:"minimumCalls"`
	OpenStateDuration    time.Duration `yaml:"openStateDuration"`
	HalfOpenMaxCalls     uint32        `yaml:"halfOpenMaxCalls"`
}

// Default 返回一份可直接运行的默认配置。
// 熔断参数沿用运营侧调优过的数值: 支付通道容忍度更高，库存通道更敏感。
func Default() Config {
	var cfg Config
	cfg.Infra.MySQL.DSN = "root:root@tcp(localhost:3306)/monat?parseTime=true"
	cfg.Infra.Redis.Addr = "localhost:6379"
	cfg.Infra.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Infra.Zookeeper.Servers = []string{"localhost:2181"}
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Nacos.ServerAddrs = "localhost:8848"
	cfg.Infra.Nacos.Group = "DEFAULT_GROUP"

	cfg.App.LogLevel = "info"
	cfg.App.Reservation.TTL = 15 * time.Minute
	cfg.App.Reservation.SweepInterval = time.Minute
	cfg.App.OptimisticRetry.MaxAttempts = 5
	cfg.App.OptimisticRetry.BaseDelay = 100 * time.Millisecond
	cfg.App.OptimisticRetry.Multiplier = 2.0
	cfg.App.OptimisticRetry.MaxDelay = 2 * time.Second
	cfg.App.Payment.FailureRate = 0.30
	cfg.App.Payment.ProcessingDelay = 500 * time.Millisecond
	cfg.App.Outbox.PollInterval = 5 * time.Second
	cfg.App.Outbox.BatchSize = 100
	cfg.App.Saga.StepTimeout = 10 * time.Second
	cfg.App.Breakers = map[string]BreakerConfig{
		"default": {
			FailureRateThreshold: 0.5,
			SlidingWindowSize:    10,
			MinimumCalls:         5,
			OpenStateDuration:    10 * time.Second,
			HalfOpenMaxCalls:     3,
		},
		"payment-service": {
			FailureRateThreshold: 0.6,
			SlidingWindowSize:    20,
			MinimumCalls:         10,
			OpenStateDuration:    30 * time.Second,
			HalfOpenMaxCalls:     3,
		},
		"inventory-service": {
			FailureRateThreshold: 0.4,
			SlidingWindowSize:    15,
			MinimumCalls:         5,
			OpenStateDuration:    5 * time.Second,
			HalfOpenMaxCalls:     3,
		},
	}
	return cfg
}

// Load 读取配置。CONFIG_FILE 指向 yaml 文件时先加载文件，
// 再用环境变量覆盖基础设施地址。
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config file %s", path)
		}
	}

	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.Infra.MySQL.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Infra.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ZK_SERVERS"); v != "" {
		cfg.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v := os.Getenv("NACOS_SERVER_ADDRS"); v != "" {
		cfg.Infra.Nacos.ServerAddrs = v
	}
	if v := os.Getenv("NACOS_NAMESPACE"); v != "" {
		cfg.Infra.Nacos.Namespace = v
	}
	if v := os.Getenv("NACOS_GROUP"); v != "" {
		cfg.Infra.Nacos.Group = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	return cfg, nil
}

// Breaker 返回指定协作方的熔断参数，缺省回落到 "default"。
func (c *AppConfig) Breaker(name string) BreakerConfig {
	if bc, ok := c.Breakers[name]; ok {
		return bc
	}
	return c.Breakers["default"]
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"product_radar/internal/scoring"
)

// 信号写入链路：direct 直接落库重算；stream 先写 Redis Stream，再经 Kafka 异步消费。
const (
	PipelineDirect = "direct"
	PipelineStream = "stream"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string

	// DBDriver sqlite|postgres；sqlite 使用 DBPath，postgres 使用 DBDSN
	DBDriver string
	DBPath   string
	DBDSN    string

	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔）、Topic、消费者组
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis Stream outbox（API 原子入流，Relay 异步转 Kafka）
	SignalPipeline string
	SignalStream   string
	SignalGroup    string
	SignalConsumer string
	// 其他 relay 实例遗留的 pending 条目空闲多久后被认领，0 关闭
	RelayClaimIdle time.Duration
	RelayBatch     int

	// 信号接口限流、统计缓存与 CAS 重试
	SignalRateLimit  int
	SignalRateWindow time.Duration
	StatsCacheTTL    time.Duration
	CASRetries       int

	Weights    scoring.Weights
	Normalizer scoring.NormalizerConfig

	LogLevel       string
	LogFormat      string
	LogFileEnabled bool
	LogDir         string
}

// Load 读取并校验配置，缺失时使用默认值。若存在 .env 则先加载（不覆盖已有环境变量）。
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := AppConfig{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		DBDriver:         getEnv("DB_DRIVER", "sqlite"),
		DBPath:           getEnv("DB_PATH", "product_radar.db"),
		DBDSN:            getEnv("DB_DSN", ""),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisDB:          0,
		KafkaBrokers:     splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "product-signals"),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "product-signal-consumer"),
		SignalPipeline:   getEnv("SIGNAL_PIPELINE", PipelineDirect),
		SignalStream:     getEnv("SIGNAL_STREAM", "product_radar:signal_events"),
		SignalGroup:      getEnv("SIGNAL_GROUP", "product-radar-relay-group"),
		SignalConsumer:   getEnv("SIGNAL_CONSUMER", "product-radar-relay-1"),
		RelayClaimIdle:   time.Minute,
		RelayBatch:       32,
		SignalRateLimit:  600,
		SignalRateWindow: time.Minute,
		StatsCacheTTL:    30 * time.Second,
		CASRetries:       5,
		Weights:          scoring.DefaultWeights(),
		Normalizer:       scoring.DefaultNormalizerConfig(),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		LogDir:           getEnv("LOG_DIR", "logs"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", cfg.RedisDB); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	rateLimit, err := getEnvInt("SIGNAL_RATE_LIMIT", cfg.SignalRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SIGNAL_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("SIGNAL_RATE_LIMIT must be > 0")
	}
	cfg.SignalRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("SIGNAL_RATE_WINDOW_SEC", int(cfg.SignalRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SIGNAL_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("SIGNAL_RATE_WINDOW_SEC must be > 0")
	}
	cfg.SignalRateWindow = time.Duration(rateWindowSec) * time.Second

	statsTTLSec, err := getEnvInt("STATS_CACHE_TTL_SEC", int(cfg.StatsCacheTTL.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid STATS_CACHE_TTL_SEC: %w", err)
	}
	if statsTTLSec < 0 {
		return AppConfig{}, fmt.Errorf("STATS_CACHE_TTL_SEC must be >= 0")
	}
	cfg.StatsCacheTTL = time.Duration(statsTTLSec) * time.Second

	claimIdleSec, err := getEnvInt("RELAY_CLAIM_IDLE_SEC", int(cfg.RelayClaimIdle.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid RELAY_CLAIM_IDLE_SEC: %w", err)
	}
	if claimIdleSec < 0 {
		return AppConfig{}, fmt.Errorf("RELAY_CLAIM_IDLE_SEC must be >= 0")
	}
	cfg.RelayClaimIdle = time.Duration(claimIdleSec) * time.Second

	if cfg.RelayBatch, err = getEnvInt("RELAY_BATCH", cfg.RelayBatch); err != nil {
		return AppConfig{}, fmt.Errorf("invalid RELAY_BATCH: %w", err)
	}
	if cfg.RelayBatch <= 0 {
		return AppConfig{}, fmt.Errorf("RELAY_BATCH must be > 0")
	}

	retries, err := getEnvInt("CAS_RETRIES", cfg.CASRetries)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CAS_RETRIES: %w", err)
	}
	if retries < 0 {
		return AppConfig{}, fmt.Errorf("CAS_RETRIES must be >= 0")
	}
	cfg.CASRetries = retries

	if cfg.LogFileEnabled, err = getEnvBool("LOG_FILE_ENABLED", false); err != nil {
		return AppConfig{}, fmt.Errorf("invalid LOG_FILE_ENABLED: %w", err)
	}

	if err := loadWeights(&cfg.Weights); err != nil {
		return AppConfig{}, err
	}
	// 权重不一致属于配置错误，直接拒绝启动。
	if err := cfg.Weights.Validate(); err != nil {
		return AppConfig{}, err
	}
	if err := loadNormalizer(&cfg.Normalizer); err != nil {
		return AppConfig{}, err
	}

	switch cfg.DBDriver {
	case "sqlite":
	case "postgres":
		if cfg.DBDSN == "" {
			return AppConfig{}, fmt.Errorf("DB_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return AppConfig{}, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}

	switch cfg.SignalPipeline {
	case PipelineDirect:
	case PipelineStream:
		if cfg.RedisAddr == "" {
			return AppConfig{}, fmt.Errorf("REDIS_ADDR is required when SIGNAL_PIPELINE=stream")
		}
		if len(cfg.KafkaBrokers) == 0 {
			return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
		}
		if cfg.KafkaTopic == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
		}
		if cfg.KafkaGroupID == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_GROUP_ID must not be empty")
		}
		if cfg.SignalStream == "" || cfg.SignalGroup == "" || cfg.SignalConsumer == "" {
			return AppConfig{}, fmt.Errorf("SIGNAL_STREAM, SIGNAL_GROUP and SIGNAL_CONSUMER must not be empty")
		}
	default:
		return AppConfig{}, fmt.Errorf("SIGNAL_PIPELINE must be %q or %q, got %q", PipelineDirect, PipelineStream, cfg.SignalPipeline)
	}

	return cfg, nil
}

func loadWeights(w *scoring.Weights) error {
	fields := []struct {
		key string
		dst *float64
	}{
		{"SCORE_WEIGHT_ADS", &w.Ads},
		{"SCORE_WEIGHT_MENTIONS", &w.Mentions},
		{"SCORE_WEIGHT_MARGIN", &w.Margin},
		{"SCORE_WEIGHT_TREND", &w.Trend},
		{"SCORE_WEIGHT_SATURATION", &w.Saturation},
	}
	for _, f := range fields {
		v, err := getEnvFloat(f.key, *f.dst)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dst = v
	}
	return nil
}

func loadNormalizer(n *scoring.NormalizerConfig) error {
	fields := []struct {
		key string
		dst *float64
	}{
		{"SCORE_CAP_AD_COUNT", &n.AdCountCap},
		{"SCORE_CAP_AD_ENGAGEMENT", &n.AdEngagementCap},
		{"SCORE_CAP_MENTION_COUNT", &n.MentionCountCap},
		{"SCORE_CAP_MENTION_VIRAL", &n.MentionViralCap},
		{"SCORE_SATURATION_HALF_POINT", &n.SaturationHalfPoint},
	}
	for _, f := range fields {
		v, err := getEnvFloat(f.key, *f.dst)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.key, err)
		}
		if !(v > 0) {
			return fmt.Errorf("%s must be > 0", f.key)
		}
		*f.dst = v
	}
	return nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DataSource 返回当前驱动对应的连接串。
func (c AppConfig) DataSource() string {
	if c.DBDriver == "postgres" {
		return c.DBDSN
	}
	return c.DBPath
}

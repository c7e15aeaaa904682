// Package config 加载推荐服务配置。
//
// 优先级：环境变量（前缀 ANIMEREC_，层级用 _ 连接，如 ANIMEREC_CACHE_BACKEND）
// > 配置文件（YAML，可选）> 默认值。
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rushteam/animerec/core"
)

const envPrefix = "ANIMEREC"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Models   ModelConfig    `mapstructure:"models"`
	Recall   RecallConfig   `mapstructure:"recall"`
	Hybrid   HybridConfig   `mapstructure:"hybrid"`
	Filter   FilterConfig   `mapstructure:"filter"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Backend string        `mapstructure:"backend"` // memory | redis
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ModelConfig struct {
	Backend            string     `mapstructure:"backend"` // file | badger
	Dir                string     `mapstructure:"dir"`
	LockDir            string     `mapstructure:"lock_dir"`
	CandidatePool      int        `mapstructure:"candidate_pool"`
	MinTrainingSamples int        `mapstructure:"min_training_samples"`
	WeightFloor        float64    `mapstructure:"weight_floor"`
	AdapterStep        float64    `mapstructure:"adapter_step"`
	Seed               int64      `mapstructure:"seed"`
	GBDT               GBDTConfig `mapstructure:"gbdt"`
}

type GBDTConfig struct {
	NEstimators     int     `mapstructure:"n_estimators"`
	LearningRate    float64 `mapstructure:"learning_rate"`
	MaxDepth        int     `mapstructure:"max_depth"`
	MinSamplesSplit int     `mapstructure:"min_samples_split"`
	MinSamplesLeaf  int     `mapstructure:"min_samples_leaf"`
}

type RecallConfig struct {
	CFMinInteractions int           `mapstructure:"cf_min_interactions"`
	CFMaxNeighbors    int           `mapstructure:"cf_max_neighbors"`
	ContentMinSignals int           `mapstructure:"content_min_signals"`
	Timeout           time.Duration `mapstructure:"timeout"`
	FailureThreshold  uint32        `mapstructure:"failure_threshold"`
}

// HybridConfig 是混合策略的融合权重：有模型时三路，无模型时两路，各自和为 1。
type HybridConfig struct {
	CF             float64 `mapstructure:"cf"`
	Content        float64 `mapstructure:"content"`
	ML             float64 `mapstructure:"ml"`
	CFNoModel      float64 `mapstructure:"cf_no_model"`
	ContentNoModel float64 `mapstructure:"content_no_model"`
}

type FilterConfig struct {
	// Expr 是 CEL 表达式，为 true 的条目参与推荐，空表示不过滤
	Expr      string  `mapstructure:"expr"`
	Blacklist []int64 `mapstructure:"blacklist"`
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type DatasetConfig struct {
	AnimeCSV         string `mapstructure:"anime_csv"`
	RatingCSV        string `mapstructure:"rating_csv"`
	MappingThreshold int    `mapstructure:"mapping_threshold"`
}

// Load 读取配置；path 为空时只使用默认值和环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回全部默认值组成的配置。
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// 默认值本身必须合法
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", core.DefaultCacheTTL)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)

	v.SetDefault("models.backend", "file")
	v.SetDefault("models.dir", "./data/models")
	v.SetDefault("models.lock_dir", "./data")
	v.SetDefault("models.candidate_pool", core.DefaultModelCandidatePool)
	v.SetDefault("models.min_training_samples", core.DefaultMinTrainingSamples)
	v.SetDefault("models.weight_floor", core.DefaultWeightFloor)
	v.SetDefault("models.adapter_step", core.DefaultAdapterStep)
	v.SetDefault("models.seed", 42)
	v.SetDefault("models.gbdt.n_estimators", 100)
	v.SetDefault("models.gbdt.learning_rate", 0.1)
	v.SetDefault("models.gbdt.max_depth", 5)
	v.SetDefault("models.gbdt.min_samples_split", 2)
	v.SetDefault("models.gbdt.min_samples_leaf", 1)

	v.SetDefault("recall.cf_min_interactions", core.DefaultCFMinInteractions)
	v.SetDefault("recall.cf_max_neighbors", core.DefaultCFMaxNeighbors)
	v.SetDefault("recall.content_min_signals", core.DefaultContentMinSignals)
	v.SetDefault("recall.timeout", 2*time.Second)
	v.SetDefault("recall.failure_threshold", 5)

	v.SetDefault("hybrid.cf", 0.4)
	v.SetDefault("hybrid.content", 0.3)
	v.SetDefault("hybrid.ml", 0.3)
	v.SetDefault("hybrid.cf_no_model", 0.6)
	v.SetDefault("hybrid.content_no_model", 0.4)

	v.SetDefault("filter.expr", "")
	v.SetDefault("filter.blacklist", []int64{})

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "animerec.ratings")
	v.SetDefault("kafka.group_id", "animerec")

	v.SetDefault("dataset.anime_csv", "")
	v.SetDefault("dataset.rating_csv", "")
	v.SetDefault("dataset.mapping_threshold", 90)
}

// Validate 校验配置，非法时返回 CONFIGURATION_ERROR。
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, core.NewConfigurationError(core.ModuleConfig, fmt.Sprintf(format, args...)))
	}

	if !sumsToOne(c.Hybrid.CF, c.Hybrid.Content, c.Hybrid.ML) {
		fail("hybrid weights cf+content+ml must sum to 1, got %v", c.Hybrid.CF+c.Hybrid.Content+c.Hybrid.ML)
	}
	if !sumsToOne(c.Hybrid.CFNoModel, c.Hybrid.ContentNoModel) {
		fail("hybrid weights cf_no_model+content_no_model must sum to 1, got %v", c.Hybrid.CFNoModel+c.Hybrid.ContentNoModel)
	}
	for _, w := range []float64{c.Hybrid.CF, c.Hybrid.Content, c.Hybrid.ML, c.Hybrid.CFNoModel, c.Hybrid.ContentNoModel} {
		if w < 0 {
			fail("hybrid weights must be non-negative")
			break
		}
	}
	if f := c.Models.WeightFloor; !(f > 0 && f <= 0.5) {
		fail("models.weight_floor must be in (0, 0.5], got %v", f)
	}
	if s := c.Models.AdapterStep; !(s > 0 && s < 0.5) {
		fail("models.adapter_step must be in (0, 0.5), got %v", s)
	}
	if !hasStoreBackend(c.Cache.Backend) {
		fail("unknown cache backend %q (supported: %v)", c.Cache.Backend, StoreBackends())
	}
	if !hasBlobBackend(c.Models.Backend) {
		fail("unknown model backend %q (supported: %v)", c.Models.Backend, BlobBackends())
	}
	if c.Cache.TTL <= 0 {
		fail("cache.ttl must be positive")
	}
	if c.Models.CandidatePool <= 0 || c.Models.MinTrainingSamples <= 0 {
		fail("models.candidate_pool and models.min_training_samples must be positive")
	}
	if c.Recall.CFMinInteractions <= 0 || c.Recall.CFMaxNeighbors <= 0 || c.Recall.ContentMinSignals <= 0 {
		fail("recall thresholds must be positive")
	}
	if t := c.Dataset.MappingThreshold; t < 0 || t > 100 {
		fail("dataset.mapping_threshold must be in [0, 100], got %d", t)
	}
	return errors.Join(errs...)
}

func sumsToOne(ws ...float64) bool {
	var sum float64
	for _, w := range ws {
		sum += w
	}
	return math.Abs(sum-1) <= 1e-6
}

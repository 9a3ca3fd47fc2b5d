package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config 进程级运行时配置（区别于策略清单 Manifest）。
// 通过 config.yaml + DOMEKIT_* 环境变量加载。
type Config struct {
	Gateway GatewayConfig `mapstructure:"gateway"`
	Log     LogConfig     `mapstructure:"log"`
	Backend BackendConfig `mapstructure:"backend"`
	Audit   AuditRuntime  `mapstructure:"audit"`
	Vector  VectorRuntime `mapstructure:"vector"`
}

// GatewayConfig HTTP 网关配置
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BackendConfig 模型后端 HTTP 配置。
// NoNativeToolFamilies 是已知不支持原生函数调用的模型族前缀闭集，
// 属于运行时配置表而非清单。
type BackendConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	EmbedBaseURL         string        `mapstructure:"embed_base_url"`
	Timeout              time.Duration `mapstructure:"timeout"`
	NoNativeToolFamilies []string      `mapstructure:"no_native_tool_families"`
}

// AuditRuntime 审计读取端配置
type AuditRuntime struct {
	StreamPollInterval time.Duration `mapstructure:"stream_poll_interval"`
}

// VectorRuntime 向量库持久化配置
type VectorRuntime struct {
	StorePath string `mapstructure:"store_path"`
}

// Load 加载运行时配置
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Layer 1: 全局配置 ~/.domekit/config.yaml
	globalDir := filepath.Join(os.Getenv("HOME"), ".domekit")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	// Layer 2: 项目本地配置（覆盖层），只取第一个找到的
	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	// 环境变量覆盖
	v.SetEnvPrefix("DOMEKIT")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults 设置默认配置
func setDefaults(v *viper.Viper) {
	// Gateway 默认值 — 回环绑定，本地信任模型
	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.mode", "local")

	// Log 默认值
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Backend 默认值
	v.SetDefault("backend.base_url", "http://localhost:11434")
	v.SetDefault("backend.embed_base_url", "http://localhost:11434")
	v.SetDefault("backend.timeout", "300s")
	v.SetDefault("backend.no_native_tool_families", []string{"gemma3", "gemma2", "gemma"})

	// Audit 默认值
	v.SetDefault("audit.stream_poll_interval", "500ms")

	// Vector 默认值
	v.SetDefault("vector.store_path", ".domekit/vector_db")
}

package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 YAML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Backends {
		applyBackendDefaults(&cfg.Backends[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absCacheDir, err := filepath.Abs(cfg.Global.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.CacheDir = absCacheDir

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_host", "0.0.0.0")
	v.SetDefault("http_port", 8080)
	v.SetDefault("cache_dir", "./cache")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size", 100)
	v.SetDefault("log_max_backups", 10)
	v.SetDefault("log_compress", true)
	v.SetDefault("upstream_timeout", "300s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.HTTPHost == "" {
		g.HTTPHost = "0.0.0.0"
	}
	if g.HTTPPort == 0 {
		g.HTTPPort = 8080
	}
	if g.CacheDir == "" {
		g.CacheDir = "./cache"
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(300 * time.Second)
	}
}

func applyBackendDefaults(b *BackendConfig) {
	b.Type = strings.ToLower(strings.TrimSpace(b.Type))
	if b.Name == "" {
		b.Name = b.Type
	}
	if b.Prefix == "" {
		b.Prefix = b.Name
	}
	b.Prefix = strings.Trim(b.Prefix, "/")
	if b.Type == "huggingface" {
		if b.MaxRedirects == 0 {
			b.MaxRedirects = 5
		}
		// 模型文件体积大，该类型单独放宽超时。
		if b.Timeout.DurationValue() == 0 {
			b.Timeout = Duration(60 * time.Second)
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

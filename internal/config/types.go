package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述全局运行时行为，所有 backend 共享同一份参数。
type GlobalConfig struct {
	HTTPHost        string   `mapstructure:"http_host"`
	HTTPPort        int      `mapstructure:"http_port"`
	CacheDir        string   `mapstructure:"cache_dir"`
	LogLevel        string   `mapstructure:"log_level"`
	LogFilePath     string   `mapstructure:"log_file"`
	LogMaxSize      int      `mapstructure:"log_max_size"`
	LogMaxBackups   int      `mapstructure:"log_max_backups"`
	LogCompress     bool     `mapstructure:"log_compress"`
	UpstreamTimeout Duration `mapstructure:"upstream_timeout"`
}

// RegistryEndpointConfig 描述 docker backend 的一个候选 registry 端点，
// 列表顺序即回退优先级。
type RegistryEndpointConfig struct {
	RegistryURL string `mapstructure:"registry_url"`
	AuthURL     string `mapstructure:"auth_url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

// BackendConfig 决定单个 resolver 实例的路由前缀与上游行为。字段按类型
// 取用：http 只看 base_url，pypi 看 index_url/packages_url，apt 看
// mirror_url，docker 看 registries（或单端点的 registry_url/auth_url），
// huggingface 看 base_url/token/max_redirects。
type BackendConfig struct {
	Type   string `mapstructure:"type"`
	Name   string `mapstructure:"name"`
	Prefix string `mapstructure:"prefix"`

	BaseURL     string `mapstructure:"base_url"`
	IndexURL    string `mapstructure:"index_url"`
	PackagesURL string `mapstructure:"packages_url"`
	MirrorURL   string `mapstructure:"mirror_url"`

	RegistryURL string                   `mapstructure:"registry_url"`
	AuthURL     string                   `mapstructure:"auth_url"`
	Service     string                   `mapstructure:"service"`
	Registries  []RegistryEndpointConfig `mapstructure:"registries"`

	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`

	Timeout      Duration `mapstructure:"timeout"`
	MaxRedirects int      `mapstructure:"max_redirects"`
	ChunkSize    int      `mapstructure:"chunk_size"`
	UserAgent    string   `mapstructure:"user_agent"`
}

// Config 是 YAML 配置文件映射的整体结构，backends 顺序即路由优先级。
type Config struct {
	Global   GlobalConfig    `mapstructure:",squash"`
	Backends []BackendConfig `mapstructure:"backends"`
}

// HasCredentials 表示当前 backend 是否配置了完整的上游凭证。
func (b BackendConfig) HasCredentials() bool {
	return b.Username != "" && b.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (b BackendConfig) AuthMode() string {
	if b.HasCredentials() || b.Token != "" {
		return "credentialed"
	}
	return "anonymous"
}

// CredentialModes 返回所有 backend 的鉴权模式摘要，例如 pypi:anonymous。
func CredentialModes(backends []BackendConfig) []string {
	if len(backends) == 0 {
		return nil
	}
	result := make([]string, len(backends))
	for i, backend := range backends {
		result[i] = fmt.Sprintf("%s:%s", backend.Name, backend.AuthMode())
	}
	return result
}

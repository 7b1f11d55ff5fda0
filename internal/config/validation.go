package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedBackendTypes = map[string]struct{}{
	"http":        {},
	"pypi":        {},
	"docker":      {},
	"apt":         {},
	"huggingface": {},
}

const supportedBackendTypeList = "http|pypi|docker|apt|huggingface"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.HTTPPort <= 0 || g.HTTPPort > 65535 {
		return newFieldError("http_port", "必须在 1-65535")
	}
	if g.CacheDir == "" {
		return newFieldError("cache_dir", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("upstream_timeout", "必须大于 0")
	}

	if len(c.Backends) == 0 {
		return errors.New("至少需要配置一个 backend")
	}

	seenNames := map[string]struct{}{}
	seenPrefixes := map[string]struct{}{}
	for i := range c.Backends {
		backend := &c.Backends[i]
		if backend.Name == "" {
			return newFieldError("backends[].name", "不能为空")
		}
		if _, exists := seenNames[backend.Name]; exists {
			return newFieldError(backendField(backend.Name, "name"), "重复")
		}
		seenNames[backend.Name] = struct{}{}

		if backend.Prefix == "" {
			return newFieldError(backendField(backend.Name, "prefix"), "不能为空")
		}
		if strings.ContainsAny(backend.Prefix, "/ ") {
			return newFieldError(backendField(backend.Name, "prefix"), "不允许包含斜杠或空格")
		}
		if _, exists := seenPrefixes[backend.Prefix]; exists {
			return newFieldError(backendField(backend.Name, "prefix"), "重复")
		}
		seenPrefixes[backend.Prefix] = struct{}{}

		if _, ok := supportedBackendTypes[backend.Type]; !ok {
			return newFieldError(backendField(backend.Name, "type"), "仅支持 "+supportedBackendTypeList)
		}

		if (backend.Username == "") != (backend.Password == "") {
			return newFieldError(backendField(backend.Name, "username/password"), "必须同时提供或同时留空")
		}
		if backend.Timeout.DurationValue() < 0 {
			return newFieldError(backendField(backend.Name, "timeout"), "不能为负数")
		}
		if backend.MaxRedirects < 0 {
			return newFieldError(backendField(backend.Name, "max_redirects"), "不能为负数")
		}

		if err := validateBackendURLs(backend); err != nil {
			return err
		}
	}

	return nil
}

func validateBackendURLs(b *BackendConfig) error {
	switch b.Type {
	case "http":
		if b.BaseURL == "" {
			return newFieldError(backendField(b.Name, "base_url"), "http backend 必须配置上游地址")
		}
		if err := validateUpstream(b.BaseURL); err != nil {
			return fmt.Errorf("%s: %w", backendField(b.Name, "base_url"), err)
		}
	case "pypi":
		for field, raw := range map[string]string{"index_url": b.IndexURL, "packages_url": b.PackagesURL} {
			if raw == "" {
				continue
			}
			if err := validateUpstream(raw); err != nil {
				return fmt.Errorf("%s: %w", backendField(b.Name, field), err)
			}
		}
	case "apt":
		if b.MirrorURL != "" {
			if err := validateUpstream(b.MirrorURL); err != nil {
				return fmt.Errorf("%s: %w", backendField(b.Name, "mirror_url"), err)
			}
		}
	case "docker":
		for i := range b.Registries {
			endpoint := b.Registries[i]
			if endpoint.RegistryURL == "" {
				return newFieldError(backendField(b.Name, fmt.Sprintf("registries[%d].registry_url", i)), "不能为空")
			}
			if err := validateUpstream(endpoint.RegistryURL); err != nil {
				return fmt.Errorf("%s: %w", backendField(b.Name, fmt.Sprintf("registries[%d].registry_url", i)), err)
			}
			if endpoint.AuthURL != "" {
				if err := validateUpstream(endpoint.AuthURL); err != nil {
					return fmt.Errorf("%s: %w", backendField(b.Name, fmt.Sprintf("registries[%d].auth_url", i)), err)
				}
			}
			if (endpoint.Username == "") != (endpoint.Password == "") {
				return newFieldError(backendField(b.Name, fmt.Sprintf("registries[%d].username/password", i)), "必须同时提供或同时留空")
			}
		}
		if b.RegistryURL != "" {
			if err := validateUpstream(b.RegistryURL); err != nil {
				return fmt.Errorf("%s: %w", backendField(b.Name, "registry_url"), err)
			}
		}
		if b.AuthURL != "" {
			if err := validateUpstream(b.AuthURL); err != nil {
				return fmt.Errorf("%s: %w", backendField(b.Name, "auth_url"), err)
			}
		}
	case "huggingface":
		if b.BaseURL != "" {
			if err := validateUpstream(b.BaseURL); err != nil {
				return fmt.Errorf("%s: %w", backendField(b.Name, "base_url"), err)
			}
		}
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// EffectiveTimeout 返回特定 backend 生效的上游超时，未覆盖时回退至全局值。
func (c *Config) EffectiveTimeout(b BackendConfig) Duration {
	if b.Timeout.DurationValue() > 0 {
		return b.Timeout
	}
	return c.Global.UpstreamTimeout
}

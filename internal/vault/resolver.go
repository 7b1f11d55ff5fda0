package vault

import (
	"context"
	"encoding/base64"
	"iter"
	"strings"
)

// Resolver 是单个上游家族的抓取策略：声明自己的路由前缀，并把一次请求
// 变成 chunk 序列。所有实现都遵守缓存优先：命中时只产出一个 Progress 块，
// 不触发任何上游请求。
type Resolver interface {
	// Name 返回配置里声明的实例名，用于日志。
	Name() string
	// Prefix 返回路由前缀（含首尾斜杠，如 /pypi/）。
	Prefix() string
	// CanHandle 判断路径是否归本实例处理（前缀匹配）。
	CanHandle(path string) bool
	// Fetch 产出一次抓取的 chunk 序列。消费方中断迭代时实现必须释放
	// 上游连接与文件句柄。
	Fetch(ctx context.Context, path string) iter.Seq[Chunk]
}

// Prober 是可选的存在性探测接口：先查缓存，未命中时向上游发起
// 仅元数据的探测（不下载正文），凭证规则与完整 fetch 一致。
type Prober interface {
	Probe(ctx context.Context, path string) (*ProbeInfo, error)
}

// ProbeInfo 描述一次探测结果。SizeBytes 为 -1 表示未知。
type ProbeInfo struct {
	SizeBytes   int64
	ContentType string
	FromCache   bool
}

// Credentials 表示可选的上游基本认证凭证。
type Credentials struct {
	Username string
	Password string
}

// Empty 判断是否未配置凭证。
func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}

// BasicHeader 返回 Authorization 头的值，凭证不完整时为空串。
func (c Credentials) BasicHeader() string {
	if c.Empty() {
		return ""
	}
	token := c.Username + ":" + c.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}

// StripPrefix 去掉路由前缀得到上游相对路径。
func StripPrefix(prefix, path string) string {
	return strings.TrimPrefix(path, prefix)
}

package cache

import (
	"context"
	"errors"
)

// DefaultContentType 是缺失元数据时的兜底类型，保证旧条目仍可被正常服务。
const DefaultContentType = "application/octet-stream"

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<CacheDir>/<prefix>/<path>.binary        # 实际正文
//	<CacheDir>/<prefix>/<path>.meta          # JSON {"content_type": "..."}
//	<CacheDir>/<prefix>/<path>.content_type  # 旧版纯文本 sidecar（只读兼容）
type Store interface {
	// Get 返回缓存条目句柄。若不存在则返回 ErrNotFound。正文与元数据均为
	// 惰性读取，调用 Get 本身只做一次 stat。
	Get(ctx context.Context, locator Locator) (*Entry, error)

	// Put 将完整正文写入缓存，contentType 非空时同时写出元数据 sidecar。
	// 实现需通过临时文件 + rename 保证原子性：正文先落盘，元数据随后写入，
	// 崩溃时不会出现半写正文。对同一 Locator 重复写入是幂等覆盖。
	Put(ctx context.Context, locator Locator, content []byte, contentType string) (*Entry, error)
}

// Locator 唯一定位一个缓存条目（resolver 前缀 + 相对路径）。
type Locator struct {
	Prefix string
	Path   string
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

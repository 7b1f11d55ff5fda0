// Package huggingface 实现 Hugging Face Hub 家族：模型与数据集文件均经由
// 301/302 重定向链抵达 CDN，由共享的 RedirectFetcher 负责追链与凭证剥离。
package huggingface

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/vault"
	"github.com/artifact-vault/artifact-vault/internal/vault/upstream"
)

const (
	defaultBaseURL = "https://huggingface.co"

	// 模型文件动辄数 GB，读取步长放大到 1MiB。
	defaultChunkSize = 1 << 20
)

// Options 是 huggingface 类型 backend 的构造参数。
type Options struct {
	Name         string
	Prefix       string
	BaseURL      string
	Token        string
	MaxRedirects int
	ChunkSize    int
}

// Resolver 是 Hugging Face Hub 的读穿实现。
type Resolver struct {
	name         string
	prefix       string
	baseURL      string
	token        string
	maxRedirects int
	chunkSize    int

	store  cache.Store
	client *http.Client
	logger *logrus.Logger
}

// New 规范化 base URL 后构造 resolver。
func New(opts Options, store cache.Store, client *http.Client, logger *logrus.Logger) (*Resolver, error) {
	name := opts.Name
	if name == "" {
		name = "huggingface"
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Resolver{
		name:         name,
		prefix:       opts.Prefix,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		token:        opts.Token,
		maxRedirects: opts.MaxRedirects,
		chunkSize:    chunkSize,
		store:        store,
		client:       client,
		logger:       logger,
	}, nil
}

func (r *Resolver) Name() string   { return r.name }
func (r *Resolver) Prefix() string { return r.prefix }

func (r *Resolver) CanHandle(path string) bool {
	return strings.HasPrefix(path, r.prefix)
}

// upstreamURL 把相对路径按文法映射到 Hub URL：datasets/ 开头且至少五段是
// 数据集，至少四段是模型，其余原样透传。
func (r *Resolver) upstreamURL(rel string) string {
	trimmed := strings.Trim(rel, "/")
	if trimmed == "" {
		return r.baseURL
	}
	parts := strings.Split(trimmed, "/")

	if parts[0] == "datasets" && len(parts) >= 5 {
		return r.baseURL + "/" + strings.Join(parts, "/")
	}
	if len(parts) >= 4 {
		return r.baseURL + "/" + strings.Join(parts, "/")
	}
	return r.baseURL + "/" + trimmed
}

func (r *Resolver) fetcher() *upstream.RedirectFetcher {
	authHeader := ""
	if r.token != "" {
		authHeader = "Bearer " + r.token
	}
	return &upstream.RedirectFetcher{
		Client:       r.client,
		MaxRedirects: r.maxRedirects,
		AuthHeader:   authHeader,
	}
}

func (r *Resolver) Fetch(ctx context.Context, path string) iter.Seq[vault.Chunk] {
	rel := vault.StripPrefix(r.prefix, path)
	locator := cache.Locator{Prefix: r.prefix, Path: rel}

	return func(yield func(vault.Chunk) bool) {
		if entry, err := r.store.Get(ctx, locator); err == nil {
			chunk, chunkErr := vault.CachedChunk(entry, "")
			if chunkErr != nil {
				yield(vault.ErrorChunk(chunkErr))
				return
			}
			yield(chunk)
			return
		} else if !errors.Is(err, cache.ErrNotFound) {
			yield(vault.ErrorChunk(vault.NewError(vault.KindStorage, path, err)))
			return
		}

		url := r.upstreamURL(rel)
		resp, err := r.fetcher().Open(ctx, url)
		if err != nil {
			yield(vault.ErrorChunk(err))
			return
		}
		defer resp.Body.Close()

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = cache.DefaultContentType
		}

		buffer, finished := vault.Pump(yield, resp.Body, vault.TotalFromResponse(resp), contentType, url, r.chunkSize)
		if !finished {
			return
		}

		// 不论跟了多少跳，缓存键始终是原始请求路径。
		if err := vault.Commit(ctx, r.store, locator, buffer, contentType); err != nil {
			yield(vault.ErrorChunk(err))
		}
	}
}

// Probe 先查缓存，未命中时追完重定向链后对最终 URL 发 HEAD。
func (r *Resolver) Probe(ctx context.Context, path string) (*vault.ProbeInfo, error) {
	rel := vault.StripPrefix(r.prefix, path)
	locator := cache.Locator{Prefix: r.prefix, Path: rel}

	if entry, err := r.store.Get(ctx, locator); err == nil {
		return &vault.ProbeInfo{
			SizeBytes:   entry.SizeBytes,
			ContentType: entry.ContentType(),
			FromCache:   true,
		}, nil
	}

	resp, err := r.fetcher().Probe(ctx, r.upstreamURL(rel))
	if err != nil {
		return nil, err
	}
	return &vault.ProbeInfo{
		SizeBytes:   resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

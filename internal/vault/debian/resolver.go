// Package debian 实现 APT 仓库家族：Release/Packages 元数据、pool 包体与
// 通用文件抓取。gzip 元数据对客户端保持压缩字节，落缓存前增量解压。
package debian

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/vault"
)

const (
	defaultMirrorURL = "http://archive.ubuntu.com/ubuntu"
	defaultUserAgent = "Artifact-Vault APT Backend/1.0"
)

// Options 是 apt 类型 backend 的构造参数。
type Options struct {
	Name        string
	Prefix      string
	MirrorURL   string
	UserAgent   string
	Credentials vault.Credentials
	ChunkSize   int
}

// Resolver 是 APT 镜像的读穿实现。
type Resolver struct {
	name      string
	prefix    string
	mirrorURL string
	userAgent string
	creds     vault.Credentials
	chunkSize int

	store  cache.Store
	client *http.Client
	logger *logrus.Logger
}

// New 规范化镜像 URL 后构造 resolver。
func New(opts Options, store cache.Store, client *http.Client, logger *logrus.Logger) (*Resolver, error) {
	name := opts.Name
	if name == "" {
		name = "apt"
	}
	mirrorURL := opts.MirrorURL
	if mirrorURL == "" {
		mirrorURL = defaultMirrorURL
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Resolver{
		name:      name,
		prefix:    opts.Prefix,
		mirrorURL: strings.TrimSuffix(mirrorURL, "/"),
		userAgent: userAgent,
		creds:     opts.Credentials,
		chunkSize: opts.ChunkSize,
		store:     store,
		client:    client,
		logger:    logger,
	}, nil
}

func (r *Resolver) Name() string   { return r.name }
func (r *Resolver) Prefix() string { return r.prefix }

func (r *Resolver) CanHandle(path string) bool {
	return strings.HasPrefix(path, r.prefix)
}

func (r *Resolver) Fetch(ctx context.Context, path string) iter.Seq[vault.Chunk] {
	rel := vault.StripPrefix(r.prefix, path)
	locator := cache.Locator{Prefix: r.prefix, Path: rel}

	return func(yield func(vault.Chunk) bool) {
		if entry, err := r.store.Get(ctx, locator); err == nil {
			// 命中时内容类型按扩展名词表推断，与首抓路径保持一致。
			chunk, chunkErr := vault.CachedChunk(entry, contentTypeFor(rel, ""))
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

		parsed := parsePath(rel)
		url := r.mirrorURL + "/" + strings.TrimPrefix(rel, "/")

		resp, err := r.get(ctx, url)
		if err != nil {
			yield(vault.ErrorChunk(vault.Errorf(vault.KindUpstream, url, "failed to fetch from APT repository: %v", err)))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			yield(vault.ErrorChunk(vault.StatusError(url, resp.StatusCode)))
			return
		}

		contentType := contentTypeFor(rel, resp.Header.Get("Content-Type"))
		gzipped := strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") ||
			strings.HasSuffix(rel, ".gz")

		if parsed.isMetadata() && gzipped {
			r.streamGzipMetadata(ctx, yield, resp, locator, contentType, url)
			return
		}

		buffer, finished := vault.Pump(yield, resp.Body, vault.TotalFromResponse(resp), contentType, url, r.chunkSize)
		if !finished {
			return
		}
		if err := vault.Commit(ctx, r.store, locator, buffer, contentType); err != nil {
			yield(vault.ErrorChunk(err))
		}
	}
}

// streamGzipMetadata 处理 gzip 包装的仓库元数据：客户端收到的始终是压缩
// 字节，缓存写入的是解压正文。每读到一段就对整个累积缓冲重试一次完整
// 解压，失败视作“数据还没到齐”。解压始终没成功时退回缓存原始字节。
func (r *Resolver) streamGzipMetadata(
	ctx context.Context,
	yield func(vault.Chunk) bool,
	resp *http.Response,
	locator cache.Locator,
	contentType string,
	url string,
) {
	total := vault.TotalFromResponse(resp)
	chunkSize := r.chunkSize
	if chunkSize <= 0 {
		chunkSize = vault.DefaultChunkSize
	}

	var raw []byte
	var decompressed []byte
	chunk := make([]byte, chunkSize)

	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			segment := make([]byte, n)
			copy(segment, chunk[:n])
			raw = append(raw, segment...)
			if inflated, ok := tryGunzip(raw); ok {
				decompressed = inflated
			}
			ok := yield(vault.Chunk{
				TotalLength:     total,
				Content:         segment,
				BytesDownloaded: int64(len(raw)),
				ContentType:     contentType,
			})
			if !ok {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			yield(vault.ErrorChunk(vault.Errorf(vault.KindStreaming, url, "error during streaming download: %v", err)))
			return
		}
	}

	cached := decompressed
	if len(cached) == 0 {
		cached = raw
	}
	if err := vault.Commit(ctx, r.store, locator, cached, contentType); err != nil {
		yield(vault.ErrorChunk(err))
	}
}

// tryGunzip 对完整缓冲做一次解压尝试，半截数据返回 false。
func tryGunzip(raw []byte) ([]byte, bool) {
	reader, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, false
	}
	if err := reader.Close(); err != nil {
		return nil, false
	}
	return out, true
}

// Probe 先查缓存，未命中时向镜像发 HEAD。
func (r *Resolver) Probe(ctx context.Context, path string) (*vault.ProbeInfo, error) {
	rel := vault.StripPrefix(r.prefix, path)
	locator := cache.Locator{Prefix: r.prefix, Path: rel}

	if entry, err := r.store.Get(ctx, locator); err == nil {
		return &vault.ProbeInfo{
			SizeBytes:   entry.SizeBytes,
			ContentType: contentTypeFor(rel, ""),
			FromCache:   true,
		}, nil
	}

	url := r.mirrorURL + "/" + strings.TrimPrefix(rel, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
	if err != nil {
		return nil, vault.NewError(vault.KindUpstream, url, err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	if header := r.creds.BasicHeader(); header != "" {
		req.Header.Set("Authorization", header)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, vault.NewError(vault.KindUpstream, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, vault.StatusError(url, resp.StatusCode)
	}
	return &vault.ProbeInfo{
		SizeBytes:   resp.ContentLength,
		ContentType: contentTypeFor(rel, resp.Header.Get("Content-Type")),
	}, nil
}

func (r *Resolver) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)
	// 显式声明 gzip，阻止 transport 透明解压：客户端要的就是压缩字节。
	req.Header.Set("Accept-Encoding", "gzip")
	if header := r.creds.BasicHeader(); header != "" {
		req.Header.Set("Authorization", header)
	}
	return r.client.Do(req)
}

// Package pypi 实现 PyPI simple index 家族：索引页与包页非流式抓取并改写
// 下载链接指回本代理，分发包文件以 identity 编码流式下载。
package pypi

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/vault"
)

const (
	defaultIndexURL    = "https://pypi.org/simple"
	defaultPackagesURL = "https://files.pythonhosted.org/packages"
)

// Options 是 pypi 类型 backend 的构造参数。
type Options struct {
	Name        string
	Prefix      string
	IndexURL    string
	PackagesURL string
	Credentials vault.Credentials
	ChunkSize   int
}

// Resolver 是 PyPI simple API 的读穿实现。
type Resolver struct {
	name        string
	prefix      string
	indexURL    string
	packagesURL string
	creds       vault.Credentials
	chunkSize   int

	store  cache.Store
	client *http.Client
	logger *logrus.Logger
}

// New 规范化 index/packages URL 尾斜杠后构造 resolver。
func New(opts Options, store cache.Store, client *http.Client, logger *logrus.Logger) (*Resolver, error) {
	name := opts.Name
	if name == "" {
		name = "pypi"
	}
	indexURL := opts.IndexURL
	if indexURL == "" {
		indexURL = defaultIndexURL
	}
	packagesURL := opts.PackagesURL
	if packagesURL == "" {
		packagesURL = defaultPackagesURL
	}
	return &Resolver{
		name:        name,
		prefix:      opts.Prefix,
		indexURL:    strings.TrimSuffix(indexURL, "/"),
		packagesURL: strings.TrimSuffix(packagesURL, "/"),
		creds:       opts.Credentials,
		chunkSize:   opts.ChunkSize,
		store:       store,
		client:      client,
		logger:      logger,
	}, nil
}

func (r *Resolver) Name() string   { return r.name }
func (r *Resolver) Prefix() string { return r.prefix }

func (r *Resolver) CanHandle(path string) bool {
	return strings.HasPrefix(path, r.prefix)
}

// pathKind 是 PyPI 路径文法的分类结果。
type pathKind int

const (
	kindInvalid pathKind = iota
	kindSimpleIndex
	kindSimplePackage
	kindPackageFile
	kindDirectFile
)

type parsedPath struct {
	kind        pathKind
	packageName string
	// filePath 是 packages/ 之后或 fallback 的相对路径。
	filePath string
}

// parsePath 区分三种路径形态：索引根、包索引页、分发包文件；
// 无法识别的路径退化为直接文件抓取。
func parsePath(rel string) parsedPath {
	trimmed := strings.Trim(rel, "/")
	if trimmed == "" {
		return parsedPath{kind: kindInvalid}
	}
	parts := strings.Split(trimmed, "/")

	if parts[0] == "simple" {
		switch len(parts) {
		case 1:
			return parsedPath{kind: kindSimpleIndex}
		case 2:
			return parsedPath{kind: kindSimplePackage, packageName: parts[1]}
		}
	}
	if parts[0] == "packages" && len(parts) >= 5 {
		return parsedPath{kind: kindPackageFile, filePath: strings.Join(parts[1:], "/")}
	}

	return parsedPath{kind: kindDirectFile, filePath: trimmed}
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

		parsed := parsePath(rel)
		switch parsed.kind {
		case kindSimpleIndex:
			r.fetchHTMLPage(ctx, yield, r.indexURL, locator, false)
		case kindSimplePackage:
			url := r.indexURL + "/" + parsed.packageName + "/"
			r.fetchHTMLPage(ctx, yield, url, locator, true)
		case kindPackageFile:
			url := r.packagesURL + "/" + parsed.filePath
			r.fetchPackageFile(ctx, yield, url, locator)
		case kindDirectFile:
			url := r.packagesURL + "/" + parsed.filePath
			r.fetchPackageFile(ctx, yield, url, locator)
		default:
			yield(vault.ErrorChunk(vault.Errorf(vault.KindInvalidPath, path, "invalid PyPI path: %s", rel)))
		}
	}
}

// fetchHTMLPage 整体抓取 HTML 索引页（体积小，不走流式）。rewrite 为 true 时
// 把指向真实包文件主机的绝对链接改写回本 resolver 前缀，后续下载也会被拦截。
func (r *Resolver) fetchHTMLPage(ctx context.Context, yield func(vault.Chunk) bool, url string, locator cache.Locator, rewrite bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		yield(vault.ErrorChunk(vault.NewError(vault.KindUpstream, url, err)))
		return
	}
	if header := r.creds.BasicHeader(); header != "" {
		req.Header.Set("Authorization", header)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		yield(vault.ErrorChunk(vault.Errorf(vault.KindUpstream, url, "failed to fetch from PyPI: %v", err)))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		yield(vault.ErrorChunk(vault.StatusError(url, resp.StatusCode)))
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		yield(vault.ErrorChunk(vault.Errorf(vault.KindStreaming, url, "error reading index page: %v", err)))
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/html"
	}

	if rewrite {
		rewritten, rewriteErr := rewritePackageLinks(body, r.prefix, r.packagesURL)
		if rewriteErr != nil {
			r.logger.WithFields(logrus.Fields{
				"action":   "pypi_rewrite",
				"resolver": r.name,
				"url":      url,
			}).Warn(rewriteErr.Error())
		} else {
			body = rewritten
		}
	}

	if err := vault.Commit(ctx, r.store, locator, body, contentType); err != nil {
		yield(vault.ErrorChunk(err))
		return
	}

	total := int64(len(body))
	yield(vault.Chunk{
		TotalLength:     &total,
		Content:         body,
		BytesDownloaded: total,
		ContentType:     contentType,
	})
}

// fetchPackageFile 流式下载分发包。请求 identity 编码，保证缓存字节与客户端
// 未压缩时收到的一致。
func (r *Resolver) fetchPackageFile(ctx context.Context, yield func(vault.Chunk) bool, url string, locator cache.Locator) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		yield(vault.ErrorChunk(vault.NewError(vault.KindUpstream, url, err)))
		return
	}
	req.Header.Set("Accept-Encoding", "identity")
	if header := r.creds.BasicHeader(); header != "" {
		req.Header.Set("Authorization", header)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		yield(vault.ErrorChunk(vault.Errorf(vault.KindUpstream, url, "failed to download from PyPI: %v", err)))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		yield(vault.ErrorChunk(vault.StatusError(url, resp.StatusCode)))
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = cache.DefaultContentType
	}

	buffer, finished := vault.Pump(yield, resp.Body, vault.TotalFromResponse(resp), contentType, url, r.chunkSize)
	if !finished {
		return
	}

	if err := vault.Commit(ctx, r.store, locator, buffer, contentType); err != nil {
		yield(vault.ErrorChunk(err))
	}
}

// Probe 先查缓存；未命中时只对分发包文件路径发 HEAD，索引页不做上游探测。
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

	parsed := parsePath(rel)
	var url string
	switch parsed.kind {
	case kindSimpleIndex:
		url = r.indexURL
	case kindSimplePackage:
		url = r.indexURL + "/" + parsed.packageName + "/"
	case kindPackageFile, kindDirectFile:
		url = r.packagesURL + "/" + parsed.filePath
	default:
		return nil, vault.Errorf(vault.KindInvalidPath, path, "invalid PyPI path: %s", rel)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
	if err != nil {
		return nil, vault.NewError(vault.KindUpstream, url, err)
	}
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
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

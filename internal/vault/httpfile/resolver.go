// Package httpfile 实现最朴素的上游家族：把相对路径直接拼到 base_url 之后,
// 不做任何路径分类。
package httpfile

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/vault"
)

// Options 是 http 类型 backend 的构造参数。
type Options struct {
	Name        string
	Prefix      string
	BaseURL     string
	Credentials vault.Credentials
	ChunkSize   int
}

// Resolver 是 plain HTTP 上游的读穿实现。
type Resolver struct {
	name      string
	prefix    string
	baseURL   string
	creds     vault.Credentials
	chunkSize int

	store  cache.Store
	client *http.Client
	logger *logrus.Logger
}

// New 校验 base_url 后构造 resolver。
func New(opts Options, store cache.Store, client *http.Client, logger *logrus.Logger) (*Resolver, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("http backend requires base_url")
	}
	name := opts.Name
	if name == "" {
		name = "http"
	}
	return &Resolver{
		name:      name,
		prefix:    opts.Prefix,
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
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

		url := r.baseURL + "/" + rel
		resp, err := r.get(ctx, url)
		if err != nil {
			yield(vault.ErrorChunk(vault.Errorf(vault.KindUpstream, url, "failed to download: %v", err)))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			yield(vault.ErrorChunk(vault.StatusError(url, resp.StatusCode)))
			return
		}

		contentType := resp.Header.Get("Content-Type")
		buffer, finished := vault.Pump(yield, resp.Body, vault.TotalFromResponse(resp), contentType, url, r.chunkSize)
		if !finished {
			return
		}

		if err := vault.Commit(ctx, r.store, locator, buffer, contentType); err != nil {
			r.logger.WithFields(logrus.Fields{
				"action":   "cache_commit",
				"resolver": r.name,
				"path":     rel,
			}).Error(err.Error())
			yield(vault.ErrorChunk(err))
		}
	}
}

// Probe 先查缓存，未命中时向上游发 HEAD，凭证规则与 Fetch 一致。
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

	url := r.baseURL + "/" + rel
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

func (r *Resolver) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	if header := r.creds.BasicHeader(); header != "" {
		req.Header.Set("Authorization", header)
	}
	return r.client.Do(req)
}

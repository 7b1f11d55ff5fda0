// Package docker 实现 Registry HTTP API V2 家族：manifest 与 blob 抓取、
// 按 scope 缓存的 bearer token，以及多 registry 的优先级回退。
package docker

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
	defaultRegistryURL = "https://registry-1.docker.io"
	defaultAuthURL     = "https://auth.docker.io"
	defaultService     = "registry.docker.io"

	manifestAccept = "application/vnd.docker.distribution.manifest.v2+json, " +
		"application/vnd.docker.distribution.manifest.list.v2+json, " +
		"application/vnd.docker.distribution.manifest.v1+prettyjws"
)

// EndpointOptions 描述一个候选 registry 端点。
type EndpointOptions struct {
	RegistryURL string
	AuthURL     string
	Credentials vault.Credentials
}

// Options 是 docker 类型 backend 的构造参数。Endpoints 按优先级排序，
// 为空时退回 Docker Hub 官方 registry。
type Options struct {
	Name      string
	Prefix    string
	Service   string
	Endpoints []EndpointOptions
	ChunkSize int
}

// Resolver 是容器 registry 的读穿实现。
type Resolver struct {
	name      string
	prefix    string
	chunkSize int

	endpoints []*upstream.Endpoint
	coord     *upstream.Coordinator

	store  cache.Store
	client *http.Client
	logger *logrus.Logger
}

// New 构造 resolver，端点列表保持配置顺序。
func New(opts Options, store cache.Store, client *http.Client, logger *logrus.Logger) (*Resolver, error) {
	name := opts.Name
	if name == "" {
		name = "docker"
	}
	service := opts.Service
	if service == "" {
		service = defaultService
	}

	endpointOpts := opts.Endpoints
	if len(endpointOpts) == 0 {
		endpointOpts = []EndpointOptions{{RegistryURL: defaultRegistryURL, AuthURL: defaultAuthURL}}
	}

	endpoints := make([]*upstream.Endpoint, 0, len(endpointOpts))
	for _, ep := range endpointOpts {
		if ep.RegistryURL == "" {
			return nil, errors.New("docker backend endpoint requires registry_url")
		}
		endpoints = append(endpoints, upstream.NewEndpoint(ep.RegistryURL, ep.AuthURL, service, ep.Credentials))
	}

	return &Resolver{
		name:      name,
		prefix:    opts.Prefix,
		chunkSize: opts.ChunkSize,
		endpoints: endpoints,
		coord:     &upstream.Coordinator{Store: store, Logger: logger},
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

		ref, ok := parseRepositoryPath(rel)
		if !ok {
			yield(vault.ErrorChunk(vault.Errorf(vault.KindInvalidPath, path, "invalid Docker artifact path: %s", rel)))
			return
		}

		attempts := make([]upstream.Attempt, 0, len(r.endpoints))
		for _, endpoint := range r.endpoints {
			attempts = append(attempts, upstream.Attempt{
				Name: endpoint.RegistryURL,
				Run:  r.attempt(endpoint, ref),
			})
		}

		for chunk := range r.coord.Fetch(ctx, locator, attempts) {
			if !yield(chunk) {
				return
			}
		}
	}
}

// attempt 构造对单个端点的抓取委托：成功时以完成标记收尾，缓存提交由
// 回退协调器统一处理。
func (r *Resolver) attempt(endpoint *upstream.Endpoint, ref reference) func(ctx context.Context) iter.Seq[vault.Chunk] {
	return func(ctx context.Context) iter.Seq[vault.Chunk] {
		return func(yield func(vault.Chunk) bool) {
			token, err := endpoint.Token(ctx, r.client, ref.repository)
			if err != nil {
				// token 服务异常不终止请求，退回匿名访问。
				r.logger.WithFields(logrus.Fields{
					"action":     "token_fallback",
					"resolver":   r.name,
					"registry":   endpoint.RegistryURL,
					"repository": ref.repository,
				}).Warn(err.Error())
			}

			url := endpoint.RegistryURL + "/v2/" + ref.repository + "/" + ref.resourceType + "/" + ref.identifier
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
			if err != nil {
				yield(vault.ErrorChunk(vault.NewError(vault.KindUpstream, url, err)))
				return
			}
			req.Header.Set("Accept", manifestAccept)
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}

			resp, err := r.client.Do(req)
			if err != nil {
				yield(vault.ErrorChunk(vault.Errorf(vault.KindUpstream, url, "failed to download from registry: %v", err)))
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
			yield(vault.CompletionChunk(buffer, contentType))
		}
	}
}

// Probe 先查缓存，未命中时按端点优先级发 HEAD，首个成功端点的元数据胜出。
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

	ref, ok := parseRepositoryPath(rel)
	if !ok {
		return nil, vault.Errorf(vault.KindInvalidPath, path, "invalid Docker artifact path: %s", rel)
	}

	var lastErr error
	for _, endpoint := range r.endpoints {
		token, err := endpoint.Token(ctx, r.client, ref.repository)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"action":   "token_fallback",
				"resolver": r.name,
				"registry": endpoint.RegistryURL,
			}).Warn(err.Error())
		}

		url := endpoint.RegistryURL + "/v2/" + ref.repository + "/" + ref.resourceType + "/" + ref.identifier
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
		if reqErr != nil {
			lastErr = vault.NewError(vault.KindUpstream, url, reqErr)
			continue
		}
		req.Header.Set("Accept", manifestAccept)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, doErr := r.client.Do(req)
		if doErr != nil {
			lastErr = vault.NewError(vault.KindUpstream, url, doErr)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			return &vault.ProbeInfo{
				SizeBytes:   resp.ContentLength,
				ContentType: resp.Header.Get("Content-Type"),
			}, nil
		}
		lastErr = vault.StatusError(url, resp.StatusCode)
	}
	return nil, lastErr
}

package server

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/config"
	"github.com/artifact-vault/artifact-vault/internal/vault"
	"github.com/artifact-vault/artifact-vault/internal/vault/debian"
	"github.com/artifact-vault/artifact-vault/internal/vault/docker"
	"github.com/artifact-vault/artifact-vault/internal/vault/httpfile"
	"github.com/artifact-vault/artifact-vault/internal/vault/huggingface"
	"github.com/artifact-vault/artifact-vault/internal/vault/pypi"
)

// BuildDispatcher 按配置顺序实例化全部 backend 并装配分发器。
// 每个 backend 拿到独立的 http.Client，超时可按 backend 覆盖。
func BuildDispatcher(cfg *config.Config, store cache.Store, logger *logrus.Logger) (*vault.Dispatcher, error) {
	resolvers := make([]vault.Resolver, 0, len(cfg.Backends))
	for i := range cfg.Backends {
		backend := cfg.Backends[i]
		client := NewUpstreamClient(cfg.EffectiveTimeout(backend).DurationValue())

		resolver, err := buildResolver(backend, store, client, logger)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", backend.Name, err)
		}
		resolvers = append(resolvers, resolver)

		logger.WithFields(logrus.Fields{
			"action":       "backend_registered",
			"backend":      backend.Name,
			"backend_type": backend.Type,
			"prefix":       resolver.Prefix(),
			"auth_mode":    backend.AuthMode(),
		}).Info("backend ready")
	}
	return vault.NewDispatcher(resolvers...), nil
}

func buildResolver(backend config.BackendConfig, store cache.Store, client *http.Client, logger *logrus.Logger) (vault.Resolver, error) {
	prefix := "/" + backend.Prefix + "/"
	creds := vault.Credentials{Username: backend.Username, Password: backend.Password}

	switch backend.Type {
	case "http":
		return httpfile.New(httpfile.Options{
			Name:        backend.Name,
			Prefix:      prefix,
			BaseURL:     backend.BaseURL,
			Credentials: creds,
			ChunkSize:   backend.ChunkSize,
		}, store, client, logger)
	case "pypi":
		return pypi.New(pypi.Options{
			Name:        backend.Name,
			Prefix:      prefix,
			IndexURL:    backend.IndexURL,
			PackagesURL: backend.PackagesURL,
			Credentials: creds,
			ChunkSize:   backend.ChunkSize,
		}, store, client, logger)
	case "docker":
		endpoints := make([]docker.EndpointOptions, 0, len(backend.Registries)+1)
		for _, registry := range backend.Registries {
			endpoints = append(endpoints, docker.EndpointOptions{
				RegistryURL: registry.RegistryURL,
				AuthURL:     registry.AuthURL,
				Credentials: vault.Credentials{Username: registry.Username, Password: registry.Password},
			})
		}
		if len(endpoints) == 0 && backend.RegistryURL != "" {
			endpoints = append(endpoints, docker.EndpointOptions{
				RegistryURL: backend.RegistryURL,
				AuthURL:     backend.AuthURL,
				Credentials: creds,
			})
		}
		return docker.New(docker.Options{
			Name:      backend.Name,
			Prefix:    prefix,
			Service:   backend.Service,
			Endpoints: endpoints,
			ChunkSize: backend.ChunkSize,
		}, store, client, logger)
	case "apt":
		return debian.New(debian.Options{
			Name:        backend.Name,
			Prefix:      prefix,
			MirrorURL:   backend.MirrorURL,
			UserAgent:   backend.UserAgent,
			Credentials: creds,
			ChunkSize:   backend.ChunkSize,
		}, store, client, logger)
	case "huggingface":
		return huggingface.New(huggingface.Options{
			Name:         backend.Name,
			Prefix:       prefix,
			BaseURL:      backend.BaseURL,
			Token:        backend.Token,
			MaxRedirects: backend.MaxRedirects,
			ChunkSize:    backend.ChunkSize,
		}, store, client, logger)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", backend.Type)
	}
}

package integration

import (
	"io"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/config"
	"github.com/artifact-vault/artifact-vault/internal/server"
)

// newVaultApp 按给定 backend 列表搭一个完整的 Fiber 应用，返回应用与
// 其使用的缓存目录。
func newVaultApp(t *testing.T, backends ...config.BackendConfig) (*fiber.App, string) {
	t.Helper()

	cacheDir := t.TempDir()
	cfg := &config.Config{
		Global: config.GlobalConfig{
			HTTPHost:        "127.0.0.1",
			HTTPPort:        8080,
			CacheDir:        cacheDir,
			UpstreamTimeout: config.Duration(10 * time.Second),
		},
		Backends: backends,
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := cache.NewStore(cacheDir)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}

	dispatcher, err := server.BuildDispatcher(cfg, store, logger)
	if err != nil {
		t.Fatalf("dispatcher error: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Dispatcher: dispatcher,
		ListenPort: cfg.Global.HTTPPort,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	return app, cacheDir
}

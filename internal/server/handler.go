package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/logging"
	"github.com/artifact-vault/artifact-vault/internal/vault"
)

// Handler 把 resolver 产出的 chunk 序列适配为 HTTP 响应：首个 chunk 决定
// 响应头，Progress 块依次写入正文，终结错误按来源映射状态码。
type Handler struct {
	Dispatcher *vault.Dispatcher
	Logger     *logrus.Logger
}

// Handle serves a single artifact request. GET streams the body, HEAD only
// probes existence when the resolver supports it.
func (h *Handler) Handle(c fiber.Ctx) error {
	path := string(c.Request().URI().Path())
	requestID := RequestID(c)
	started := time.Now()

	resolver, err := h.Dispatcher.Dispatch(path)
	if err != nil {
		h.Logger.WithFields(logrus.Fields{
			"action":     "dispatch",
			"path":       path,
			"request_id": requestID,
		}).Warn("no resolver matches path")
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "artifact_not_found",
		})
	}

	if c.Method() == http.MethodHead {
		return h.handleProbe(c, resolver, path, requestID, started)
	}

	return h.handleFetch(c, resolver, path, requestID, started)
}

func (h *Handler) handleFetch(c fiber.Ctx, resolver vault.Resolver, path, requestID string, started time.Time) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		bytesWritten int64
		totalLength  *int64
		contentType  string
		cacheHit     bool
		terminalErr  error
		headerDone   bool
		lastPercent  int
	)

	body := c.Response().BodyWriter()
	for chunk := range resolver.Fetch(ctx, path) {
		if chunk.Err != nil {
			terminalErr = chunk.Err
			break
		}
		if !headerDone {
			totalLength = chunk.TotalLength
			contentType = chunk.ContentType
			cacheHit = chunk.FromCache
			headerDone = true
		}
		if len(chunk.Content) > 0 {
			if _, err := body.Write(chunk.Content); err != nil {
				terminalErr = vault.NewError(vault.KindStreaming, path, err)
				break
			}
			bytesWritten += int64(len(chunk.Content))
		}
		h.logProgress(resolver, path, chunk, &lastPercent)
	}

	if terminalErr != nil && bytesWritten == 0 {
		status := statusForError(terminalErr)
		h.logResult(resolver, path, requestID, status, cacheHit, bytesWritten, started, terminalErr)
		return c.Status(status).SendString(terminalErr.Error())
	}

	if terminalErr != nil {
		// 正文已部分写出，无法再改状态码；记录后断开连接。
		h.logResult(resolver, path, requestID, fiber.StatusOK, cacheHit, bytesWritten, started, terminalErr)
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("stream interrupted: %v", terminalErr))
	}

	if contentType != "" {
		c.Set("Content-Type", contentType)
	}
	if totalLength != nil && *totalLength >= 0 {
		c.Response().Header.SetContentLength(int(*totalLength))
	}
	c.Set("X-Artifact-Vault-Cache-Hit", fmt.Sprintf("%t", cacheHit))
	c.Status(fiber.StatusOK)

	h.logResult(resolver, path, requestID, fiber.StatusOK, cacheHit, bytesWritten, started, nil)
	return nil
}

func (h *Handler) handleProbe(c fiber.Ctx, resolver vault.Resolver, path, requestID string, started time.Time) error {
	prober, ok := resolver.(vault.Prober)
	if !ok {
		c.Status(fiber.StatusOK)
		h.logResult(resolver, path, requestID, fiber.StatusOK, false, 0, started, nil)
		return nil
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	info, err := prober.Probe(ctx, path)
	if err != nil {
		status := statusForError(err)
		h.logResult(resolver, path, requestID, status, false, 0, started, err)
		return c.SendStatus(status)
	}

	if info.ContentType != "" {
		c.Set("Content-Type", info.ContentType)
	}
	if info.SizeBytes >= 0 {
		c.Response().Header.SetContentLength(int(info.SizeBytes))
	}
	c.Set("X-Artifact-Vault-Cache-Hit", fmt.Sprintf("%t", info.FromCache))
	c.Status(fiber.StatusOK)
	h.logResult(resolver, path, requestID, fiber.StatusOK, info.FromCache, 0, started, nil)
	return nil
}

// statusForError 把终结错误映射为 HTTP 状态：上游 404 透传为 404，
// 其余一律 502。
func statusForError(err error) int {
	if errors.Is(err, vault.ErrNoResolver) {
		return fiber.StatusNotFound
	}
	if vault.KindOf(err) == vault.KindNotFound {
		return fiber.StatusNotFound
	}
	return fiber.StatusBadGateway
}

func (h *Handler) logResult(resolver vault.Resolver, path, requestID string, status int, cacheHit bool, bytes int64, started time.Time, err error) {
	fields := logging.RequestFields(resolver.Name(), path, requestID, status, cacheHit)
	fields["bytes"] = bytes
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	entry := h.Logger.WithFields(fields)
	if err != nil {
		entry.WithField("error_kind", string(vault.KindOf(err))).Error(err.Error())
		return
	}
	entry.Info("request served")
}

// logProgress 在 Debug 级别按 10% 步长输出下载进度，总长度未知时静默。
func (h *Handler) logProgress(resolver vault.Resolver, path string, chunk vault.Chunk, lastPercent *int) {
	if !h.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	if chunk.TotalLength == nil || *chunk.TotalLength <= 0 {
		return
	}
	percent := int(chunk.BytesDownloaded * 100 / *chunk.TotalLength)
	if percent/10 <= *lastPercent/10 {
		return
	}
	*lastPercent = percent
	h.Logger.WithFields(logrus.Fields{
		"action":   "download_progress",
		"resolver": resolver.Name(),
		"path":     path,
		"percent":  percent,
	}).Debug("downloading")
}

package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/vault"
)

// fakeResolver 产出预置的 chunk 序列，便于覆盖监听层各分支。
type fakeResolver struct {
	name   string
	prefix string
	chunks []vault.Chunk
	probe  *vault.ProbeInfo
	perr   error
}

func (f *fakeResolver) Name() string   { return f.name }
func (f *fakeResolver) Prefix() string { return f.prefix }
func (f *fakeResolver) CanHandle(path string) bool {
	return strings.HasPrefix(path, f.prefix)
}

func (f *fakeResolver) Fetch(ctx context.Context, path string) iter.Seq[vault.Chunk] {
	return func(yield func(vault.Chunk) bool) {
		for _, chunk := range f.chunks {
			if !yield(chunk) {
				return
			}
		}
	}
}

func (f *fakeResolver) Probe(ctx context.Context, path string) (*vault.ProbeInfo, error) {
	if f.perr != nil {
		return nil, f.perr
	}
	return f.probe, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T, resolvers ...vault.Resolver) *fiber.App {
	t.Helper()
	app, err := NewApp(AppOptions{
		Logger:     quietLogger(),
		Dispatcher: vault.NewDispatcher(resolvers...),
		ListenPort: 8080,
	})
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	return app
}

func TestServeStreamedArtifact(t *testing.T) {
	total := int64(11)
	resolver := &fakeResolver{
		name:   "files",
		prefix: "/files/",
		chunks: []vault.Chunk{
			{TotalLength: &total, Content: []byte("hello "), BytesDownloaded: 6, ContentType: "text/plain"},
			{TotalLength: &total, Content: []byte("world"), BytesDownloaded: 11, ContentType: "text/plain"},
		},
	}
	app := newTestServer(t, resolver)

	resp, err := app.Test(httptest.NewRequest("GET", "/files/greeting.txt", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello world" {
		t.Fatalf("unexpected body: %q", string(body))
	}
	if got := resp.Header.Get("Content-Type"); got != "text/plain" {
		t.Fatalf("unexpected content type: %q", got)
	}
	if got := resp.Header.Get("X-Artifact-Vault-Cache-Hit"); got != "false" {
		t.Fatalf("expected cache miss header, got %q", got)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}

func TestServeCacheHitSetsHeader(t *testing.T) {
	total := int64(5)
	resolver := &fakeResolver{
		name:   "files",
		prefix: "/files/",
		chunks: []vault.Chunk{
			{TotalLength: &total, Content: []byte("cache"), BytesDownloaded: 5, ContentType: "text/plain", FromCache: true},
		},
	}
	app := newTestServer(t, resolver)

	resp, err := app.Test(httptest.NewRequest("GET", "/files/a.txt", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if got := resp.Header.Get("X-Artifact-Vault-Cache-Hit"); got != "true" {
		t.Fatalf("expected cache hit header, got %q", got)
	}
}

func TestUnmatchedPathReturns404(t *testing.T) {
	app := newTestServer(t, &fakeResolver{name: "files", prefix: "/files/"})

	resp, err := app.Test(httptest.NewRequest("GET", "/npm/lodash", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("artifact_not_found")) {
		t.Fatalf("expected artifact_not_found, got %s", string(body))
	}
}

func TestUpstreamErrorMapsTo502(t *testing.T) {
	resolver := &fakeResolver{
		name:   "files",
		prefix: "/files/",
		chunks: []vault.Chunk{
			vault.ErrorChunk(vault.Errorf(vault.KindUpstream, "files/a.txt", "upstream returned status 500")),
		},
	}
	app := newTestServer(t, resolver)

	resp, err := app.Test(httptest.NewRequest("GET", "/files/a.txt", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

func TestUpstreamNotFoundMapsTo404(t *testing.T) {
	resolver := &fakeResolver{
		name:   "files",
		prefix: "/files/",
		chunks: []vault.Chunk{
			vault.ErrorChunk(vault.StatusError("files/missing.txt", 404)),
		},
	}
	app := newTestServer(t, resolver)

	resp, err := app.Test(httptest.NewRequest("GET", "/files/missing.txt", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHeadUsesProber(t *testing.T) {
	resolver := &fakeResolver{
		name:   "files",
		prefix: "/files/",
		probe:  &vault.ProbeInfo{SizeBytes: 42, ContentType: "application/gzip", FromCache: true},
	}
	app := newTestServer(t, resolver)

	resp, err := app.Test(httptest.NewRequest("HEAD", "/files/a.tar.gz", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/gzip" {
		t.Fatalf("unexpected content type: %q", got)
	}
	if got := resp.Header.Get("X-Artifact-Vault-Cache-Hit"); got != "true" {
		t.Fatalf("expected cache hit header, got %q", got)
	}
}

func TestHeadProbeErrorMapsStatus(t *testing.T) {
	resolver := &fakeResolver{
		name:   "files",
		prefix: "/files/",
		perr:   vault.StatusError("files/missing", 404),
	}
	app := newTestServer(t, resolver)

	resp, err := app.Test(httptest.NewRequest("HEAD", "/files/missing", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestResolversDiagnostics(t *testing.T) {
	app := newTestServer(t,
		&fakeResolver{name: "pypi", prefix: "/pypi/"},
		&fakeResolver{name: "files", prefix: "/files/"},
	)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/resolvers", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"pypi"`)) || !bytes.Contains(body, []byte(`"/files/"`)) {
		t.Fatalf("diagnostics missing resolvers: %s", string(body))
	}
}

func TestFirstPrefixMatchWins(t *testing.T) {
	total := int64(1)
	first := &fakeResolver{
		name:   "first",
		prefix: "/pkg/",
		chunks: []vault.Chunk{{TotalLength: &total, Content: []byte("1"), BytesDownloaded: 1}},
	}
	second := &fakeResolver{
		name:   "second",
		prefix: "/pkg/",
		chunks: []vault.Chunk{vault.ErrorChunk(errors.New("should not run"))},
	}
	app := newTestServer(t, first, second)

	resp, err := app.Test(httptest.NewRequest("GET", "/pkg/a", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "1" {
		t.Fatalf("expected first resolver to win, got %q", string(body))
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	if _, err := NewApp(AppOptions{Dispatcher: vault.NewDispatcher(), ListenPort: 8080}); err == nil {
		t.Fatalf("missing logger should fail")
	}
	if _, err := NewApp(AppOptions{Logger: quietLogger(), ListenPort: 8080}); err == nil {
		t.Fatalf("missing dispatcher should fail")
	}
	if _, err := NewApp(AppOptions{Logger: quietLogger(), Dispatcher: vault.NewDispatcher()}); err == nil {
		t.Fatalf("missing port should fail")
	}
}

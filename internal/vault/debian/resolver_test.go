package debian

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/vault"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testStore(t *testing.T) cache.Store {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func collect(t *testing.T, r *Resolver, path string) []vault.Chunk {
	t.Helper()
	var chunks []vault.Chunk
	for c := range r.Fetch(context.Background(), path) {
		chunks = append(chunks, c)
	}
	return chunks
}

func gzipBytes(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(payload); err != nil {
		t.Fatalf("gzip write failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("gzip close failed: %v", err)
	}
	return buf.Bytes()
}

func TestParsePath(t *testing.T) {
	testCases := []struct {
		rel  string
		kind pathKind
	}{
		{"dists/jammy/Release", kindRelease},
		{"dists/jammy/InRelease", kindRelease},
		{"dists/jammy/Release.gpg", kindRelease},
		{"dists/jammy/main/binary-amd64/Packages.gz", kindPackages},
		{"dists/jammy/main/binary-amd64/Packages", kindPackages},
		{"dists/jammy/main/source/Sources.gz", kindDistOther},
		{"dists/jammy/Contents-amd64.gz", kindDistOther},
		{"pool/main/h/hello/hello_2.10-2_amd64.deb", kindPackageFile},
		{"random/file.txt", kindGeneric},
	}

	for _, tc := range testCases {
		if got := parsePath(tc.rel).kind; got != tc.kind {
			t.Errorf("parsePath(%q) = %v, want %v", tc.rel, got, tc.kind)
		}
	}
}

func TestParsePathExtractsPackagesFields(t *testing.T) {
	parsed := parsePath("dists/jammy/main/binary-amd64/Packages.gz")
	if parsed.distribution != "jammy" || parsed.component != "main" || parsed.architecture != "amd64" {
		t.Fatalf("unexpected fields: %+v", parsed)
	}
}

func TestContentTypeVocabulary(t *testing.T) {
	testCases := []struct {
		path string
		want string
	}{
		{"pool/main/h/hello/hello_2.10-2_amd64.deb", "application/vnd.debian.binary-package"},
		{"dists/jammy/main/binary-amd64/Packages.gz", "application/gzip"},
		{"dists/jammy/main/binary-amd64/Packages.xz", "application/x-xz"},
		{"dists/jammy/Release.gpg", "application/pgp-signature"},
		{"dists/jammy/main/binary-amd64/Packages", "text/plain"},
		{"dists/jammy/Release", "text/plain"},
	}

	for _, tc := range testCases {
		if got := contentTypeFor(tc.path, ""); got != tc.want {
			t.Errorf("contentTypeFor(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
	if got := contentTypeFor("unknown.bin", "application/custom"); got != "application/custom" {
		t.Errorf("词表之外应退回上游类型, got %q", got)
	}
	if got := contentTypeFor("unknown.bin", ""); got != "application/octet-stream" {
		t.Errorf("无上游类型时应退回 octet-stream, got %q", got)
	}
}

func TestFetchPackagesStreamsCompressedCachesDecompressed(t *testing.T) {
	plain := []byte("Package: hello\nVersion: 2.10-2\nArchitecture: amd64\n")
	compressed := gzipBytes(t, plain)

	var sawEncoding string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawEncoding = r.Header.Get("Accept-Encoding")
		w.Header().Set("Content-Type", "application/gzip")
		w.Write(compressed)
	}))
	defer upstream.Close()

	store := testStore(t)
	r, err := New(Options{
		Name:      "ubuntu",
		Prefix:    "/ubuntu/",
		MirrorURL: upstream.URL,
	}, store, upstream.Client(), quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	path := "/ubuntu/dists/jammy/main/binary-amd64/Packages.gz"
	chunks := collect(t, r, path)

	var streamed []byte
	for _, c := range chunks {
		if c.Err != nil {
			t.Fatalf("unexpected error: %v", c.Err)
		}
		streamed = append(streamed, c.Content...)
	}
	if !bytes.Equal(streamed, compressed) {
		t.Fatalf("客户端应收到压缩字节")
	}
	if sawEncoding != "gzip" {
		t.Fatalf("应显式声明 Accept-Encoding: gzip, got %q", sawEncoding)
	}

	// 缓存里存的是解压后的正文
	locator := cache.Locator{Prefix: "/ubuntu/", Path: "dists/jammy/main/binary-amd64/Packages.gz"}
	entry, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	content, err := entry.Content()
	if err != nil {
		t.Fatalf("Content failed: %v", err)
	}
	if !bytes.Equal(content, plain) {
		t.Fatalf("缓存应为解压正文, got %q", content)
	}
}

func TestFetchPackageFileBypassesGzipHandling(t *testing.T) {
	deb := []byte{0x21, 0x3c, 0x61, 0x72, 0x63, 0x68, 0x3e}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(deb)
	}))
	defer upstream.Close()

	store := testStore(t)
	r, err := New(Options{
		Name:      "ubuntu",
		Prefix:    "/ubuntu/",
		MirrorURL: upstream.URL,
	}, store, upstream.Client(), quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	path := "/ubuntu/pool/main/h/hello/hello_2.10-2_amd64.deb"
	chunks := collect(t, r, path)
	last := chunks[len(chunks)-1]
	if last.Err != nil {
		t.Fatalf("unexpected error: %v", last.Err)
	}
	if last.ContentType != "application/vnd.debian.binary-package" {
		t.Fatalf("unexpected content type: %q", last.ContentType)
	}

	locator := cache.Locator{Prefix: "/ubuntu/", Path: "pool/main/h/hello/hello_2.10-2_amd64.deb"}
	entry, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	content, _ := entry.Content()
	if !bytes.Equal(content, deb) {
		t.Fatalf("包体应原样缓存")
	}
}

func TestFetchCachedHitInfersContentType(t *testing.T) {
	store := testStore(t)
	locator := cache.Locator{Prefix: "/ubuntu/", Path: "dists/jammy/Release"}
	if _, err := store.Put(context.Background(), locator, []byte("Origin: Ubuntu\n"), "text/plain"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	r, err := New(Options{Name: "ubuntu", Prefix: "/ubuntu/"}, store, http.DefaultClient, quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	chunks := collect(t, r, "/ubuntu/dists/jammy/Release")
	if len(chunks) != 1 || !chunks[0].FromCache {
		t.Fatalf("应命中缓存: %+v", chunks)
	}
	if chunks[0].ContentType != "text/plain" {
		t.Fatalf("unexpected content type: %q", chunks[0].ContentType)
	}
}

func TestFetchUpstream404(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer upstream.Close()

	r, err := New(Options{Name: "ubuntu", Prefix: "/ubuntu/", MirrorURL: upstream.URL}, testStore(t), upstream.Client(), quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	chunks := collect(t, r, "/ubuntu/dists/nonexistent/Release")
	last := chunks[len(chunks)-1]
	if last.Err == nil || vault.KindOf(last.Err) != vault.KindNotFound {
		t.Fatalf("expected not_found, got %+v", last)
	}
}

func TestTryGunzipPartialData(t *testing.T) {
	full := gzipBytes(t, []byte("hello world"))
	if _, ok := tryGunzip(full[:len(full)/2]); ok {
		t.Fatalf("半截 gzip 数据不应解压成功")
	}
	out, ok := tryGunzip(full)
	if !ok || string(out) != "hello world" {
		t.Fatalf("完整数据应解压成功, got %q ok=%v", out, ok)
	}
}

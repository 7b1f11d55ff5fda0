package huggingface

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

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

func TestUpstreamURLMapping(t *testing.T) {
	r, err := New(Options{Name: "hf", Prefix: "/hf/", BaseURL: "https://huggingface.co"}, testStore(t), http.DefaultClient, quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	testCases := []struct {
		rel  string
		want string
	}{
		{
			rel:  "meta-llama/Llama-2-7b/resolve/main/config.json",
			want: "https://huggingface.co/meta-llama/Llama-2-7b/resolve/main/config.json",
		},
		{
			rel:  "datasets/squad/resolve/main/plain_text/train.parquet",
			want: "https://huggingface.co/datasets/squad/resolve/main/plain_text/train.parquet",
		},
		{
			rel:  "api/models",
			want: "https://huggingface.co/api/models",
		},
	}

	for _, tc := range testCases {
		if got := r.upstreamURL(tc.rel); got != tc.want {
			t.Errorf("upstreamURL(%q) = %q, want %q", tc.rel, got, tc.want)
		}
	}
}

func TestFetchFollowsRedirectAndCachesUnderRequestPath(t *testing.T) {
	payload := "model-weights"
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	var hubAuth, cdnAuth string
	mux.HandleFunc("/org/model/resolve/main/model.bin", func(w http.ResponseWriter, r *http.Request) {
		hubAuth = r.Header.Get("Authorization")
		http.Redirect(w, r, server.URL+"/cdn-store/blob123", http.StatusFound)
	})
	mux.HandleFunc("/cdn-store/blob123", func(w http.ResponseWriter, r *http.Request) {
		cdnAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, payload)
	})

	store := testStore(t)
	r, err := New(Options{
		Name:    "hf",
		Prefix:  "/hf/",
		BaseURL: server.URL,
		Token:   "hf_secret",
	}, store, server.Client(), quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	path := "/hf/org/model/resolve/main/model.bin"
	chunks := collect(t, r, path)
	var body []byte
	for _, c := range chunks {
		if c.Err != nil {
			t.Fatalf("unexpected error: %v", c.Err)
		}
		body = append(body, c.Content...)
	}
	if string(body) != payload {
		t.Fatalf("unexpected body: %q", body)
	}
	if hubAuth != "Bearer hf_secret" {
		t.Fatalf("hub 请求应携带 token, got %q", hubAuth)
	}
	if cdnAuth != "" {
		t.Fatalf("CDN 跳转后应丢弃 token, got %q", cdnAuth)
	}

	// 缓存键是原始请求路径而非重定向终点
	locator := cache.Locator{Prefix: "/hf/", Path: "org/model/resolve/main/model.bin"}
	entry, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("应按原始路径缓存: %v", err)
	}
	content, _ := entry.Content()
	if string(content) != payload {
		t.Fatalf("缓存正文不一致")
	}

	warm := collect(t, r, path)
	if len(warm) != 1 || !warm[0].FromCache {
		t.Fatalf("二次请求应命中缓存: %+v", warm)
	}
}

func TestFetchSurfacesRedirectLimit(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	hop := 0
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hop++
		http.Redirect(w, r, fmt.Sprintf("%s/hop%d/a/b/c", server.URL, hop), http.StatusFound)
	})

	r, err := New(Options{
		Name:         "hf",
		Prefix:       "/hf/",
		BaseURL:      server.URL,
		MaxRedirects: 3,
	}, testStore(t), server.Client(), quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	chunks := collect(t, r, "/hf/org/model/resolve/main/a.bin")
	if len(chunks) != 1 || chunks[0].Err == nil {
		t.Fatalf("超限应立即报错: %+v", chunks)
	}
	if vault.KindOf(chunks[0].Err) != vault.KindRedirect {
		t.Fatalf("expected redirect kind, got %s", vault.KindOf(chunks[0].Err))
	}
}

func TestProbeFollowsChain(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/org/model/resolve/main/config.json", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/blob", http.StatusFound)
	})
	mux.HandleFunc("/blob", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", "42")
	})

	r, err := New(Options{Name: "hf", Prefix: "/hf/", BaseURL: server.URL}, testStore(t), server.Client(), quietLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	info, err := r.Probe(context.Background(), "/hf/org/model/resolve/main/config.json")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if info.SizeBytes != 42 || info.ContentType != "application/json" {
		t.Fatalf("unexpected probe info: %+v", info)
	}
}

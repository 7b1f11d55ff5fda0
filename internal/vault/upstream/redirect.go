// Package upstream 收纳各 resolver 共享的上游抓取机制：跟随重定向链的
// fetcher、带 token 缓存的 registry 端点，以及多端点回退协调器。
package upstream

import (
	"context"
	"net/http"
	"strings"

	"github.com/artifact-vault/artifact-vault/internal/vault"
)

// DefaultMaxRedirects 是重定向链的默认上限。
const DefaultMaxRedirects = 5

// RedirectFetcher 手工跟随 CDN 式上游的重定向链：Requesting → Redirected* →
// Streaming。每一跳读取 Location；跳数超限或缺失 Location 都是硬失败。
// 一旦某跳的 host 含有 CDN 标记子串，后续所有请求不再携带凭证（CDN 端点
// 不需要 bearer token，部分还会拒绝它）。
type RedirectFetcher struct {
	Client *http.Client
	// MaxRedirects 为 0 时使用 DefaultMaxRedirects。
	MaxRedirects int
	// AuthHeader 是初始请求携带的 Authorization 值，可为空。
	AuthHeader string
	// CDNMarker 为空时默认 "cdn"。
	CDNMarker string
}

func (f *RedirectFetcher) maxRedirects() int {
	if f.MaxRedirects > 0 {
		return f.MaxRedirects
	}
	return DefaultMaxRedirects
}

func (f *RedirectFetcher) cdnMarker() string {
	if f.CDNMarker != "" {
		return strings.ToLower(f.CDNMarker)
	}
	return "cdn"
}

// probeClient 返回不自动跟随重定向的 client 副本，便于手工控制每一跳。
func (f *RedirectFetcher) probeClient() *http.Client {
	client := *f.Client
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &client
}

var redirectStatuses = map[int]struct{}{
	http.StatusMovedPermanently:  {},
	http.StatusFound:             {},
	http.StatusSeeOther:          {},
	http.StatusTemporaryRedirect: {},
	http.StatusPermanentRedirect: {},
}

// Resolve 跟随重定向链直到一个非重定向响应，返回最终 URL 与到达该 URL 时
// 仍应携带的 Authorization 值。上限按跟随的重定向数计：恰好 limit 跳后
// 拿到 200 仍算成功，只有第 limit+1 跳才越界。探测请求的响应体会被立即
// 关闭，正文下载由调用方对最终 URL 重新发起流式请求完成。
func (f *RedirectFetcher) Resolve(ctx context.Context, rawURL string) (string, string, error) {
	client := f.probeClient()
	currentURL := rawURL
	authHeader := f.AuthHeader
	limit := f.maxRedirects()

	redirects := 0
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, currentURL, http.NoBody)
		if err != nil {
			return "", "", vault.NewError(vault.KindUpstream, currentURL, err)
		}
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", "", vault.NewError(vault.KindUpstream, currentURL, err)
		}

		if _, redirected := redirectStatuses[resp.StatusCode]; redirected {
			location := resp.Header.Get("Location")
			resp.Body.Close()
			redirects++
			if redirects > limit {
				return "", "", vault.Errorf(vault.KindRedirect, rawURL, "too many redirects (>%d)", limit)
			}
			if location == "" {
				return "", "", vault.Errorf(vault.KindRedirect, currentURL, "redirect response without Location header")
			}
			next, err := resp.Request.URL.Parse(location)
			if err != nil {
				return "", "", vault.Errorf(vault.KindRedirect, currentURL, "invalid redirect target %q: %v", location, err)
			}
			currentURL = next.String()
			if strings.Contains(strings.ToLower(currentURL), f.cdnMarker()) {
				authHeader = ""
			}
			continue
		}

		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return currentURL, authHeader, nil
		}
		return "", "", vault.StatusError(currentURL, resp.StatusCode)
	}
}

// Open 解析重定向链后向最终 URL 重新发起流式 GET。探测响应不作为数据源，
// 返回的响应体由调用方负责关闭。
func (f *RedirectFetcher) Open(ctx context.Context, rawURL string) (*http.Response, error) {
	finalURL, authHeader, err := f.Resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, http.NoBody)
	if err != nil {
		return nil, vault.NewError(vault.KindUpstream, finalURL, err)
	}
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, vault.NewError(vault.KindUpstream, finalURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, vault.StatusError(finalURL, resp.StatusCode)
	}
	return resp, nil
}

// Probe 解析重定向链后向最终 URL 发起 HEAD，用于存在性探测。
func (f *RedirectFetcher) Probe(ctx context.Context, rawURL string) (*http.Response, error) {
	finalURL, authHeader, err := f.Resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, finalURL, http.NoBody)
	if err != nil {
		return nil, vault.NewError(vault.KindUpstream, finalURL, err)
	}
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, vault.NewError(vault.KindUpstream, finalURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, vault.StatusError(finalURL, resp.StatusCode)
	}
	return resp, nil
}

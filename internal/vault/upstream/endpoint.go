package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/artifact-vault/artifact-vault/internal/vault"
)

// Endpoint 描述一个 registry 风格的上游端点：registry 地址、token 服务地址
// 与可选凭证。端点持有按 scope 缓存的 bearer token：scope 不变时机会性复用，
// scope 变化时静默丢弃重新获取。token 读写由互斥锁串行化，端点实例可以被
// 并发请求共享。
type Endpoint struct {
	RegistryURL string
	AuthURL     string
	// Service 是 token 请求的 service 参数，如 registry.docker.io。
	Service     string
	Credentials vault.Credentials

	mu         sync.Mutex
	token      string
	tokenScope string
}

// NewEndpoint 规范化 URL 尾斜杠后构造端点。
func NewEndpoint(registryURL, authURL, service string, creds vault.Credentials) *Endpoint {
	return &Endpoint{
		RegistryURL: strings.TrimSuffix(registryURL, "/"),
		AuthURL:     strings.TrimSuffix(authURL, "/"),
		Service:     service,
		Credentials: creds,
	}
}

// Token 返回 repository pull scope 的 bearer token。token 服务不可用或返回
// 非 200 时回退匿名访问：返回空 token 与失败原因，调用方记录日志后继续。
func (e *Endpoint) Token(ctx context.Context, client *http.Client, repository string) (string, error) {
	scope := fmt.Sprintf("repository:%s:pull", repository)

	e.mu.Lock()
	if e.token != "" && e.tokenScope == scope {
		token := e.token
		e.mu.Unlock()
		return token, nil
	}
	e.mu.Unlock()

	if e.AuthURL == "" {
		return "", nil
	}

	tokenURL, err := url.Parse(e.AuthURL + "/token")
	if err != nil {
		return "", fmt.Errorf("invalid auth url: %w", err)
	}
	query := tokenURL.Query()
	if e.Service != "" {
		query.Set("service", e.Service)
	}
	query.Set("scope", scope)
	tokenURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), http.NoBody)
	if err != nil {
		return "", err
	}
	if !e.Credentials.Empty() {
		req.SetBasicAuth(e.Credentials.Username, e.Credentials.Password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf(
			"token request failed: status=%d body=%s",
			resp.StatusCode,
			strings.TrimSpace(string(body)),
		)
	}

	var tokenResp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	token := tokenResp.Token
	if token == "" {
		token = tokenResp.AccessToken
	}

	e.mu.Lock()
	e.token = token
	e.tokenScope = scope
	e.mu.Unlock()

	return token, nil
}

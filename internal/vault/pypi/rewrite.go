package pypi

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// knownPackageHost 是 PyPI 官方分发包主机，链接里一旦出现就改写。
const knownPackageHost = "files.pythonhosted.org/packages/"

// rewritePackageLinks 解析包页 HTML，把指向真实包文件主机（官方主机或配置
// 的 packages URL）的绝对链接改写为经过本 resolver 前缀的相对路径，其余
// 链接保持原样。改写失败时调用方退回原始正文。
func rewritePackageLinks(body []byte, prefix, packagesURL string) ([]byte, error) {
	node, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	rewriteNode(node, prefix, packagesURL)

	var buf bytes.Buffer
	if err := html.Render(&buf, node); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func rewriteNode(n *html.Node, prefix, packagesURL string) {
	if n.Type == html.ElementNode {
		for i, attr := range n.Attr {
			switch attr.Key {
			case "href", "data-dist-info-metadata", "data-core-metadata":
				if rewritten, ok := rewriteLink(attr.Val, prefix, packagesURL); ok {
					n.Attr[i].Val = rewritten
				}
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		rewriteNode(child, prefix, packagesURL)
	}
}

// rewriteLink 把包文件链接映射到 <prefix>packages/<rest>，保留查询与片段
// （sha256 等校验信息跟在 fragment 里）。
func rewriteLink(link, prefix, packagesURL string) (string, bool) {
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return "", false
	}

	cleanPrefix := strings.TrimSuffix(prefix, "/")

	if idx := strings.Index(link, knownPackageHost); idx >= 0 {
		rest := link[idx+len(knownPackageHost):]
		return cleanPrefix + "/packages/" + rest, true
	}

	base := strings.TrimSuffix(packagesURL, "/")
	if base != "" && strings.HasPrefix(link, base+"/") {
		rest := strings.TrimPrefix(link, base+"/")
		return cleanPrefix + "/packages/" + rest, true
	}

	return "", false
}

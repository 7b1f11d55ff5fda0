package debian

import "strings"

// pathKind 是 APT 仓库路径文法的分类结果。
type pathKind int

const (
	kindRelease pathKind = iota
	kindPackages
	kindDistOther
	kindPackageFile
	kindGeneric
)

type parsedPath struct {
	kind         pathKind
	distribution string
	component    string
	architecture string
	file         string
}

var releaseFiles = map[string]struct{}{
	"Release":     {},
	"Release.gpg": {},
	"InRelease":   {},
}

// parsePath 按首段分流：dists/ 下是发行版元数据与包索引，pool/ 下是包体，
// 其余走通用抓取。包索引要求第四段以 binary- 开头。
func parsePath(rel string) parsedPath {
	trimmed := strings.Trim(rel, "/")
	if trimmed == "" {
		return parsedPath{kind: kindGeneric, file: rel}
	}
	parts := strings.Split(trimmed, "/")

	if len(parts) >= 2 && parts[0] == "dists" {
		if len(parts) == 3 {
			if _, ok := releaseFiles[parts[2]]; ok {
				return parsedPath{
					kind:         kindRelease,
					distribution: parts[1],
					file:         parts[2],
				}
			}
		}
		if len(parts) >= 5 && strings.HasPrefix(parts[3], "binary-") {
			return parsedPath{
				kind:         kindPackages,
				distribution: parts[1],
				component:    parts[2],
				architecture: strings.TrimPrefix(parts[3], "binary-"),
				file:         strings.Join(parts[4:], "/"),
			}
		}
		return parsedPath{kind: kindDistOther, file: trimmed}
	}

	if len(parts) >= 2 && parts[0] == "pool" {
		return parsedPath{kind: kindPackageFile, file: trimmed}
	}

	return parsedPath{kind: kindGeneric, file: trimmed}
}

// isMetadata 判断该路径是否属于仓库元数据（流式抓取时启用 gzip 特判）。
func (p parsedPath) isMetadata() bool {
	switch p.kind {
	case kindRelease, kindPackages, kindDistOther:
		return true
	default:
		return false
	}
}

// contentTypeFor 按扩展名词表推断内容类型，词表之外退回上游响应头。
func contentTypeFor(path string, upstreamType string) string {
	switch {
	case strings.HasSuffix(path, ".deb"):
		return "application/vnd.debian.binary-package"
	case strings.HasSuffix(path, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(path, ".xz"):
		return "application/x-xz"
	case strings.HasSuffix(path, ".bz2"):
		return "application/x-bzip2"
	case strings.HasSuffix(path, ".gpg"), strings.HasSuffix(path, ".sig"):
		return "application/pgp-signature"
	case strings.Contains(path, "Packages"):
		return "text/plain"
	case strings.Contains(path, "Release"):
		return "text/plain"
	case upstreamType != "":
		return upstreamType
	default:
		return "application/octet-stream"
	}
}

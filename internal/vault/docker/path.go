package docker

import "strings"

// reference 是 registry 路径文法的解析结果。
type reference struct {
	// repository 形如 library/ubuntu 或 myuser/myimage。
	repository   string
	resourceType string
	identifier   string
}

// parseRepositoryPath 把相对路径解析为 (repository, resource_type, identifier)。
// repository 固定取前两段：非 library 开头的四段路径按 user/image 处理，
// 未限定命名空间的镜像由客户端侧补全 library/ 前缀。段数不足四或资源类型
// 不是 manifests/blobs 即解析失败。
func parseRepositoryPath(rel string) (reference, bool) {
	parts := strings.Split(strings.Trim(rel, "/"), "/")
	if len(parts) < 4 {
		return reference{}, false
	}

	ref := reference{
		repository:   parts[0] + "/" + parts[1],
		resourceType: parts[2],
		identifier:   parts[3],
	}

	if ref.resourceType != "manifests" && ref.resourceType != "blobs" {
		return reference{}, false
	}
	return ref, true
}

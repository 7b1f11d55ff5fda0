package vault

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/artifact-vault/artifact-vault/internal/cache"
)

// DefaultChunkSize 是常规上游的读取步长。
const DefaultChunkSize = 8 * 1024

// CachedChunk 读取缓存条目正文并构造命中块：TotalLength 与 BytesDownloaded
// 均等于正文长度，序列到此终止。contentType 为空时取 sidecar 元数据。
func CachedChunk(entry *cache.Entry, contentType string) (Chunk, error) {
	content, err := entry.Content()
	if err != nil {
		return Chunk{}, NewError(KindStorage, entry.FilePath, err)
	}
	if contentType == "" {
		contentType = entry.ContentType()
	}
	total := int64(len(content))
	return Chunk{
		TotalLength:     &total,
		Content:         content,
		BytesDownloaded: total,
		ContentType:     contentType,
		FromCache:       true,
	}, nil
}

// TotalFromResponse 把上游的 Content-Length 转成可选总长度。
func TotalFromResponse(resp *http.Response) *int64 {
	if resp == nil || resp.ContentLength < 0 {
		return nil
	}
	total := resp.ContentLength
	return &total
}

// Pump 按 chunkSize 从 body 读取正文：每读到一段立即作为 Progress 发给
// 消费方，同时追加到累积缓冲。返回累积缓冲与序列是否正常走到 EOF——
// 消费方中断迭代或读取出错（此时已发出终结错误块）都算 false。
func Pump(yield func(Chunk) bool, body io.Reader, total *int64, contentType, resource string, chunkSize int) ([]byte, bool) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var buffer []byte
	chunk := make([]byte, chunkSize)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			segment := make([]byte, n)
			copy(segment, chunk[:n])
			buffer = append(buffer, segment...)
			ok := yield(Chunk{
				TotalLength:     total,
				Content:         segment,
				BytesDownloaded: int64(len(buffer)),
				ContentType:     contentType,
			})
			if !ok {
				return buffer, false
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buffer, true
			}
			yield(ErrorChunk(Errorf(KindStreaming, resource, "error during streaming download: %v", err)))
			return buffer, false
		}
	}
}

// Commit 把非空累积缓冲写入缓存；空缓冲（真实零长度产物）不会创建条目。
// 写入失败返回 StorageError，由调用方决定是否作为终结错误块发出。
func Commit(ctx context.Context, store cache.Store, locator cache.Locator, buffer []byte, contentType string) error {
	if len(buffer) == 0 {
		return nil
	}
	if _, err := store.Put(ctx, locator, buffer, contentType); err != nil {
		return NewError(KindStorage, locator.Prefix+locator.Path, err)
	}
	return nil
}

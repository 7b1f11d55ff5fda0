package upstream

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/vault"
)

// Attempt 是对单个端点的一次抓取委托。序列以错误块或完成标记结尾：
// 错误块触发换下一个端点，完成标记携带完整缓冲交由协调器提交缓存。
type Attempt struct {
	Name string
	Run  func(ctx context.Context) iter.Seq[vault.Chunk]
}

// Coordinator 依优先级尝试等价上游端点，首个成功者胜出，之后的端点不再尝试。
type Coordinator struct {
	Store  cache.Store
	Logger *logrus.Logger
}

// Fetch 逐个端点委托抓取。失败端点在出错前已发出的 Progress 块会照常转发
// 给消费方（随后端点被放弃）；全部端点失败时发出一个聚合错误块，按端点
// 顺序拼接各自的失败原因。
func (c *Coordinator) Fetch(ctx context.Context, locator cache.Locator, attempts []Attempt) iter.Seq[vault.Chunk] {
	return func(yield func(vault.Chunk) bool) {
		var failures []string

		for _, attempt := range attempts {
			failed := false
			for chunk := range attempt.Run(ctx) {
				if chunk.Err != nil {
					failures = append(failures, fmt.Sprintf("%s: %v", attempt.Name, chunk.Err))
					if c.Logger != nil {
						c.Logger.WithFields(logrus.Fields{
							"action":   "endpoint_failed",
							"endpoint": attempt.Name,
							"path":     locator.Path,
						}).Warn(chunk.Err.Error())
					}
					failed = true
					break
				}
				if chunk.Complete {
					if err := vault.Commit(ctx, c.Store, locator, chunk.ContentBuffer, chunk.ContentType); err != nil {
						yield(vault.ErrorChunk(err))
					}
					return
				}
				if !yield(chunk) {
					return
				}
			}
			if !failed {
				// 序列未以终结元素收尾，视为端点正常完成。
				return
			}
		}

		yield(vault.ErrorChunk(vault.Errorf(
			vault.KindUpstream,
			locator.Prefix+locator.Path,
			"all upstream endpoints failed: %s",
			strings.Join(failures, "; "),
		)))
	}
}

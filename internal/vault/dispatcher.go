package vault

import "errors"

// ErrNoResolver 表示没有任何 resolver 声明处理该路径，监听层映射为 404。
var ErrNoResolver = errors.New("no resolver matches path")

// Dispatcher 按配置顺序持有 resolver 列表，路由时首个 CanHandle 命中者获胜。
// 前缀是调用方排序的优先级而非全局唯一：两个前缀重叠的 resolver 永远由
// 靠前的那个接管。
type Dispatcher struct {
	resolvers []Resolver
}

// NewDispatcher 以配置顺序构建分发器。
func NewDispatcher(resolvers ...Resolver) *Dispatcher {
	return &Dispatcher{resolvers: resolvers}
}

// Dispatch 返回首个声明能处理 path 的 resolver。
func (d *Dispatcher) Dispatch(path string) (Resolver, error) {
	for _, r := range d.resolvers {
		if r.CanHandle(path) {
			return r, nil
		}
	}
	return nil, ErrNoResolver
}

// Resolvers 返回注册顺序的 resolver 列表，供诊断端输出。
func (d *Dispatcher) Resolvers() []Resolver {
	result := make([]Resolver, len(d.resolvers))
	copy(result, d.resolvers)
	return result
}

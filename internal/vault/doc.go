// Package vault 定义读穿缓存的核心协议：Chunk 流、Resolver 合约与
// 按前缀优先匹配的 Dispatcher。
//
// 一次 fetch 是一个 pull 式的 chunk 序列（iter.Seq[Chunk]）：消费方每取一个
// chunk，生产方才继续读取上游；消费方中途放弃迭代时，生产方的 defer 清理
// 仍会执行，上游连接与文件句柄不会泄漏。序列中至多出现一个终结元素
// （错误或完成标记），Progress 的 BytesDownloaded 单调不减。
//
// 各上游家族的 Resolver 实现位于本包的子目录（httpfile/pypi/docker/
// debian/huggingface），共享本包的流式读取与缓存提交纪律。
package vault

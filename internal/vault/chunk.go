package vault

// Chunk 是流式抓取协议的最小单元，三种形态互斥：
//
//   - Progress：携带一段正文与累计下载字节数；
//   - 终结错误：Err 非空，结束本次 fetch 序列；
//   - 完成标记：Complete 为 true，仅由多上游回退协调器内部使用，
//     表示整个正文已缓冲完毕、可以提交缓存。
type Chunk struct {
	// TotalLength 是上游声明的总长度；上游未给出 Content-Length 时为 nil。
	TotalLength *int64
	// Content 是本段正文字节。
	Content []byte
	// BytesDownloaded 是到本段为止的累计字节数，整个序列内单调不减。
	BytesDownloaded int64
	// ContentType 是上游或缓存给出的内容类型，可能为空。
	ContentType string
	// FromCache 标记本 chunk 来自缓存命中（命中时序列只有这一个元素）。
	FromCache bool

	// Err 非空时本 chunk 为终结错误。
	Err error

	// Complete / ContentBuffer 构成完成标记，见上。
	Complete      bool
	ContentBuffer []byte
}

// ErrorChunk 构造终结错误块。
func ErrorChunk(err error) Chunk {
	return Chunk{Err: err}
}

// CompletionChunk 构造完成标记，buf 为完整正文。
func CompletionChunk(buf []byte, contentType string) Chunk {
	return Chunk{Complete: true, ContentBuffer: buf, ContentType: contentType}
}

// IsTerminal 判断 chunk 是否结束序列。
func (c Chunk) IsTerminal() bool {
	return c.Err != nil || c.Complete
}

package vault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 给 fetch 失败分类；监听层据此输出日志字段，错误文本则直接回给客户端。
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindAuthRequired Kind = "auth_required"
	KindForbidden    Kind = "forbidden"
	KindRateLimited  Kind = "rate_limited"
	KindUpstream     Kind = "upstream_error"
	KindRedirect     Kind = "redirect_protocol"
	KindStreaming    Kind = "streaming_error"
	KindInvalidPath  Kind = "invalid_path"
	KindStorage      Kind = "storage_error"
)

// Error 是 Resolver 边界统一吐出的错误形态：带分类、出错资源与原因。
type Error struct {
	Kind     Kind
	Resource string
	Cause    error
}

func (e *Error) Error() string {
	switch {
	case e.Resource != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Resource, e.Cause)
	case e.Resource != "":
		return fmt.Sprintf("%s: %s", e.Resource, string(e.Kind))
	case e.Cause != nil:
		return e.Cause.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError 构造分类错误。
func NewError(kind Kind, resource string, cause error) *Error {
	return &Error{Kind: kind, Resource: resource, Cause: cause}
}

// Errorf 构造带格式化原因的分类错误。
func Errorf(kind Kind, resource, format string, args ...any) *Error {
	return &Error{Kind: kind, Resource: resource, Cause: fmt.Errorf(format, args...)}
}

// StatusError 把上游非 2xx 状态码映射到错误分类。
func StatusError(resource string, status int) *Error {
	switch status {
	case http.StatusNotFound:
		return Errorf(KindNotFound, resource, "upstream returned 404")
	case http.StatusUnauthorized:
		return Errorf(KindAuthRequired, resource, "upstream returned 401, authentication required")
	case http.StatusForbidden:
		return Errorf(KindForbidden, resource, "upstream returned 403, access forbidden")
	case http.StatusTooManyRequests:
		return Errorf(KindRateLimited, resource, "upstream rate limited the request (429)")
	default:
		return Errorf(KindUpstream, resource, "upstream returned status %d", status)
	}
}

// KindOf 解出错误分类，普通错误归为 upstream_error。
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUpstream
}

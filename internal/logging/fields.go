package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 resolver/路径/命中状态字段，供请求日志复用。
func RequestFields(resolver, path, requestID string, status int, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"action":     "artifact_request",
		"resolver":   resolver,
		"path":       path,
		"request_id": requestID,
		"status":     status,
		"cache_hit":  cacheHit,
	}
}

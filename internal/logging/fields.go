package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求 ID、目标地址与缓存键，供代理请求日志复用。
// key 在派生前为空，此时不输出该字段。
func RequestFields(requestID, method, target, key string) logrus.Fields {
	fields := logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"target":     target,
	}
	if key != "" {
		fields["key"] = key
	}
	return fields
}

// OutcomeFields 记录响应来自哪一层缓存、最终状态码与耗时。
func OutcomeFields(tier string, status int, started time.Time) logrus.Fields {
	return logrus.Fields{
		"tier":       tier,
		"status":     status,
		"cache_hit":  tier == "edge" || tier == "object",
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
}

// Merge 将多组字段合并为一份，后者覆盖前者。
func Merge(sets ...logrus.Fields) logrus.Fields {
	out := logrus.Fields{}
	for _, set := range sets {
		for k, v := range set {
			out[k] = v
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/any-hub/readthrough/internal/cache"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if !supportedDriver(g.StoreDriver) {
		return newFieldError("Global.StoreDriver", "仅支持 "+strings.Join(cache.Drivers(), "|"))
	}
	if strings.TrimSpace(g.StoragePath) == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.ClientStallTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ClientStallTimeout", "必须大于 0")
	}
	if g.ClientWriteTimeout.DurationValue() < 0 {
		return newFieldError("Global.ClientWriteTimeout", "不能为负数")
	}
	if g.PersistWorkers <= 0 {
		return newFieldError("Global.PersistWorkers", "必须大于 0")
	}
	if strings.TrimSpace(g.CacheControl) == "" {
		return newFieldError("Global.CacheControl", "不能为空")
	}
	if g.HitHeader == "" {
		return newFieldError("Global.HitHeader", "不能为空")
	}
	if strings.ContainsAny(g.HitHeader, " :\t") {
		return newFieldError("Global.HitHeader", "不是合法的头部名称")
	}
	if g.FaviconKey == "" {
		return newFieldError("Global.FaviconKey", "不能为空")
	}
	if g.EdgeCacheMaxSize < 0 {
		return newFieldError("Global.EdgeCacheMaxSize", "不能为负数")
	}
	if g.EdgeEnabled() {
		if g.EdgeCacheMaxEntry <= 0 || g.EdgeCacheMaxEntry > g.EdgeCacheMaxSize {
			return newFieldError("Global.EdgeCacheMaxEntry", "必须在 1 与 EdgeCacheMaxSize 之间")
		}
		if g.EdgeCacheTTL.DurationValue() < 0 {
			return newFieldError("Global.EdgeCacheTTL", "不能为负数")
		}
	}
	for i, host := range g.BufferedHosts {
		if err := validateHost(host); err != nil {
			return fmt.Errorf("%s: %w", indexField("Global.BufferedHosts", i), err)
		}
	}

	return c.Access.validate()
}

func (a AccessConfig) validate() error {
	if len(a.ReadKeys) == 0 && len(a.WriteKeys) == 0 {
		return errors.New("至少需要配置一个读或写凭证")
	}
	for i, key := range a.ReadKeys {
		if strings.TrimSpace(key) == "" {
			return newFieldError(indexField("Access.ReadKeys", i), "不能为空")
		}
	}
	for i, key := range a.WriteKeys {
		if strings.TrimSpace(key) == "" {
			return newFieldError(indexField("Access.WriteKeys", i), "不能为空")
		}
	}
	return nil
}

func supportedDriver(driver string) bool {
	for _, d := range cache.Drivers() {
		if d == driver {
			return true
		}
	}
	return false
}

func validateHost(host string) error {
	if host == "" {
		return errors.New("主机名不能为空")
	}
	if strings.Contains(host, "/") {
		return errors.New("主机名不允许包含路径")
	}
	if strings.Contains(host, " ") {
		return errors.New("主机名不允许包含空格")
	}
	if strings.HasPrefix(host, "http:") || strings.HasPrefix(host, "https:") {
		return errors.New("主机名不应包含协议头")
	}
	return nil
}

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	StoreDriver        string   `mapstructure:"StoreDriver"`
	StoragePath        string   `mapstructure:"StoragePath"`
	UpstreamTimeout    Duration `mapstructure:"UpstreamTimeout"`
	// ClientStallTimeout 是单次向客户端写入允许阻塞的最长时间，超时后客户端被断开，缓存写入继续。
	ClientStallTimeout Duration `mapstructure:"ClientStallTimeout"`
	ClientWriteTimeout Duration `mapstructure:"ClientWriteTimeout"`
	CacheControl       string   `mapstructure:"CacheControl"`
	HitHeader          string   `mapstructure:"HitHeader"`
	EdgeCacheMaxSize   int64    `mapstructure:"EdgeCacheMaxSize"`
	EdgeCacheMaxEntry  int64    `mapstructure:"EdgeCacheMaxEntry"`
	EdgeCacheTTL       Duration `mapstructure:"EdgeCacheTTL"`
	PersistWorkers     int      `mapstructure:"PersistWorkers"`
	BufferedHosts      []string `mapstructure:"BufferedHosts"`
	FaviconKey         string   `mapstructure:"FaviconKey"`
}

// AccessConfig 是凭证白名单。写凭证同时具备读权限。
type AccessConfig struct {
	ReadKeys  []string `mapstructure:"ReadKeys"`
	WriteKeys []string `mapstructure:"WriteKeys"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Access AccessConfig `mapstructure:"Access"`
}

// EdgeEnabled 表示是否启用进程内边缘缓存。
func (g GlobalConfig) EdgeEnabled() bool {
	return g.EdgeCacheMaxSize > 0
}

// KeyCounts 返回读/写凭证数量，仅用于日志摘要，不输出凭证本身。
func (a AccessConfig) KeyCounts() (read, write int) {
	return len(a.ReadKeys), len(a.WriteKeys)
}

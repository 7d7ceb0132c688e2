package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 默认值集中在这里，setDefaults 与 applyGlobalDefaults 共用。
const (
	DefaultListenPort        = 8787
	DefaultStoreDriver       = "fs"
	DefaultCacheControl      = "public, max-age=604800, immutable"
	DefaultHitHeader         = "X-Readthrough-Cache-Hit"
	DefaultEdgeCacheMaxSize  = 64 * 1024 * 1024
	DefaultEdgeCacheMaxEntry = 8 * 1024 * 1024
	DefaultPersistWorkers    = 16
	DefaultFaviconKey        = "favicon.ico"
	DefaultClientStall       = 30 * time.Second
	DefaultClientWrite       = 10 * time.Minute
)

// envBindings 将少量常用字段暴露为环境变量，便于容器部署时注入凭证。
var envBindings = map[string]string{
	"Access.ReadKeys":  "READTHROUGH_READ_KEYS",
	"Access.WriteKeys": "READTHROUGH_WRITE_KEYS",
	"ListenPort":       "READTHROUGH_LISTEN_PORT",
	"StoragePath":      "READTHROUGH_STORAGE_PATH",
	"LogLevel":         "READTHROUGH_LOG_LEVEL",
}

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量覆盖与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyAccessDefaults(&cfg.Access)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", DefaultListenPort)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoreDriver", DefaultStoreDriver)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("ClientStallTimeout", DefaultClientStall.String())
	v.SetDefault("ClientWriteTimeout", DefaultClientWrite.String())
	v.SetDefault("CacheControl", DefaultCacheControl)
	v.SetDefault("HitHeader", DefaultHitHeader)
	v.SetDefault("EdgeCacheMaxSize", DefaultEdgeCacheMaxSize)
	v.SetDefault("EdgeCacheMaxEntry", DefaultEdgeCacheMaxEntry)
	v.SetDefault("EdgeCacheTTL", "1h")
	v.SetDefault("PersistWorkers", DefaultPersistWorkers)
	v.SetDefault("BufferedHosts", []string{})
	v.SetDefault("FaviconKey", DefaultFaviconKey)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = DefaultListenPort
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.ClientStallTimeout.DurationValue() == 0 {
		g.ClientStallTimeout = Duration(DefaultClientStall)
	}
	g.StoreDriver = strings.ToLower(strings.TrimSpace(g.StoreDriver))
	if g.StoreDriver == "" {
		g.StoreDriver = DefaultStoreDriver
	}
	g.HitHeader = strings.TrimSpace(g.HitHeader)
	g.FaviconKey = strings.TrimSpace(g.FaviconKey)
	g.BufferedHosts = trimAll(g.BufferedHosts)
}

func applyAccessDefaults(a *AccessConfig) {
	a.ReadKeys = trimAll(a.ReadKeys)
	a.WriteKeys = trimAll(a.WriteKeys)
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

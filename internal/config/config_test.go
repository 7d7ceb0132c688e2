package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 9090 {
		t.Fatalf("ListenPort 应当被解析, got %d", cfg.Global.ListenPort)
	}
	if cfg.Global.StoreDriver != "sqlite" {
		t.Fatalf("StoreDriver 应当被解析, got %s", cfg.Global.StoreDriver)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 45*time.Second {
		t.Fatalf("整数秒应解析为 Duration, got %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Global.CacheControl != DefaultCacheControl {
		t.Fatalf("CacheControl 应该自动填充默认值, got %q", cfg.Global.CacheControl)
	}
	if cfg.Global.HitHeader != DefaultHitHeader {
		t.Fatalf("HitHeader 应该自动填充默认值, got %q", cfg.Global.HitHeader)
	}
	if cfg.Global.EdgeCacheMaxSize != DefaultEdgeCacheMaxSize || cfg.Global.EdgeCacheTTL.DurationValue() != time.Hour {
		t.Fatalf("边缘缓存默认值缺失: %+v", cfg.Global)
	}
	if cfg.Global.ClientStallTimeout.DurationValue() != DefaultClientStall || cfg.Global.ClientWriteTimeout.DurationValue() != DefaultClientWrite {
		t.Fatalf("客户端写超时默认值缺失: stall=%s write=%s", cfg.Global.ClientStallTimeout.DurationValue(), cfg.Global.ClientWriteTimeout.DurationValue())
	}
	if cfg.Global.PersistWorkers != DefaultPersistWorkers {
		t.Fatalf("PersistWorkers 默认值缺失")
	}
	if cfg.Global.FaviconKey != DefaultFaviconKey {
		t.Fatalf("FaviconKey 默认值缺失")
	}
	if len(cfg.Global.BufferedHosts) != 2 {
		t.Fatalf("BufferedHosts 应当被解析: %v", cfg.Global.BufferedHosts)
	}
	if cfg.Global.StoragePath == "" || cfg.Global.StoragePath[0] != '/' {
		t.Fatalf("StoragePath 应转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	read, write := cfg.Access.KeyCounts()
	if read != 1 || write != 1 {
		t.Fatalf("凭证数量不符: read=%d write=%d", read, write)
	}
}

func TestValidateRejectsMissingKeys(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("没有任何凭证的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestStoreDriverValidation(t *testing.T) {
	testCases := []struct {
		name      string
		driver    string
		shouldErr bool
	}{
		{"fs ok", "fs", false},
		{"leveldb ok", "leveldb", false},
		{"sqlite ok", "sqlite", false},
		{"unsupported driver", "s3", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.StoreDriver = tc.driver
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for driver %q", tc.driver)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for driver %q: %v", tc.driver, err)
			}
		})
	}
}

func TestValidateEdgeCacheBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Global.EdgeCacheMaxEntry = cfg.Global.EdgeCacheMaxSize + 1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("单条上限大于总量时应报错")
	}

	cfg = validConfig()
	cfg.Global.EdgeCacheMaxSize = 0
	cfg.Global.EdgeCacheMaxEntry = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("EdgeCacheMaxSize=0 表示关闭边缘缓存，不应报错: %v", err)
	}
}

func TestValidateRejectsBlankKeys(t *testing.T) {
	cfg := validConfig()
	cfg.Access.WriteKeys = []string{"w", "  "}
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("空凭证应返回 FieldError, got %v", err)
	}
	if fieldErr.Field != "Access.WriteKeys[1]" {
		t.Fatalf("字段路径不符: %s", fieldErr.Field)
	}
}

func TestValidateBufferedHosts(t *testing.T) {
	for _, host := range []string{"https://files.example.com", "files.example.com/path", ""} {
		cfg := validConfig()
		cfg.Global.BufferedHosts = []string{host}
		if err := cfg.Validate(); err == nil {
			t.Fatalf("BufferedHosts %q 应当报错", host)
		}
	}
}

func TestValidateRejectsBadHitHeader(t *testing.T) {
	cfg := validConfig()
	cfg.Global.HitHeader = "X Cache: hit"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非法头部名称应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:         8787,
			StoreDriver:        "fs",
			StoragePath:        "./data",
			UpstreamTimeout:    Duration(time.Second),
			ClientStallTimeout: Duration(time.Second),
			CacheControl:       DefaultCacheControl,
			HitHeader:          DefaultHitHeader,
			EdgeCacheMaxSize:   1024,
			EdgeCacheMaxEntry:  512,
			EdgeCacheTTL:       Duration(time.Minute),
			PersistWorkers:     2,
			FaviconKey:         DefaultFaviconKey,
		},
		Access: AccessConfig{
			ReadKeys:  []string{"r"},
			WriteKeys: []string{"w"},
		},
	}
}

func TestValidateRequiresClientStallTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ClientStallTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ClientStallTimeout 为 0 时应报错")
	}
	cfg = validConfig()
	cfg.Global.ClientWriteTimeout = Duration(-time.Second)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("负的 ClientWriteTimeout 应报错")
	}
}

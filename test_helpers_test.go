package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// captureOutput 在测试期间把 stdOut/stdErr 换成内存缓冲，CLI 输出与 JSON 日志都写入其中。
func captureOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = out, errOut
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return out, errOut
}

// configFixture 指向 internal/config/testdata 下的样例配置；go test 以包目录为工作目录。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("internal", "config", "testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("缺少配置样例 %s: %v", name, err)
	}
	return path
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}

// minimalConfig 生成可通过校验的配置：fs 存储落在临时目录，读写各一把凭证。
// extra 追加在全局段末尾，用于覆盖日志等选项。
func minimalConfig(t *testing.T, extra string) string {
	t.Helper()
	return writeConfigFile(t, fmt.Sprintf(`
StoreDriver = "fs"
StoragePath = %q
ListenPort = 5000
%s

[Access]
ReadKeys = ["reader"]
WriteKeys = ["writer"]
`, filepath.Join(t.TempDir(), "storage"), extra))
}

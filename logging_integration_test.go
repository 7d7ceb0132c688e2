package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggingFallbackToStdout(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	logPath := filepath.Join(blocked, "sub", "readthrough.log")
	configPath := minimalConfig(t, fmt.Sprintf("LogLevel = \"info\"\nLogFilePath = %q", logPath))

	out, _ := captureOutput(t)
	code := run(cliOptions{configPath: configPath, checkOnly: true})
	if code != 0 {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d", code)
	}
	if os.Geteuid() == 0 {
		// root 可以绕过目录权限，日志写入文件
		return
	}
	if !strings.Contains(out.String(), "logger_fallback") || !strings.Contains(out.String(), "check_config") {
		t.Fatalf("fallback 后日志应写入 stdout: %s", out.String())
	}
}

func TestCheckConfigLogsSummaryToConsole(t *testing.T) {
	out, _ := captureOutput(t)
	code := run(cliOptions{configPath: minimalConfig(t, `LogLevel = "info"`), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
	logs := out.String()
	for _, want := range []string{`"action":"check_config"`, `"result":"ok"`, `"read_keys":1`, `"store_driver":"fs"`} {
		if !strings.Contains(logs, want) {
			t.Fatalf("摘要日志缺少 %s: %s", want, logs)
		}
	}
	if strings.Contains(logs, `"writer"`) {
		t.Fatalf("摘要不应包含凭证: %s", logs)
	}
}

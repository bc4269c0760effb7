package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/San-Stu/sanstu-cli/internal/cache"
	"github.com/San-Stu/sanstu-cli/internal/config"
	"github.com/San-Stu/sanstu-cli/internal/testutil"
)

// useBufferWriters swaps stdOut/stdErr with in-memory buffers for the duration
// of a test, allowing assertions on CLI output without polluting test logs.
func useBufferWriters(t *testing.T) {
	t.Helper()

	outBuf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}

	prevOut := stdOut
	prevErr := stdErr
	prevIn := stdIn

	stdOut = outBuf
	stdErr = errBuf
	stdIn = strings.NewReader("")

	t.Cleanup(func() {
		stdOut = prevOut
		stdErr = prevErr
		stdIn = prevIn
	})
}

// stdOutBuffer returns the in-use stdout buffer when useBufferWriters is active.
func stdOutBuffer() *bytes.Buffer {
	buf, _ := stdOut.(*bytes.Buffer)
	return buf
}

// stdErrBuffer returns the in-use stderr buffer when useBufferWriters is active.
func stdErrBuffer() *bytes.Buffer {
	buf, _ := stdErr.(*bytes.Buffer)
	return buf
}

// cliEnv 是一次 CLI 测试的隔离环境：临时主目录、内存镜像与配置文件。
type cliEnv struct {
	home       string
	cacheRoot  string
	configPath string
	upstream   *testutil.Upstream
}

func newCLIEnv(t *testing.T, extraConfig string) *cliEnv {
	t.Helper()
	base := t.TempDir()
	home := filepath.Join(base, "home")
	mirror := filepath.Join(base, "mirror")
	for _, dir := range []string{home, mirror} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("创建目录失败: %v", err)
		}
	}
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	t.Setenv(config.EnvCliHome, "")
	t.Setenv(EnvConfigPath, "")
	t.Setenv("CLI_TARGET_PATH", "")

	env := &cliEnv{
		home:      home,
		cacheRoot: filepath.Join(base, "dependencies"),
		upstream:  testutil.NewUpstream(t, mirror),
	}
	env.configPath = writeConfigFile(t, `
Registry = "`+testutil.MirrorHost+`"
CacheRoot = "`+filepath.ToSlash(env.cacheRoot)+`"
LockBackoff = "20ms"
`+extraConfig)

	prev := newUpstream
	newUpstream = func(config.GlobalConfig) (cache.Upstream, error) {
		return env.upstream.Client, nil
	}
	t.Cleanup(func() { newUpstream = prev })

	useBufferWriters(t)
	return env
}

func (e *cliEnv) publish(t *testing.T, name, version, marker string) {
	t.Helper()
	testutil.Publish(t, e.upstream.Dir, name, version, testutil.CommandFiles(name, version, marker))
}

func (e *cliEnv) run(args ...string) int {
	return run(context.Background(), append([]string{"--config", e.configPath}, args...))
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}

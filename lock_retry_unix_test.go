//go:build linux || darwin

package main

import (
	"os"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/San-Stu/sanstu-cli/internal/cache"
)

// holdInstallLock 模拟另一个进程持有安装锁。
func holdInstallLock(t *testing.T, env *cliEnv, name, version string) *os.File {
	t.Helper()
	if err := os.MkdirAll(env.cacheRoot, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	lockPath, err := cache.LockPath(env.cacheRoot, name, version)
	if err != nil {
		t.Fatalf("lock path: %v", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		t.Fatalf("open lock: %v", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		t.Fatalf("flock: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestRunGivesUpWhileInstallInProgress(t *testing.T) {
	env := newCLIEnv(t, "LockRetries = 2\n")
	env.publish(t, "@sanstu-cli/init", "1.0.0", "never")
	holdInstallLock(t, env, "@sanstu-cli/init", "1.0.0")

	code := env.run("init")
	if code != 1 {
		t.Fatalf("持锁期间应失败，得到 %d", code)
	}
	if !strings.Contains(stdErrBuffer().String(), "install in progress") {
		t.Fatalf("unexpected stderr %q", stdErrBuffer().String())
	}
	if env.upstream.Tarballs() != 0 {
		t.Fatalf("持锁期间不应下载")
	}
}

func TestRunRetriesUntilLockReleased(t *testing.T) {
	env := newCLIEnv(t, "LockRetries = 20\n")
	env.publish(t, "@sanstu-cli/init", "1.0.0", "after-wait")
	f := holdInstallLock(t, env, "@sanstu-cli/init", "1.0.0")

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}()

	code := env.run("init")
	if code != 0 {
		t.Fatalf("释放锁后应成功，得到 %d (stderr=%s)", code, stdErrBuffer().String())
	}
	if strings.TrimSpace(stdOutBuffer().String()) != "after-wait" {
		t.Fatalf("unexpected stdout %q", stdOutBuffer().String())
	}
}

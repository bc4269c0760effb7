// Package testutil 为各包测试提供离线的上游仓库：在临时目录中生成 npm 风格 tarball，
// 并通过内存中的 Fiber 镜像应用对外提供，不占用任何网络端口。
package testutil

import (
	"archive/tar"
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/San-Stu/sanstu-cli/internal/registry"
	"github.com/San-Stu/sanstu-cli/internal/server"
)

// MirrorHost 是测试上游使用的虚拟主机名。
const MirrorHost = "http://mirror.test"

// Tarball 把 files 打包为 gzip tar，所有条目位于 package/ 目录下。
func Tarball(t testing.TB, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		body := files[name]
		mode := int64(0o644)
		if strings.HasSuffix(name, ".sh") {
			mode = 0o755
		}
		hdr := &tar.Header{
			Name:     "package/" + name,
			Mode:     mode,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
			ModTime:  time.Unix(0, 0),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("write tar body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// CommandFiles 返回一个最小可执行命令包：package.json + 打印标记的 shell 入口。
func CommandFiles(name, version, marker string) map[string]string {
	return map[string]string{
		"package.json": `{"name":"` + name + `","version":"` + version + `","main":"lib/index.sh"}`,
		"lib/index.sh": "echo " + marker + "\n",
	}
}

// Publish 把 files 作为 name@version 写入镜像目录 dir。
func Publish(t testing.TB, dir, name, version string, files map[string]string) {
	t.Helper()
	PublishRaw(t, dir, name, version+".tgz", Tarball(t, files))
}

// PublishRaw 写入任意内容的归档文件，便于构造损坏或特殊格式的 tarball。
func PublishRaw(t testing.TB, dir, name, file string, data []byte) {
	t.Helper()
	pkgDir := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatalf("create mirror dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pkgDir, file), data, 0o644); err != nil {
		t.Fatalf("write tarball: %v", err)
	}
}

// Upstream 是挂在内存 Fiber 应用上的仓库客户端，并记录请求次数。
type Upstream struct {
	Client *registry.Client
	Dir    string
	App    *fiber.App

	packuments atomic.Int64
	tarballs   atomic.Int64
}

// Packuments 返回已处理的元数据请求数。
func (u *Upstream) Packuments() int64 { return u.packuments.Load() }

// Tarballs 返回已处理的 tarball 下载数。
func (u *Upstream) Tarballs() int64 { return u.tarballs.Load() }

// NewUpstream 以 dir 为镜像目录启动内存仓库。
func NewUpstream(t testing.TB, dir string) *Upstream {
	t.Helper()

	mirror, err := server.NewMirror(dir)
	if err != nil {
		t.Fatalf("new mirror: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(testWriter{t})
	logger.SetLevel(logrus.WarnLevel)

	app, err := server.NewApp(server.AppOptions{Logger: logger, Mirror: mirror})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	up := &Upstream{Dir: dir, App: app}
	httpClient := &http.Client{Transport: roundTripper{up: up}, Timeout: 30 * time.Second}
	client, err := registry.NewClient(MirrorHost, httpClient)
	if err != nil {
		t.Fatalf("new registry client: %v", err)
	}
	up.Client = client
	return up
}

type roundTripper struct {
	up *Upstream
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.HasPrefix(req.URL.Path, "/-/tarballs/") {
		rt.up.tarballs.Add(1)
	} else if !strings.HasPrefix(req.URL.Path, "/-/") {
		rt.up.packuments.Add(1)
	}
	return rt.up.App.Test(req, fiber.TestConfig{Timeout: 10 * time.Second, FailOnTimeout: true})
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

package cache

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

func TestExtractTarballGzip(t *testing.T) {
	data := buildTar(t, gzipWrap, []tarEntry{
		{name: "package/package.json", body: `{"main":"index.sh"}`},
		{name: "package/index.sh", body: "echo hi\n", mode: 0o755},
		{name: "package/lib/", dir: true},
	})
	dest := t.TempDir()
	sum := sha1.Sum(data)

	if err := extractTarball(context.Background(), bytes.NewReader(data), "x.tgz", dest, hex.EncodeToString(sum[:])); err != nil {
		t.Fatalf("extract error: %v", err)
	}
	body, err := os.ReadFile(filepath.Join(dest, "index.sh"))
	if err != nil || string(body) != "echo hi\n" {
		t.Fatalf("unexpected entry content %q err=%v", body, err)
	}
	if info, err := os.Stat(filepath.Join(dest, "lib")); err != nil || !info.IsDir() {
		t.Fatalf("expected lib dir, err=%v", err)
	}
}

func TestExtractTarballXZ(t *testing.T) {
	data := buildTar(t, xzWrap, []tarEntry{
		{name: "pkg/package.json", body: `{"main":"index.sh"}`},
	})
	dest := t.TempDir()
	if err := extractTarball(context.Background(), bytes.NewReader(data), "http://mirror.test/hello/1.0.0.tar.xz", dest, ""); err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "package.json")); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
}

func TestExtractTarballRejectsTraversal(t *testing.T) {
	data := buildTar(t, gzipWrap, []tarEntry{
		{name: "package/../../evil.txt", body: "boom"},
	})
	dest := filepath.Join(t.TempDir(), "dest")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// path.Clean 会先把 ../ 折叠到根，条目最终落在 dest 内部或被丢弃，绝不会写到 dest 之外。
	if err := extractTarball(context.Background(), bytes.NewReader(data), "x.tgz", dest, ""); err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "evil.txt")); !os.IsNotExist(err) {
		t.Fatalf("entry escaped destination, stat err=%v", err)
	}
}

func TestExtractTarballSkipsSymlinks(t *testing.T) {
	data := buildTar(t, gzipWrap, []tarEntry{
		{name: "package/link", link: "/etc/passwd"},
		{name: "package/package.json", body: `{}`},
	})
	dest := t.TempDir()
	if err := extractTarball(context.Background(), bytes.NewReader(data), "x.tgz", dest, ""); err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(dest, "link")); !os.IsNotExist(err) {
		t.Fatalf("symlink should be skipped, err=%v", err)
	}
}

func TestExtractTarballRejectsGarbage(t *testing.T) {
	if err := extractTarball(context.Background(), bytes.NewReader([]byte("not a tarball")), "x.tgz", t.TempDir(), ""); err == nil {
		t.Fatalf("expected error for invalid gzip stream")
	}
}

type tarEntry struct {
	name string
	body string
	mode int64
	dir  bool
	link string
}

func buildTar(t *testing.T, wrap func(*testing.T, []byte) []byte, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: e.mode, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
		}
		switch {
		case e.dir:
			hdr.Typeflag, hdr.Size, hdr.Mode = tar.TypeDir, 0, 0o755
		case e.link != "":
			hdr.Typeflag, hdr.Size, hdr.Linkname = tar.TypeSymlink, 0, e.link
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if hdr.Size > 0 {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("write body: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	return wrap(t, buf.Bytes())
}

func gzipWrap(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func xzWrap(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}
	if _, err := xw.Write(raw); err != nil {
		t.Fatalf("xz write: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("xz close: %v", err)
	}
	return buf.Bytes()
}

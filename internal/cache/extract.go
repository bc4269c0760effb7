package cache

import (
	"archive/tar"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// extractTarball 将 npm 风格 tarball 解压到 dest：去掉首级目录（通常为 package/），
// 拒绝越界路径并忽略符号链接。expectedSHA1 非空时校验压缩流的 sha1。
func extractTarball(ctx context.Context, body io.Reader, tarballURL, dest, expectedSHA1 string) error {
	hasher := sha1.New()
	raw := io.TeeReader(body, hasher)

	decompressed, err := decompress(raw, tarballURL)
	if err != nil {
		return err
	}

	tr := tar.NewReader(decompressed)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tarball: %w", err)
		}

		rel, ok := stripLeadingComponent(hdr.Name)
		if !ok {
			continue
		}
		target, err := safeJoin(dest, rel)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(ctx, target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			// 符号链接、设备文件等一律跳过。
		}
	}

	if _, err := io.Copy(io.Discard, raw); err != nil {
		return fmt.Errorf("drain tarball: %w", err)
	}
	if expectedSHA1 != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, expectedSHA1) {
			return fmt.Errorf("shasum mismatch: expected %s, got %s", expectedSHA1, actual)
		}
	}
	return nil
}

func decompress(r io.Reader, tarballURL string) (io.Reader, error) {
	lower := strings.ToLower(tarballURL)
	if strings.HasSuffix(lower, ".tar.xz") || strings.HasSuffix(lower, ".txz") {
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open xz stream: %w", err)
		}
		return xr, nil
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	return gz, nil
}

func stripLeadingComponent(name string) (string, bool) {
	clean := path.Clean("/" + strings.ReplaceAll(name, `\`, "/"))
	clean = strings.TrimPrefix(clean, "/")
	idx := strings.IndexByte(clean, '/')
	if idx < 0 {
		return "", false
	}
	rel := clean[idx+1:]
	return rel, rel != ""
}

func safeJoin(dest, rel string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(rel))
	if target != dest && !strings.HasPrefix(target, dest+string(filepath.Separator)) {
		return "", fmt.Errorf("tarball entry %q escapes package root", rel)
	}
	return target, nil
}

func writeFile(ctx context.Context, target string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm|0o600)
	if err != nil {
		return err
	}
	_, err = copyWithContext(ctx, f, r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	return err
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

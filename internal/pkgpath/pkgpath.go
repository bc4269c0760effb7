// Package pkgpath 负责在文件系统中定位包根目录（含 package.json 的最近祖先目录），
// 并把清单里声明的入口路径规整为当前操作系统可用的绝对路径。
package pkgpath

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/San-Stu/sanstu-cli/internal/cmdpkg"
)

// FindPackageRoot 从 startPath 开始逐级向上查找包含 package.json 的目录。
// startPath 为空时从当前工作目录开始；到达文件系统根仍未找到时返回 ok=false。
// startPath 不存在不视为错误，查找会从它最近的祖先继续。
func FindPackageRoot(startPath string) (string, bool, error) {
	start := strings.TrimSpace(startPath)
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", false, err
		}
		start = wd
	}

	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	}

	for {
		if hasManifest(dir) {
			return dir, true, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}

func hasManifest(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, cmdpkg.ManifestFile))
	return err == nil && !info.IsDir()
}

// ResolveEntryPath 将 packageRoot 与 main 字段拼接为绝对路径。main 中的 `\` 与 `/`
// 都按分隔符处理，使同一份清单在 macOS/Linux/Windows 上得到等价结果。
func ResolveEntryPath(packageRoot, main string) (string, error) {
	main = strings.TrimSpace(main)
	if main == "" {
		return "", cmdpkg.Errorf(cmdpkg.KindNoEntryDeclared, "resolve entry", "", "%s in %s has no main field", cmdpkg.ManifestFile, packageRoot)
	}

	normalized := filepath.FromSlash(strings.ReplaceAll(main, `\`, "/"))
	joined := filepath.Join(packageRoot, normalized)
	return filepath.Abs(joined)
}

// ReadManifest 读取 root 下的 package.json。文件缺失或无法解析都视为 NoSuchPackage。
func ReadManifest(root string) (cmdpkg.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, cmdpkg.ManifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cmdpkg.Manifest{}, cmdpkg.Errorf(cmdpkg.KindNoSuchPackage, "read manifest", "", "no %s in %s", cmdpkg.ManifestFile, root)
		}
		return cmdpkg.Manifest{}, cmdpkg.Wrap(cmdpkg.KindNoSuchPackage, "read manifest", "", err)
	}

	m, err := cmdpkg.ParseManifest(data)
	if err != nil {
		return cmdpkg.Manifest{}, cmdpkg.Wrap(cmdpkg.KindNoSuchPackage, "read manifest", "", err)
	}
	return m, nil
}

// EntryFor 组合 ReadManifest 与 ResolveEntryPath，返回 root 下声明的入口绝对路径。
func EntryFor(root string) (string, cmdpkg.Manifest, error) {
	m, err := ReadManifest(root)
	if err != nil {
		return "", cmdpkg.Manifest{}, err
	}
	entry, err := ResolveEntryPath(root, m.Main)
	if err != nil {
		return "", m, err
	}
	return entry, m, nil
}

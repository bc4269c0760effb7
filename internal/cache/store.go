package cache

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/San-Stu/sanstu-cli/internal/cmdpkg"
	"github.com/San-Stu/sanstu-cli/internal/registry"
)

// Store 负责管理命令包的磁盘缓存。磁盘布局遵循：
//
//	<CacheRoot>/<name>@<version>/        # 包根目录，包含 package.json
//	<CacheRoot>/<name>@<version>.lock    # 跨进程写锁
//	<CacheRoot>/.tmp-<uuid>/             # 解压中的临时目录
//
// scoped 包名中的 `/` 以 `+` 代替，保证每个版本只占一级目录。
type Store interface {
	// Exists 判断描述符（latest 先解析为具体版本）对应的完整记录是否已经落盘。
	Exists(ctx context.Context, d cmdpkg.Descriptor) (bool, error)

	// Install 下载并落盘描述符对应版本，已存在时直接返回记录且不再下载。
	Install(ctx context.Context, d cmdpkg.Descriptor) (Record, error)

	// Update 向上游重新解析 latest，仅当其高于本地最高版本时安装，绝不降级。
	Update(ctx context.Context, d cmdpkg.Descriptor) (Record, error)

	// Lookup 返回描述符对应的本地记录，不存在时返回 ErrNoSuchPackage。
	Lookup(ctx context.Context, d cmdpkg.Descriptor) (Record, error)

	// List 枚举 cacheRoot 下全部有效记录，按包名、版本排序。
	List(cacheRoot string) ([]Record, error)
}

// Upstream 是 Store 获取包的来源，*registry.Client 满足该接口。
type Upstream interface {
	Resolve(ctx context.Context, name, version string) (registry.VersionInfo, error)
	Download(ctx context.Context, info registry.VersionInfo) (io.ReadCloser, error)
}

// Record 表示一个已完整落盘的包版本。
type Record struct {
	Name     string          `json:"name"`
	Version  string          `json:"version"`
	Dir      string          `json:"dir"`
	Manifest cmdpkg.Manifest `json:"manifest"`
}

// EscapeName 将包名转换为单级目录名。
func EscapeName(name string) string {
	return strings.ReplaceAll(name, "/", "+")
}

// UnescapeName 是 EscapeName 的逆操作。
func UnescapeName(escaped string) string {
	return strings.ReplaceAll(escaped, "+", "/")
}

// RecordDir 返回 name@version 在 cacheRoot 下的目录；结果必须是 cacheRoot 的直接子目录。
func RecordDir(cacheRoot, name, version string) (string, error) {
	root := filepath.Clean(cacheRoot)
	base := EscapeName(name) + "@" + version
	dir := filepath.Join(root, base)
	if filepath.Dir(dir) != root || filepath.Base(dir) != base {
		return "", fmt.Errorf("record %s@%s escapes cache root %s", name, version, cacheRoot)
	}
	return dir, nil
}

// LockPath 返回 name@version 的锁文件路径。
func LockPath(cacheRoot, name, version string) (string, error) {
	dir, err := RecordDir(cacheRoot, name, version)
	if err != nil {
		return "", err
	}
	return dir + ".lock", nil
}

// parseRecordDir 从目录名拆出包名与版本，`@scope+name@1.0.0` 中首个 @ 属于 scope。
func parseRecordDir(base string) (name, version string, ok bool) {
	idx := strings.LastIndex(base, "@")
	if idx <= 0 || idx == len(base)-1 {
		return "", "", false
	}
	return UnescapeName(base[:idx]), base[idx+1:], true
}

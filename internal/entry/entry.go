// Package entry 定义命令包入口模块的加载与调用约定。
//
// 入口文件由包清单的 main 字段声明，Loader 负责把它变成可调用的 Handler，
// Handler 以 Invocation 为输入运行命令并返回退出码。入口模块通过环境变量
// 获得调用上下文：
//
//	CLI_TARGET_PATH  本地覆盖目录（未指定时为空）
//	CLI_HOME_PATH    CLI 主目录
//	CLI_CACHE_ROOT   包缓存根目录
//	LOG_LEVEL        debug 模式下为 verbose，否则为 info
//	CLI_COMMAND      当前分发的命令名
package entry

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/San-Stu/sanstu-cli/internal/cmdpkg"
)

// 入口模块可见的环境变量名。
const (
	EnvTargetPath = "CLI_TARGET_PATH"
	EnvHomePath   = "CLI_HOME_PATH"
	EnvCacheRoot  = "CLI_CACHE_ROOT"
	EnvLogLevel   = "LOG_LEVEL"
	EnvCommand    = "CLI_COMMAND"
)

// Context 是一次调用的引导参数，由命令行与配置组装而来。
type Context struct {
	OverridePath string
	CacheRoot    string
	HomePath     string
	Debug        bool
}

// Invocation 描述一次入口调用。
type Invocation struct {
	Command     string
	Args        []string
	Entry       string
	PackageRoot string
	Context     Context

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Handler 是加载完成、可以直接调用的入口模块。
type Handler interface {
	Invoke(ctx context.Context, inv Invocation) (int, error)
}

// Loader 把入口文件路径加载为 Handler。
type Loader interface {
	Load(entryPath string) (Handler, error)
}

// Matcher 由只处理部分入口类型的 Loader 实现，供 Chain 选择。
type Matcher interface {
	Accepts(entryPath string) bool
}

// probeExtensions 是 main 省略扩展名时依次尝试的后缀。
var probeExtensions = []string{".sh", ".js", ".py"}

// Probe 把清单中声明的入口路径落实为磁盘上存在的文件：先按原样查找，
// 再依次补全扩展名，最后尝试 <path>/index.*。
func Probe(entryPath string) (string, error) {
	if isFile(entryPath) {
		return entryPath, nil
	}
	exts := probeExtensions
	if runtime.GOOS == "windows" {
		exts = append(append([]string(nil), exts...), ".exe", ".cmd")
	}
	for _, ext := range exts {
		if candidate := entryPath + ext; isFile(candidate) {
			return candidate, nil
		}
	}
	for _, ext := range exts {
		if candidate := filepath.Join(entryPath, "index"+ext); isFile(candidate) {
			return candidate, nil
		}
	}
	return "", cmdpkg.Errorf(cmdpkg.KindNoSuchPackage, "load entry", "", "declared entry %s does not exist", entryPath)
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Environ 返回入口模块的完整环境：继承当前进程环境并覆盖约定变量。
func Environ(inv Invocation) []string {
	level := "info"
	if inv.Context.Debug {
		level = "verbose"
	}
	contract := map[string]string{
		EnvTargetPath: inv.Context.OverridePath,
		EnvHomePath:   inv.Context.HomePath,
		EnvCacheRoot:  inv.Context.CacheRoot,
		EnvLogLevel:   level,
		EnvCommand:    inv.Command,
	}

	base := os.Environ()
	env := make([]string, 0, len(base)+len(contract))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := contract[key]; overridden {
			continue
		}
		env = append(env, kv)
	}
	for _, key := range []string{EnvTargetPath, EnvHomePath, EnvCacheRoot, EnvLogLevel, EnvCommand} {
		env = append(env, key+"="+contract[key])
	}
	return env
}

func stdio(inv Invocation) (io.Reader, io.Writer, io.Writer) {
	in, out, errw := inv.Stdin, inv.Stdout, inv.Stderr
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errw == nil {
		errw = os.Stderr
	}
	return in, out, errw
}

// HandlerFunc 让普通函数满足 Handler，便于测试或注册内置命令。
type HandlerFunc func(ctx context.Context, inv Invocation) (int, error)

func (f HandlerFunc) Invoke(ctx context.Context, inv Invocation) (int, error) {
	return f(ctx, inv)
}

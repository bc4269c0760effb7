package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/San-Stu/sanstu-cli/internal/cache"
	"github.com/San-Stu/sanstu-cli/internal/cmdpkg"
	"github.com/San-Stu/sanstu-cli/internal/config"
	"github.com/San-Stu/sanstu-cli/internal/registry"
)

// EnvConfigPath 指定配置文件路径，--config 优先。
const EnvConfigPath = "SANSTU_CONFIG"

// cliOptions 汇总全局标志，在构建命令树之前从参数中预先解析。
type cliOptions struct {
	configPath string
	debug      bool
	targetPath string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
	stdIn  io.Reader = os.Stdin
)

// newUpstream 构建包仓库客户端，测试中替换为内存镜像。
var newUpstream = func(g config.GlobalConfig) (cache.Upstream, error) {
	return registry.NewClient(g.Registry, registry.NewHTTPClient(g.FetchTimeout.DurationValue()))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run 加载配置、构建命令树并执行，返回进程退出码，方便测试。
func run(ctx context.Context, args []string) int {
	if len(args) > 0 && (args[0] == "version" || args[0] == "--version") {
		printVersion()
		return 0
	}

	opts, err := parseGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		return 2
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		printError(fmt.Errorf("加载配置失败: %w", err))
		return 1
	}

	app, err := newCLI(cfg, opts)
	if err != nil {
		printError(err)
		return 1
	}
	return app.execute(ctx, args)
}

// parseGlobalFlags 只解析命令名之前的全局标志，其余参数原样留给命令树。
// --config 未指定时读取 SANSTU_CONFIG，--target-path 未指定时读取 CLI_TARGET_PATH。
func parseGlobalFlags(args []string) (cliOptions, error) {
	fs := pflag.NewFlagSet("sanstu", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)
	fs.ParseErrorsWhitelist.UnknownFlags = true

	var opts cliOptions
	bindGlobalFlags(fs, &opts)
	fs.BoolP("help", "h", false, "")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	applyFlagEnv(&opts)
	return opts, nil
}

func bindGlobalFlags(fs *pflag.FlagSet, opts *cliOptions) {
	fs.StringVar(&opts.configPath, "config", "", "config file (default ~/.sanstu-cli/config.toml, env "+EnvConfigPath+")")
	fs.BoolVarP(&opts.debug, "debug", "d", false, "enable debug logging")
	fs.StringVarP(&opts.targetPath, "target-path", "t", "", "run commands from a local package directory (env CLI_TARGET_PATH)")
}

func applyFlagEnv(opts *cliOptions) {
	if opts.configPath == "" {
		opts.configPath = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if opts.targetPath == "" {
		opts.targetPath = strings.TrimSpace(os.Getenv("CLI_TARGET_PATH"))
	}
}

var errorColor = color.New(color.FgRed)

// printError 以红色输出错误，未知命令附带可用命令列表。
func printError(err error) {
	if err == nil {
		return
	}
	errorColor.Fprintf(stdErr, "Error: %v\n", err)
	if kind, ok := cmdpkg.KindOf(err); ok && kind == cmdpkg.KindInstallInProgress {
		fmt.Fprintln(stdErr, "another sanstu process is installing this package; retry shortly")
	}
}

// usageError 标记命令行用法错误，对应退出码 2。
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

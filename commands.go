package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/San-Stu/sanstu-cli/internal/cache"
	"github.com/San-Stu/sanstu-cli/internal/cmdpkg"
	"github.com/San-Stu/sanstu-cli/internal/config"
	"github.com/San-Stu/sanstu-cli/internal/dispatch"
	"github.com/San-Stu/sanstu-cli/internal/entry"
	"github.com/San-Stu/sanstu-cli/internal/logging"
	"github.com/San-Stu/sanstu-cli/internal/resolver"
	"github.com/San-Stu/sanstu-cli/internal/server"
	"github.com/San-Stu/sanstu-cli/internal/version"
)

// builtinCommands 是 CLI 自身占用的子命令名，命令表不能与之重名。
var builtinCommands = map[string]struct{}{
	"which": {}, "cache": {}, "serve": {}, "version": {}, "help": {}, "completion": {},
}

// cli 持有一次进程内共享的组件：配置、日志、包缓存与分发器。
type cli struct {
	cfg   *config.Config
	opts  cliOptions
	table *dispatch.Table

	logger     *logrus.Logger
	store      cache.Store
	dispatcher *dispatch.Dispatcher

	exitCode int
}

func newCLI(cfg *config.Config, opts cliOptions) (*cli, error) {
	table, err := dispatch.NewTable(cfg.Commands)
	if err != nil {
		return nil, err
	}
	for _, name := range table.Names() {
		if _, reserved := builtinCommands[name]; reserved {
			return nil, fmt.Errorf("command %s conflicts with a built-in subcommand", name)
		}
	}
	return &cli{cfg: cfg, opts: opts, table: table}, nil
}

func (a *cli) execute(ctx context.Context, args []string) int {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)
	root.SetIn(stdIn)

	if err := root.ExecuteContext(ctx); err != nil {
		a.reportError(err)
		return exitCodeFor(err)
	}
	return a.exitCode
}

func (a *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sanstu",
		Short: "sanstu runs project commands shipped as versioned packages",
		Long: `sanstu maps each command name to a package, installs the package into a
local cache on first use and runs its entry module.

Use --target-path to run a command from a local package directory instead.`,
		Args:               cobra.ArbitraryArgs,
		TraverseChildren:   true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return a.dispatch(cmd.Context(), args[0], args[1:])
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	// 与 parseGlobalFlags 绑定到同一份选项，命令树解析时保持一致。
	bindGlobalFlags(root.PersistentFlags(), &a.opts)

	for _, cmd := range a.table.Commands() {
		root.AddCommand(a.dispatchCommand(cmd))
	}
	root.AddCommand(a.whichCommand(), a.cacheCommand(), a.serveCommand(), versionCommand())
	return root
}

// setup 在任意子命令执行前初始化日志与包缓存，--debug 已在此之前解析完毕。
func (a *cli) setup() error {
	if a.dispatcher != nil {
		return nil
	}
	applyFlagEnv(&a.opts)

	logger, err := logging.InitLogger(a.cfg.Global, a.opts.debug)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	a.logger = logger

	upstream, err := newUpstream(a.cfg.Global)
	if err != nil {
		return fmt.Errorf("初始化包仓库失败: %w", err)
	}
	store, err := cache.NewStore(upstream, cache.Options{
		Logger:       logger,
		FetchTimeout: a.cfg.Global.FetchTimeout.DurationValue(),
	})
	if err != nil {
		return err
	}
	a.store = store

	a.dispatcher, err = dispatch.New(dispatch.Options{
		Table:    a.table,
		Resolver: resolver.New(store, logger),
		Loader:   entry.Default(),
		Logger:   logger,
		Stdin:    stdIn,
		Stdout:   stdOut,
		Stderr:   stdErr,
	})
	if err != nil {
		return err
	}

	fields := logging.BaseFields("startup", a.cfg.Path)
	fields["cache_root"] = a.cfg.Global.CacheRoot
	fields["registry"] = a.cfg.Global.Registry
	fields["commands"] = len(a.table.Names())
	fields["version"] = version.Full()
	logger.WithFields(fields).Debug("配置加载完成")
	return nil
}

func (a *cli) invocationContext() (entry.Context, error) {
	target := a.opts.targetPath
	if target != "" {
		abs, err := filepath.Abs(target)
		if err != nil {
			return entry.Context{}, usageError{err: fmt.Errorf("invalid --target-path: %w", err)}
		}
		target = abs
	}
	return entry.Context{
		OverridePath: target,
		CacheRoot:    a.cfg.Global.CacheRoot,
		HomePath:     a.cfg.Global.CliHome,
		Debug:        a.opts.debug,
	}, nil
}

func (a *cli) dispatchCommand(cmd dispatch.Command) *cobra.Command {
	short := cmd.Description
	if short == "" {
		short = fmt.Sprintf("Run %s@%s", cmd.Package, cmd.Version)
	}
	return &cobra.Command{
		Use:                cmd.Name + " [args...]",
		Short:              short,
		DisableFlagParsing: true,
		RunE: func(c *cobra.Command, args []string) error {
			return a.dispatch(c.Context(), cmd.Name, args)
		},
	}
}

// dispatch 运行命令；遇到其它进程正在安装同一个包时按退避策略有限重试。
func (a *cli) dispatch(ctx context.Context, name string, args []string) error {
	invCtx, err := a.invocationContext()
	if err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.cfg.Global.LockBackoff.DurationValue()
	policy.MaxInterval = 10 * policy.InitialInterval
	policy.MaxElapsedTime = 0
	policy.Reset()
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(a.cfg.Global.LockRetries)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		code, err := a.dispatcher.Run(ctx, name, args, invCtx)
		a.exitCode = code
		if err == nil {
			return nil
		}
		if errors.Is(err, cmdpkg.ErrInstallInProgress) {
			a.logger.WithFields(logrus.Fields{
				"action":  "dispatch_retry",
				"command": name,
				"attempt": attempt,
			}).Warn("package install in progress, waiting")
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(operation, retry)
}

func (a *cli) whichCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "which <command>",
		Short: "Print the entry module a command resolves to",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			invCtx, err := a.invocationContext()
			if err != nil {
				return err
			}
			res, err := a.dispatcher.Which(cmd.Context(), args[0], invCtx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Entry)
			a.logger.WithFields(logging.PackageFields(res.Manifest.Name, res.Version, res.Source)).Debug("entry resolved")
			return nil
		},
	}
}

func (a *cli) cacheCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and update the package cache",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := a.store.List(a.cfg.Global.CacheRoot)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PACKAGE\tVERSION\tDIR")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Version, r.Dir)
			}
			return w.Flush()
		},
	})
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "update <command>",
		Short: "Install the newest published version of a command's package",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			invCtx, err := a.invocationContext()
			if err != nil {
				return err
			}
			invCtx.OverridePath = ""
			_, desc, err := a.dispatcher.Descriptor(args[0], invCtx)
			if err != nil {
				return err
			}
			record, err := a.store.Update(cmd.Context(), desc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s@%s\n", record.Name, record.Version)
			return nil
		},
	})
	return cacheCmd
}

func (a *cli) serveCommand() *cobra.Command {
	var (
		dir  string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a directory of package tarballs as a local registry",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			mirror, err := server.NewMirror(dir)
			if err != nil {
				return usageError{err: err}
			}
			app, err := server.NewApp(server.AppOptions{Logger: a.logger, Mirror: mirror})
			if err != nil {
				return err
			}

			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-cmd.Context().Done():
					_ = app.ShutdownWithTimeout(5 * time.Second)
				case <-done:
				}
			}()

			a.logger.WithFields(logrus.Fields{
				"action": "listen",
				"port":   port,
				"dir":    mirror.Root(),
			}).Info("Fiber 服务启动")
			return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory laid out as <name>/<version>.tgz")
	cmd.Flags().IntVar(&port, "port", 4873, "listen port")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(*cobra.Command, []string) error {
			printVersion()
			return nil
		},
	}
}

// reportError 输出错误；未知命令以红色提示并列出可用命令。
func (a *cli) reportError(err error) {
	var unknown *dispatch.UnknownCommandError
	if errors.As(err, &unknown) {
		errorColor.Fprintf(stdErr, "unknown command: %s\n", unknown.Name)
		fmt.Fprintf(stdErr, "available commands: %s\n", strings.Join(unknown.Available, ", "))
		return
	}
	printError(err)
}

// usageArgs 把位置参数校验失败标记为用法错误。
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageError{err: err}
		}
		return nil
	}
}

// Package dispatch 把命令名映射为命令包，解析入口并以调用上下文运行它。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/San-Stu/sanstu-cli/internal/cmdpkg"
	"github.com/San-Stu/sanstu-cli/internal/entry"
	"github.com/San-Stu/sanstu-cli/internal/resolver"
)

// Resolver 是 Dispatcher 依赖的入口解析能力，*resolver.Resolver 满足该接口。
type Resolver interface {
	Resolve(ctx context.Context, d cmdpkg.Descriptor) (resolver.Resolution, error)
}

// UnknownCommandError 记录未在命令表中找到的命令名及当前可用命令。
type UnknownCommandError struct {
	Name      string
	Available []string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("%q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// Options 汇总 Dispatcher 的依赖。
type Options struct {
	Table    *Table
	Resolver Resolver
	Loader   entry.Loader
	Logger   *logrus.Logger

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Dispatcher 负责一次命令分发。
type Dispatcher struct {
	table    *Table
	resolver Resolver
	loader   entry.Loader
	logger   *logrus.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// New 校验依赖并构造 Dispatcher，Table 与 Loader 缺省时使用内置实现。
func New(opts Options) (*Dispatcher, error) {
	if opts.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	table := opts.Table
	if table == nil {
		table = DefaultTable()
	}
	loader := opts.Loader
	if loader == nil {
		loader = entry.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		table:    table,
		resolver: opts.Resolver,
		loader:   loader,
		logger:   logger,
		stdin:    opts.Stdin,
		stdout:   opts.Stdout,
		stderr:   opts.Stderr,
	}, nil
}

// Table 返回分发所用的命令表。
func (d *Dispatcher) Table() *Table {
	return d.table
}

// Descriptor 把命令名与调用上下文组合为包描述符。
func (d *Dispatcher) Descriptor(name string, c entry.Context) (Command, cmdpkg.Descriptor, error) {
	cmd, ok := d.table.Lookup(name)
	if !ok {
		return Command{}, cmdpkg.Descriptor{}, &cmdpkg.Error{
			Kind: cmdpkg.KindUnknownCommand,
			Op:   "dispatch",
			Err:  &UnknownCommandError{Name: name, Available: d.table.Names()},
		}
	}
	desc, err := cmdpkg.NewDescriptor(&cmdpkg.DescriptorOptions{
		Name:         cmd.Package,
		Version:      cmd.Version,
		OverridePath: c.OverridePath,
		CacheRoot:    c.CacheRoot,
	})
	if err != nil {
		return cmd, cmdpkg.Descriptor{}, err
	}
	return cmd, desc, nil
}

// Which 解析命令对应的入口，必要时会安装命令包，但不执行它。
func (d *Dispatcher) Which(ctx context.Context, name string, c entry.Context) (resolver.Resolution, error) {
	_, desc, err := d.Descriptor(name, c)
	if err != nil {
		return resolver.Resolution{}, err
	}
	return d.resolver.Resolve(ctx, desc)
}

// Run 分发命令并返回入口模块的退出码。未知命令返回 ErrUnknownCommand 且不会触发解析。
func (d *Dispatcher) Run(ctx context.Context, name string, args []string, c entry.Context) (int, error) {
	cmd, desc, err := d.Descriptor(name, c)
	if err != nil {
		return 1, err
	}

	started := time.Now()
	res, err := d.resolver.Resolve(ctx, desc)
	if err != nil {
		return 1, err
	}

	handler, err := d.loader.Load(res.Entry)
	if err != nil {
		return 1, fmt.Errorf("load entry for %s: %w", cmd.Name, err)
	}

	fields := logrus.Fields{
		"action":  "dispatch",
		"command": cmd.Name,
		"package": cmd.Package,
		"version": res.Version,
		"source":  res.Source,
		"entry":   res.Entry,
	}
	d.logger.WithFields(fields).Debug("invoking entry module")

	code, err := handler.Invoke(ctx, entry.Invocation{
		Command:     cmd.Name,
		Args:        append([]string(nil), args...),
		Entry:       res.Entry,
		PackageRoot: res.PackageRoot,
		Context:     c,
		Stdin:       d.stdin,
		Stdout:      d.stdout,
		Stderr:      d.stderr,
	})

	fields["exit_code"] = code
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	entryLog := d.logger.WithFields(fields)
	if err != nil {
		entryLog.WithError(err).Error("entry module failed")
		return code, err
	}
	entryLog.Debug("entry module finished")
	return code, nil
}

package entry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ShellLoader 在进程内解释执行 .sh 入口，不依赖宿主机的 shell。
type ShellLoader struct{}

func (ShellLoader) Accepts(entryPath string) bool {
	return strings.EqualFold(filepath.Ext(entryPath), ".sh")
}

func (l ShellLoader) Load(entryPath string) (Handler, error) {
	resolved, err := Probe(entryPath)
	if err != nil {
		return nil, err
	}
	if !l.Accepts(resolved) {
		return nil, fmt.Errorf("shell loader cannot run %s", resolved)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, err
	}
	prog, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(bytes.NewReader(data), resolved)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", resolved, err)
	}
	return &shellHandler{path: resolved, prog: prog}, nil
}

type shellHandler struct {
	path string
	prog *syntax.File
}

func (h *shellHandler) Invoke(ctx context.Context, inv Invocation) (int, error) {
	dir, err := os.Getwd()
	if err != nil {
		return 1, err
	}
	in, out, errw := stdio(inv)
	params := append([]string{"--"}, inv.Args...)

	runner, err := interp.New(
		interp.StdIO(in, out, errw),
		interp.Env(expand.ListEnviron(Environ(inv)...)),
		interp.Dir(dir),
		interp.Params(params...),
	)
	if err != nil {
		return 1, fmt.Errorf("create shell runner: %w", err)
	}

	err = runner.Run(ctx, h.prog)
	if err == nil {
		return 0, nil
	}
	var status interp.ExitStatus
	if errors.As(err, &status) {
		return int(status), nil
	}
	return 1, fmt.Errorf("run %s: %w", h.path, err)
}

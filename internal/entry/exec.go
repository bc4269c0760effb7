package entry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// interpreters 把入口扩展名映射到解释器，未列出的扩展名直接执行。
var interpreters = map[string]string{
	".js":  "node",
	".mjs": "node",
	".cjs": "node",
	".py":  "python3",
}

// ExecLoader 以子进程方式运行入口，标准输入输出直接继承。
type ExecLoader struct{}

func (ExecLoader) Accepts(string) bool { return true }

func (ExecLoader) Load(entryPath string) (Handler, error) {
	resolved, err := Probe(entryPath)
	if err != nil {
		return nil, err
	}
	h := &execHandler{path: resolved}
	if name, ok := interpreters[strings.ToLower(filepath.Ext(resolved))]; ok {
		bin, err := exec.LookPath(name)
		if err != nil {
			return nil, fmt.Errorf("entry %s requires %s: %w", resolved, name, err)
		}
		h.interpreter = bin
	}
	return h, nil
}

type execHandler struct {
	path        string
	interpreter string
}

func (h *execHandler) Invoke(ctx context.Context, inv Invocation) (int, error) {
	name, args := h.path, inv.Args
	if h.interpreter != "" {
		name, args = h.interpreter, append([]string{h.path}, inv.Args...)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdio(inv)
	cmd.Env = Environ(inv)
	if wd, err := os.Getwd(); err == nil {
		cmd.Dir = wd
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 1, fmt.Errorf("run %s: %w", h.path, err)
}

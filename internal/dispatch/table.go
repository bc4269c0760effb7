package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/San-Stu/sanstu-cli/internal/cmdpkg"
	"github.com/San-Stu/sanstu-cli/internal/config"
)

// Command 是命令表中的一项：命令名到命令包的绑定。
type Command struct {
	Name        string
	Package     string
	Version     string
	Description string
}

// Table 是启动时一次性构建的只读命令表，构建后不再修改，可被并发读取。
type Table struct {
	commands map[string]Command
	names    []string
}

// NewTable 从配置构建命令表，命令名统一小写。
func NewTable(cmds []config.CommandConfig) (*Table, error) {
	t := &Table{commands: make(map[string]Command, len(cmds))}
	for _, c := range cmds {
		name := normalizeName(c.Name)
		if name == "" {
			return nil, fmt.Errorf("command name required for package %q", c.Package)
		}
		if strings.TrimSpace(c.Package) == "" {
			return nil, fmt.Errorf("command %s has no package", name)
		}
		if _, exists := t.commands[name]; exists {
			return nil, fmt.Errorf("command %s registered twice", name)
		}
		version := strings.TrimSpace(c.Version)
		if version == "" {
			version = cmdpkg.LatestVersion
		}
		t.commands[name] = Command{
			Name:        name,
			Package:     strings.TrimSpace(c.Package),
			Version:     version,
			Description: c.Description,
		}
		t.names = append(t.names, name)
	}
	sort.Strings(t.names)
	return t, nil
}

// DefaultTable 返回只包含内置命令的命令表。
func DefaultTable() *Table {
	t, err := NewTable(config.DefaultCommands())
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup 按名称查找命令。
func (t *Table) Lookup(name string) (Command, bool) {
	cmd, ok := t.commands[normalizeName(name)]
	return cmd, ok
}

// Names 返回排序后的命令名。
func (t *Table) Names() []string {
	return append([]string(nil), t.names...)
}

// Commands 返回按名称排序的全部命令。
func (t *Table) Commands() []Command {
	out := make([]Command, 0, len(t.names))
	for _, name := range t.names {
		out = append(out, t.commands[name])
	}
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

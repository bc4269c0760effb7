package entry

import "fmt"

// Default 返回内置的加载器组合：.sh 在进程内执行，其余交给子进程。
func Default() Loader {
	return Chain(ShellLoader{}, ExecLoader{})
}

// Chain 依次询问 loaders，由第一个接受该入口的加载器负责加载。
// 未实现 Matcher 的加载器视为接受一切。
func Chain(loaders ...Loader) Loader {
	return chain(loaders)
}

type chain []Loader

func (c chain) Load(entryPath string) (Handler, error) {
	resolved, err := Probe(entryPath)
	if err != nil {
		return nil, err
	}
	for _, loader := range c {
		if m, ok := loader.(Matcher); ok && !m.Accepts(resolved) {
			continue
		}
		return loader.Load(resolved)
	}
	return nil, fmt.Errorf("no loader accepts %s", resolved)
}

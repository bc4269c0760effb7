// Package cmdpkg 定义命令包的描述符、package.json 清单模型以及整个解析链路共享的错误分类。
// 该包不做任何 IO，resolver/cache/dispatch 等上层包都依赖这里的类型来传递"要什么"与"为什么失败"。
package cmdpkg

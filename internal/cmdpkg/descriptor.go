package cmdpkg

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// LatestVersion 是版本哨兵值，表示在安装/更新时解析为可用的最新版本。
const LatestVersion = "latest"

// DescriptorOptions 是构造 Descriptor 的输入，字段命名同时兼容配置文件中的松散结构。
type DescriptorOptions struct {
	Name         string `mapstructure:"name"`
	Version      string `mapstructure:"version"`
	OverridePath string `mapstructure:"overridePath"`
	CacheRoot    string `mapstructure:"cacheRoot"`
}

// Descriptor 描述一次调用所需要的命令包，构造后不可修改。
type Descriptor struct {
	name         string
	version      string
	overridePath string
	cacheRoot    string
}

// NewDescriptor 校验输入并构造 Descriptor。opts 为 nil，或者既没有覆盖路径
// 也没有 name+cacheRoot 组合时返回 ErrInvalidDescriptor。
func NewDescriptor(opts *DescriptorOptions) (Descriptor, error) {
	if opts == nil {
		return Descriptor{}, Errorf(KindInvalidDescriptor, "new descriptor", "", "options must not be empty")
	}

	d := Descriptor{
		name:         strings.TrimSpace(opts.Name),
		version:      strings.TrimSpace(opts.Version),
		overridePath: strings.TrimSpace(opts.OverridePath),
		cacheRoot:    strings.TrimSpace(opts.CacheRoot),
	}
	if d.version == "" {
		d.version = LatestVersion
	}

	if d.overridePath == "" && (d.name == "" || d.cacheRoot == "") {
		return Descriptor{}, Errorf(KindInvalidDescriptor, "new descriptor", d.name,
			"either an override path or both name and cache root are required")
	}
	return d, nil
}

// DescriptorFromMap 从未定型的数据（例如配置解码结果）构造 Descriptor。
// 输入必须是 map 或结构体，原始值与数组都会被拒绝。
func DescriptorFromMap(raw any) (Descriptor, error) {
	if raw == nil {
		return Descriptor{}, Errorf(KindInvalidDescriptor, "decode descriptor", "", "options must not be empty")
	}

	v := reflect.ValueOf(raw)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return Descriptor{}, Errorf(KindInvalidDescriptor, "decode descriptor", "", "options must not be empty")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Map && v.Kind() != reflect.Struct {
		return Descriptor{}, Errorf(KindInvalidDescriptor, "decode descriptor", "", "options must be an object, got %T", raw)
	}

	var opts DescriptorOptions
	if err := mapstructure.Decode(v.Interface(), &opts); err != nil {
		return Descriptor{}, Wrap(KindInvalidDescriptor, "decode descriptor", "", err)
	}
	return NewDescriptor(&opts)
}

func (d Descriptor) Name() string         { return d.name }
func (d Descriptor) Version() string      { return d.version }
func (d Descriptor) OverridePath() string { return d.overridePath }
func (d Descriptor) CacheRoot() string    { return d.cacheRoot }

// HasOverride 表示调用方指定了本地开发目录，此时 Version 不参与解析。
func (d Descriptor) HasOverride() bool { return d.overridePath != "" }

// IsLatest 表示版本仍是哨兵值，需要向上游解析。
func (d Descriptor) IsLatest() bool { return d.version == LatestVersion }

// WithVersion 返回替换版本后的副本，常用于把 latest 固定为具体版本。
func (d Descriptor) WithVersion(version string) Descriptor {
	d.version = version
	return d
}

func (d Descriptor) String() string {
	if d.name == "" {
		return d.overridePath
	}
	return fmt.Sprintf("%s@%s", d.name, d.version)
}

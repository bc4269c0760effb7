// Package resolver 把一个包描述符转换为可加载的入口文件绝对路径：
// 本地覆盖目录优先且不回退，否则按需从缓存安装后读取入口。
package resolver

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/San-Stu/sanstu-cli/internal/cache"
	"github.com/San-Stu/sanstu-cli/internal/cmdpkg"
	"github.com/San-Stu/sanstu-cli/internal/pkgpath"
)

const (
	SourceOverride = "override"
	SourceStore    = "store"
)

// Resolver 是 PackageResolver 的实现。
type Resolver struct {
	store  cache.Store
	logger *logrus.Logger
}

// Resolution 携带入口路径及其来源，供上层日志与 which 子命令展示。
type Resolution struct {
	Entry       string
	PackageRoot string
	Manifest    cmdpkg.Manifest
	Source      string
	Version     string
}

// New 构造 Resolver；store 在只使用覆盖目录的场景下可以为 nil。
func New(store cache.Store, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{store: store, logger: logger}
}

// ResolveEntry 返回描述符对应入口文件的绝对路径。
func (r *Resolver) ResolveEntry(ctx context.Context, d cmdpkg.Descriptor) (string, error) {
	res, err := r.Resolve(ctx, d)
	if err != nil {
		return "", err
	}
	return res.Entry, nil
}

// Resolve 与 ResolveEntry 相同，但保留包根目录与清单信息。
func (r *Resolver) Resolve(ctx context.Context, d cmdpkg.Descriptor) (Resolution, error) {
	if d.HasOverride() {
		return r.fromOverride(d)
	}
	return r.fromStore(ctx, d)
}

func (r *Resolver) fromOverride(d cmdpkg.Descriptor) (Resolution, error) {
	root, ok, err := pkgpath.FindPackageRoot(d.OverridePath())
	if err != nil {
		return Resolution{}, cmdpkg.Wrap(cmdpkg.KindOverridePathInvalid, "resolve override", d.Name(), err)
	}
	if !ok {
		return Resolution{}, cmdpkg.Errorf(cmdpkg.KindOverridePathInvalid, "resolve override", d.Name(),
			"no %s at or above %s", cmdpkg.ManifestFile, d.OverridePath())
	}

	entry, manifest, err := pkgpath.EntryFor(root)
	if err != nil {
		return Resolution{}, withPackage(err, d.Name())
	}

	r.logger.WithFields(logrus.Fields{
		"action":  "resolve",
		"package": d.Name(),
		"source":  SourceOverride,
		"root":    root,
		"entry":   entry,
	}).Debug("entry resolved from override path")
	return Resolution{Entry: entry, PackageRoot: root, Manifest: manifest, Source: SourceOverride, Version: manifest.Version}, nil
}

func (r *Resolver) fromStore(ctx context.Context, d cmdpkg.Descriptor) (Resolution, error) {
	if r.store == nil {
		return Resolution{}, cmdpkg.Errorf(cmdpkg.KindInvalidDescriptor, "resolve", d.Name(), "no package store configured")
	}

	exists, err := r.store.Exists(ctx, d)
	if err != nil {
		return Resolution{}, err
	}
	if !exists {
		r.logger.WithFields(logrus.Fields{
			"action":  "resolve",
			"package": d.Name(),
			"version": d.Version(),
			"source":  SourceStore,
		}).Debug("package not cached, installing")
		if _, err := r.store.Install(ctx, d); err != nil {
			return Resolution{}, err
		}
	}

	record, err := r.store.Lookup(ctx, d)
	if err != nil {
		return Resolution{}, err
	}
	entry, manifest, err := pkgpath.EntryFor(record.Dir)
	if err != nil {
		return Resolution{}, withPackage(err, d.Name())
	}

	r.logger.WithFields(logrus.Fields{
		"action":  "resolve",
		"package": record.Name,
		"version": record.Version,
		"source":  SourceStore,
		"entry":   entry,
	}).Debug("entry resolved from package store")
	return Resolution{Entry: entry, PackageRoot: record.Dir, Manifest: manifest, Source: SourceStore, Version: record.Version}, nil
}

// withPackage 为 pkgpath 返回的错误补上包名。
func withPackage(err error, name string) error {
	var e *cmdpkg.Error
	if name != "" && errors.As(err, &e) && e.Package == "" {
		clone := *e
		clone.Package = name
		return &clone
	}
	return err
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	semver "github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/San-Stu/sanstu-cli/internal/cmdpkg"
	"github.com/San-Stu/sanstu-cli/internal/pkgpath"
	"github.com/San-Stu/sanstu-cli/internal/registry"
)

const (
	defaultFetchTimeout = 60 * time.Second
	tempPrefix          = ".tmp-"
)

// Options 控制 Store 的可选行为。
type Options struct {
	Logger       *logrus.Logger
	FetchTimeout time.Duration
}

// NewStore 构建基于文件系统的 Store，整个进程复用一份实例。
func NewStore(upstream Upstream, opts Options) (Store, error) {
	if upstream == nil {
		return nil, errors.New("upstream required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &fileStore{
		upstream: upstream,
		logger:   logger,
		timeout:  timeout,
	}, nil
}

// fileStore 通过 singleflight 合并同进程内同一 key 的写入，通过 fileLock 排斥其它进程。
type fileStore struct {
	upstream Upstream
	logger   *logrus.Logger
	timeout  time.Duration

	group    singleflight.Group
	resolved sync.Map // key: cacheRoot|name|version, value: registry.VersionInfo
}

func (s *fileStore) Exists(ctx context.Context, d cmdpkg.Descriptor) (bool, error) {
	if !d.IsLatest() {
		if _, ok := validRecord(d.CacheRoot(), d.Name(), d.Version()); ok {
			return true, nil
		}
	}
	info, err := s.resolve(ctx, d, false)
	if err != nil {
		return false, err
	}
	_, ok := validRecord(d.CacheRoot(), info.Name, info.Version)
	return ok, nil
}

func (s *fileStore) Install(ctx context.Context, d cmdpkg.Descriptor) (Record, error) {
	// 固定版本已落盘时无需访问上游。
	if !d.IsLatest() {
		if record, ok := validRecord(d.CacheRoot(), d.Name(), d.Version()); ok {
			return record, nil
		}
	}
	info, err := s.resolve(ctx, d, false)
	if err != nil {
		return Record{}, err
	}
	return s.install(ctx, d.CacheRoot(), info)
}

func (s *fileStore) Update(ctx context.Context, d cmdpkg.Descriptor) (Record, error) {
	latest := d.WithVersion(cmdpkg.LatestVersion)
	info, err := s.resolve(ctx, latest, true)
	if err != nil {
		return Record{}, err
	}

	current, hasCurrent, err := s.highest(d.CacheRoot(), d.Name())
	if err != nil {
		return Record{}, err
	}
	if hasCurrent && !isNewer(info.Version, current.Version) {
		s.logger.WithFields(logrus.Fields{
			"action":  "update",
			"package": d.Name(),
			"current": current.Version,
			"latest":  info.Version,
		}).Debug("package already current")
		return current, nil
	}
	return s.install(ctx, d.CacheRoot(), info)
}

// Lookup 只读本地：固定版本直接查目录；latest 使用本进程已解析的版本，
// 未解析过时取本地最高版本。
func (s *fileStore) Lookup(_ context.Context, d cmdpkg.Descriptor) (Record, error) {
	if d.Name() == "" || d.CacheRoot() == "" {
		return Record{}, cmdpkg.Errorf(cmdpkg.KindInvalidDescriptor, "lookup", d.Name(), "store requires name and cache root")
	}

	name, version := d.Name(), d.Version()
	if d.IsLatest() {
		cached, ok := s.resolved.Load(resolveKey(d))
		if !ok {
			record, found, err := s.highest(d.CacheRoot(), d.Name())
			if err != nil {
				return Record{}, cmdpkg.Wrap(cmdpkg.KindNoSuchPackage, "lookup", d.Name(), err)
			}
			if !found {
				return Record{}, cmdpkg.Errorf(cmdpkg.KindNoSuchPackage, "lookup", d.Name(),
					"no version of %s is installed in %s", d.Name(), d.CacheRoot())
			}
			return record, nil
		}
		info := cached.(registry.VersionInfo)
		name, version = info.Name, info.Version
	}

	record, ok := validRecord(d.CacheRoot(), name, version)
	if !ok {
		return Record{}, cmdpkg.Errorf(cmdpkg.KindNoSuchPackage, "lookup", d.Name(),
			"%s@%s is not installed in %s", name, version, d.CacheRoot())
	}
	return record, nil
}

func (s *fileStore) List(cacheRoot string) ([]Record, error) {
	entries, err := os.ReadDir(cacheRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var records []Record
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name, version, ok := parseRecordDir(entry.Name())
		if !ok {
			continue
		}
		if record, ok := validRecord(cacheRoot, name, version); ok {
			records = append(records, record)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return isNewer(records[j].Version, records[i].Version)
	})
	return records, nil
}

// resolve 把描述符版本固定为具体版本。fresh=false 时复用本进程内的解析结果，
// 使 Exists → Install → Lookup 只访问一次上游。
func (s *fileStore) resolve(ctx context.Context, d cmdpkg.Descriptor, fresh bool) (registry.VersionInfo, error) {
	if d.Name() == "" || d.CacheRoot() == "" {
		return registry.VersionInfo{}, cmdpkg.Errorf(cmdpkg.KindInvalidDescriptor, "resolve", d.Name(), "store requires name and cache root")
	}

	key := resolveKey(d)
	if !fresh {
		if cached, ok := s.resolved.Load(key); ok {
			return cached.(registry.VersionInfo), nil
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	info, err := s.upstream.Resolve(fetchCtx, d.Name(), d.Version())
	if err != nil {
		if registry.IsTimeout(err) {
			err = cmdpkg.Errorf(cmdpkg.KindInstallFailed, "resolve", d.Name(), "registry timed out after %s", s.timeout)
		}
		return registry.VersionInfo{}, cmdpkg.Wrap(cmdpkg.KindInstallFailed, "resolve", d.Name(), err)
	}
	if info.Name == "" {
		info.Name = d.Name()
	}
	if _, err := semver.NewVersion(info.Version); err != nil {
		return registry.VersionInfo{}, cmdpkg.Errorf(cmdpkg.KindInstallFailed, "resolve", d.Name(),
			"registry returned invalid version %q", info.Version)
	}
	if _, err := RecordDir(d.CacheRoot(), info.Name, info.Version); err != nil {
		return registry.VersionInfo{}, cmdpkg.Wrap(cmdpkg.KindInstallFailed, "resolve", d.Name(), err)
	}
	s.resolved.Store(key, info)
	return info, nil
}

func resolveKey(d cmdpkg.Descriptor) string {
	return d.CacheRoot() + "|" + d.Name() + "|" + d.Version()
}

func (s *fileStore) install(ctx context.Context, cacheRoot string, info registry.VersionInfo) (Record, error) {
	key, err := RecordDir(cacheRoot, info.Name, info.Version)
	if err != nil {
		return Record{}, cmdpkg.Wrap(cmdpkg.KindInstallFailed, "install", info.Name, err)
	}
	value, err, shared := s.group.Do(key, func() (any, error) {
		return s.materialize(ctx, cacheRoot, info)
	})
	if err != nil {
		return Record{}, err
	}
	if shared {
		s.logger.WithFields(logrus.Fields{
			"action":  "install",
			"package": info.Name,
			"version": info.Version,
		}).Debug("install coalesced with in-flight call")
	}
	return value.(Record), nil
}

// materialize 在持有跨进程锁的前提下下载、解压并原子地重命名到最终目录。
func (s *fileStore) materialize(ctx context.Context, cacheRoot string, info registry.VersionInfo) (Record, error) {
	if record, ok := validRecord(cacheRoot, info.Name, info.Version); ok {
		return record, nil
	}

	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		return Record{}, cmdpkg.Wrap(cmdpkg.KindInstallFailed, "install", info.Name, fmt.Errorf("create cache root: %w", err))
	}

	finalDir, err := RecordDir(cacheRoot, info.Name, info.Version)
	if err != nil {
		return Record{}, cmdpkg.Wrap(cmdpkg.KindInstallFailed, "install", info.Name, err)
	}

	lock := newFileLock(finalDir + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return Record{}, cmdpkg.Wrap(cmdpkg.KindInstallFailed, "install", info.Name, fmt.Errorf("acquire lock: %w", err))
	}
	if !locked {
		return Record{}, cmdpkg.Errorf(cmdpkg.KindInstallInProgress, "install", info.Name,
			"%s@%s is being installed by another process", info.Name, info.Version)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.WithError(err).WithField("package", info.Name).Warn("cache_unlock_failed")
		}
	}()

	// 等锁期间其它进程可能已完成安装。
	if record, ok := validRecord(cacheRoot, info.Name, info.Version); ok {
		return record, nil
	}

	s.sweepStaleTemp(cacheRoot)

	if _, err := os.Stat(finalDir); err == nil {
		// 目录存在却不是有效记录，只可能是早期损坏的残留；持锁状态下清理后重装。
		if err := os.RemoveAll(finalDir); err != nil {
			return Record{}, cmdpkg.Wrap(cmdpkg.KindInstallFailed, "install", info.Name, err)
		}
	}

	started := time.Now()
	fields := logrus.Fields{
		"action":  "install",
		"package": info.Name,
		"version": info.Version,
		"tarball": info.Dist.Tarball,
	}
	s.logger.WithFields(fields).Debug("installing package")

	tempDir := filepath.Join(cacheRoot, tempPrefix+uuid.NewString())
	if err := os.Mkdir(tempDir, 0o755); err != nil {
		return Record{}, cmdpkg.Wrap(cmdpkg.KindInstallFailed, "install", info.Name, err)
	}
	defer os.RemoveAll(tempDir)

	if err := s.fetchInto(ctx, info, tempDir); err != nil {
		return Record{}, err
	}

	manifest, err := pkgpath.ReadManifest(tempDir)
	if err != nil {
		return Record{}, cmdpkg.Errorf(cmdpkg.KindInstallFailed, "install", info.Name, "tarball has no readable %s: %v", cmdpkg.ManifestFile, err)
	}
	if strings.TrimSpace(manifest.Main) == "" {
		return Record{}, cmdpkg.Errorf(cmdpkg.KindInstallFailed, "install", info.Name, "%s declares no main entry", cmdpkg.ManifestFile)
	}

	if err := os.Rename(tempDir, finalDir); err != nil {
		if record, ok := validRecord(cacheRoot, info.Name, info.Version); ok {
			return record, nil
		}
		return Record{}, cmdpkg.Wrap(cmdpkg.KindInstallFailed, "install", info.Name, err)
	}

	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	fields["dir"] = finalDir
	s.logger.WithFields(fields).Info("package installed")

	return Record{Name: info.Name, Version: info.Version, Dir: finalDir, Manifest: manifest}, nil
}

func (s *fileStore) fetchInto(ctx context.Context, info registry.VersionInfo, dir string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := s.upstream.Download(fetchCtx, info)
	if err != nil {
		return cmdpkg.Wrap(cmdpkg.KindInstallFailed, "download", info.Name, err)
	}
	defer body.Close()

	if err := extractTarball(fetchCtx, body, info.Dist.Tarball, dir, info.Dist.Shasum); err != nil {
		if registry.IsTimeout(err) {
			return cmdpkg.Errorf(cmdpkg.KindInstallFailed, "download", info.Name, "timed out after %s", s.timeout)
		}
		return cmdpkg.Wrap(cmdpkg.KindInstallFailed, "extract", info.Name, err)
	}
	return nil
}

// highest 返回 name 在本地的最高版本记录。
func (s *fileStore) highest(cacheRoot, name string) (Record, bool, error) {
	records, err := s.List(cacheRoot)
	if err != nil {
		return Record{}, false, err
	}
	var best Record
	found := false
	for _, record := range records {
		if record.Name != name {
			continue
		}
		if !found || isNewer(record.Version, best.Version) {
			best, found = record, true
		}
	}
	return best, found, nil
}

// sweepStaleTemp 清理崩溃进程遗留的解压目录。存活超过两倍抓取超时的 .tmp-* 目录
// 不可能仍在使用，因为每次下载与解压都受同一超时约束。
func (s *fileStore) sweepStaleTemp(cacheRoot string) {
	entries, err := os.ReadDir(cacheRoot)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-2 * s.timeout)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		stale := filepath.Join(cacheRoot, entry.Name())
		if err := os.RemoveAll(stale); err != nil {
			s.logger.WithError(err).WithField("dir", stale).Warn("cache_sweep_failed")
			continue
		}
		s.logger.WithFields(logrus.Fields{"action": "sweep", "dir": stale}).Debug("removed stale temp dir")
	}
}

// validRecord 仅当目录存在且 package.json 可读并声明了 main 时才视为记录存在。
func validRecord(cacheRoot, name, version string) (Record, bool) {
	dir, err := RecordDir(cacheRoot, name, version)
	if err != nil {
		return Record{}, false
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Record{}, false
	}
	manifest, err := pkgpath.ReadManifest(dir)
	if err != nil || strings.TrimSpace(manifest.Main) == "" {
		return Record{}, false
	}
	return Record{Name: name, Version: version, Dir: dir, Manifest: manifest}, true
}

// isNewer 判断 candidate 是否严格高于 current；无法解析的版本按字符串比较兜底。
func isNewer(candidate, current string) bool {
	cv, errA := semver.NewVersion(candidate)
	cur, errB := semver.NewVersion(current)
	if errA != nil || errB != nil {
		return candidate > current
	}
	return cv.GreaterThan(cur)
}

package server

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	semver "github.com/Masterminds/semver/v3"
	"github.com/gofiber/fiber/v3"

	"github.com/San-Stu/sanstu-cli/internal/cmdpkg"
	"github.com/San-Stu/sanstu-cli/internal/registry"
)

// tarballSuffixes 是镜像目录中识别的归档格式。
var tarballSuffixes = []string{".tgz", ".tar.gz", ".tar.xz"}

// Mirror 把目录 <root>/<name>/<version>.tgz 暴露为 npm 兼容仓库。
type Mirror struct {
	root string
}

// NewMirror 校验目录存在并返回镜像实例。
func NewMirror(dir string) (*Mirror, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("mirror directory required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve mirror directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("mirror directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mirror path %s is not a directory", abs)
	}
	return &Mirror{root: abs}, nil
}

// Root 返回镜像根目录。
func (m *Mirror) Root() string {
	return m.root
}

// Packument 扫描包目录生成文档，tarball 地址以 baseURL 为前缀。
func (m *Mirror) Packument(name, baseURL string) (*registry.Packument, error) {
	dir, err := m.packageDir(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, cmdpkg.ErrNoSuchPackage
		}
		return nil, err
	}

	doc := &registry.Packument{
		Name:     name,
		DistTags: map[string]string{},
		Versions: map[string]registry.VersionInfo{},
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, ok := trimTarballSuffix(entry.Name())
		if !ok {
			continue
		}
		if _, err := semver.NewVersion(version); err != nil {
			continue
		}
		sum, err := fileSHA1(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		doc.Versions[version] = registry.VersionInfo{
			Name:    name,
			Version: version,
			Dist: registry.Dist{
				Tarball: strings.TrimRight(baseURL, "/") + "/-/tarballs/" + name + "/" + entry.Name(),
				Shasum:  sum,
			},
		}
	}
	if len(doc.Versions) == 0 {
		return nil, cmdpkg.ErrNoSuchPackage
	}

	sorted := doc.SortedVersions()
	latest := sorted[len(sorted)-1]
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Prerelease() == "" {
			latest = sorted[i]
			break
		}
	}
	doc.DistTags[cmdpkg.LatestVersion] = latest.Original()
	return doc, nil
}

func (m *Mirror) servePackument(c fiber.Ctx) error {
	name, err := requestName(string(c.Request().URI().PathOriginal()))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_package_name"})
	}
	doc, err := m.Packument(name, c.BaseURL())
	if err != nil {
		if errors.Is(err, cmdpkg.ErrNoSuchPackage) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(doc)
}

func (m *Mirror) serveTarball(c fiber.Ctx) error {
	raw := strings.TrimPrefix(string(c.Request().URI().PathOriginal()), "/-/tarballs/")
	rel, err := url.PathUnescape(stripQuery(raw))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_path"})
	}
	name, file := path.Split(rel)
	dir, err := m.packageDir(strings.TrimSuffix(name, "/"))
	if err != nil || file == "" || strings.Contains(file, "..") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_path"})
	}

	data, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	c.Set(fiber.HeaderContentType, "application/octet-stream")
	return c.Send(data)
}

// packageDir 把包名映射到镜像目录，拒绝越界路径。
func (m *Mirror) packageDir(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(m.root, filepath.FromSlash(name)), nil
}

func requestName(rawPath string) (string, error) {
	unescaped, err := url.PathUnescape(stripQuery(rawPath))
	if err != nil {
		return "", err
	}
	name := strings.Trim(unescaped, "/")
	if err := validateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// validateName 只接受 name 或 @scope/name 两种形式。
func validateName(name string) error {
	if name == "" {
		return errors.New("package name required")
	}
	parts := strings.Split(name, "/")
	switch {
	case len(parts) == 1 && !strings.HasPrefix(name, "@"):
	case len(parts) == 2 && strings.HasPrefix(parts[0], "@") && len(parts[0]) > 1 && parts[1] != "":
	default:
		return fmt.Errorf("invalid package name %q", name)
	}
	for _, part := range parts {
		if part == "." || part == ".." || strings.ContainsAny(part, `\`) {
			return fmt.Errorf("invalid package name %q", name)
		}
	}
	return nil
}

func trimTarballSuffix(file string) (string, bool) {
	for _, suffix := range tarballSuffixes {
		if strings.HasSuffix(file, suffix) {
			return strings.TrimSuffix(file, suffix), true
		}
	}
	return "", false
}

func stripQuery(raw string) string {
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		return raw[:idx]
	}
	return raw
}

func fileSHA1(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

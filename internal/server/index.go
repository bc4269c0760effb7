package server

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"
)

// PackageSummary 是 /-/packages 诊断接口中的单个包。
type PackageSummary struct {
	Name     string   `json:"name"`
	Latest   string   `json:"latest"`
	Versions []string `json:"versions"`
}

// Index 列出镜像目录中的全部包，scoped 包按 @scope/name 展开。
func (m *Mirror) Index(baseURL string) ([]PackageSummary, error) {
	names, err := m.packageNames()
	if err != nil {
		return nil, err
	}
	result := make([]PackageSummary, 0, len(names))
	for _, name := range names {
		doc, err := m.Packument(name, baseURL)
		if err != nil {
			continue
		}
		item := PackageSummary{Name: name, Latest: doc.DistTags["latest"]}
		for _, v := range doc.SortedVersions() {
			item.Versions = append(item.Versions, v.Original())
		}
		result = append(result, item)
	}
	return result, nil
}

func (m *Mirror) packageNames() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !strings.HasPrefix(entry.Name(), "@") {
			names = append(names, entry.Name())
			continue
		}
		scoped, err := os.ReadDir(filepath.Join(m.root, entry.Name()))
		if err != nil {
			continue
		}
		for _, child := range scoped {
			if child.IsDir() {
				names = append(names, entry.Name()+"/"+child.Name())
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// registerIndexRoutes 暴露 /-/packages，便于确认镜像实际提供了哪些版本。
func registerIndexRoutes(app *fiber.App, mirror *Mirror) {
	app.Get("/-/packages", func(c fiber.Ctx) error {
		packages, err := mirror.Index(c.BaseURL())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{
			"root":     mirror.Root(),
			"packages": packages,
		})
	})
}

package cmdpkg

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"
)

// ManifestFile 是包根目录的标记文件名。
const ManifestFile = "package.json"

// Manifest 只保留解析入口所需的 package.json 字段。
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Main        string `json:"main"`
	Description string `json:"description,omitempty"`
}

// ParseManifest 解析 package.json，允许开发者在本地覆盖目录中保留注释与尾逗号。
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", ManifestFile, err)
	}
	return m, nil
}

package registry

import (
	"sort"

	semver "github.com/Masterminds/semver/v3"

	"github.com/San-Stu/sanstu-cli/internal/cmdpkg"
)

// Packument 是 npm 仓库返回的包文档，只保留安装需要的字段。
type Packument struct {
	Name     string                 `json:"name"`
	DistTags map[string]string      `json:"dist-tags"`
	Versions map[string]VersionInfo `json:"versions"`
}

// VersionInfo 描述单个版本及其 tarball。
type VersionInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Main    string `json:"main,omitempty"`
	Dist    Dist   `json:"dist"`
}

// Dist 记录 tarball 地址与校验信息。
type Dist struct {
	Tarball   string `json:"tarball"`
	Shasum    string `json:"shasum,omitempty"`
	Integrity string `json:"integrity,omitempty"`
}

// Resolve 把 version 解析为具体版本：latest 优先取 dist-tags.latest，其次取最高稳定版；
// 具体版本需在 versions 中存在（语义等价即可，如 v1.0.0 与 1.0.0）。
func (p *Packument) Resolve(version string) (VersionInfo, error) {
	if version == "" || version == cmdpkg.LatestVersion {
		return p.latest()
	}

	if info, ok := p.Versions[version]; ok {
		return p.fill(version, info)
	}
	want, err := semver.NewVersion(version)
	if err != nil {
		return VersionInfo{}, cmdpkg.Errorf(cmdpkg.KindVersionNotFound, "resolve version", p.Name, "invalid version %q", version)
	}
	for raw, info := range p.Versions {
		if v, err := semver.NewVersion(raw); err == nil && v.Equal(want) {
			return p.fill(raw, info)
		}
	}
	return VersionInfo{}, cmdpkg.Errorf(cmdpkg.KindVersionNotFound, "resolve version", p.Name, "version %s does not exist upstream", version)
}

func (p *Packument) latest() (VersionInfo, error) {
	if tag := p.DistTags[cmdpkg.LatestVersion]; tag != "" {
		if info, ok := p.Versions[tag]; ok {
			return p.fill(tag, info)
		}
	}

	sorted := p.SortedVersions()
	if len(sorted) == 0 {
		return VersionInfo{}, cmdpkg.Errorf(cmdpkg.KindVersionNotFound, "resolve version", p.Name, "no published versions")
	}
	// 没有 latest 标签时跳过预发布版本，全部为预发布则退回最高版本。
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Prerelease() == "" {
			raw := sorted[i].Original()
			return p.fill(raw, p.Versions[raw])
		}
	}
	raw := sorted[len(sorted)-1].Original()
	return p.fill(raw, p.Versions[raw])
}

// SortedVersions 返回可解析的版本号，按语义版本升序排列。
func (p *Packument) SortedVersions() []*semver.Version {
	out := make([]*semver.Version, 0, len(p.Versions))
	for raw := range p.Versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	sort.Sort(semver.Collection(out))
	return out
}

// fill 补全版本条目缺省的字段。版本号会成为缓存目录名的一部分，必须是合法语义版本。
func (p *Packument) fill(raw string, info VersionInfo) (VersionInfo, error) {
	if info.Version == "" {
		info.Version = raw
	}
	if info.Name == "" {
		info.Name = p.Name
	}
	if _, err := semver.NewVersion(info.Version); err != nil {
		return VersionInfo{}, cmdpkg.Errorf(cmdpkg.KindInstallFailed, "resolve version", p.Name, "registry lists invalid version %q", info.Version)
	}
	return info, nil
}

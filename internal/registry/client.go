// Package registry 实现与 npm 兼容的上游仓库客户端：获取 packument、解析 latest 哨兵、下载 tarball。
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/San-Stu/sanstu-cli/internal/cmdpkg"
	"github.com/San-Stu/sanstu-cli/internal/version"
)

// DefaultRegistry 是未配置时使用的公共 npm 仓库。
const DefaultRegistry = "https://registry.npmjs.org"

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          16,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewHTTPClient 返回带整体超时的 http.Client，timeout<=0 时使用 60s。
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// Client 访问单个上游仓库。
type Client struct {
	base   *url.URL
	client *http.Client
}

// NewClient 校验 baseURL 并构造客户端；httpClient 为 nil 时使用 NewHTTPClient(0)。
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		raw = DefaultRegistry
	}
	parsed, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid registry url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("registry url must be http or https: %s", raw)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("registry url has no host: %s", raw)
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &Client{base: parsed, client: httpClient}, nil
}

// BaseURL 返回规整后的仓库地址。
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Packument 获取包的全部版本元数据。上游 404 视为 VersionNotFound。
func (c *Client) Packument(ctx context.Context, name string) (*Packument, error) {
	if strings.TrimSpace(name) == "" {
		return nil, cmdpkg.Errorf(cmdpkg.KindInvalidDescriptor, "fetch packument", "", "package name required")
	}

	target := c.base.String() + "/" + EscapeName(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, cmdpkg.Wrap(cmdpkg.KindInstallFailed, "fetch packument", name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, cmdpkg.Wrap(cmdpkg.KindInstallFailed, "fetch packument", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, cmdpkg.Errorf(cmdpkg.KindVersionNotFound, "fetch packument", name, "package not found in %s", c.base.Host)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, cmdpkg.Errorf(cmdpkg.KindInstallFailed, "fetch packument", name, "upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc Packument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, cmdpkg.Wrap(cmdpkg.KindInstallFailed, "fetch packument", name, fmt.Errorf("decode packument: %w", err))
	}
	if doc.Name == "" {
		doc.Name = name
	}
	return &doc, nil
}

// Resolve 获取 packument 并解析 version（支持 latest 哨兵）。
func (c *Client) Resolve(ctx context.Context, name, version string) (VersionInfo, error) {
	doc, err := c.Packument(ctx, name)
	if err != nil {
		return VersionInfo{}, err
	}
	return doc.Resolve(version)
}

// Download 打开 tarball 的响应流，调用方负责关闭。
func (c *Client) Download(ctx context.Context, info VersionInfo) (io.ReadCloser, error) {
	if info.Dist.Tarball == "" {
		return nil, cmdpkg.Errorf(cmdpkg.KindInstallFailed, "download", info.Name, "version %s has no tarball", info.Version)
	}

	tarball, err := c.tarballURL(info.Dist.Tarball)
	if err != nil {
		return nil, cmdpkg.Wrap(cmdpkg.KindInstallFailed, "download", info.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tarball, http.NoBody)
	if err != nil {
		return nil, cmdpkg.Wrap(cmdpkg.KindInstallFailed, "download", info.Name, err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, cmdpkg.Wrap(cmdpkg.KindInstallFailed, "download", info.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, cmdpkg.Errorf(cmdpkg.KindInstallFailed, "download", info.Name, "tarball status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// tarballURL 允许镜像返回相对地址。
func (c *Client) tarballURL(raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	return c.base.ResolveReference(ref).String(), nil
}

// EscapeName 把 scoped 包名编码为仓库路径：@scope/name → @scope%2Fname。
func EscapeName(name string) string {
	return url.PathEscape(strings.TrimSpace(name))
}

// IsTimeout 判断错误是否由上游超时导致，便于日志标注。
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

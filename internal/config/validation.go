package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	semver "github.com/Masterminds/semver/v3"
)

// Validate 针对语义级别做进一步校验，防止非法配置进入分发流程。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if strings.TrimSpace(g.CacheRoot) == "" {
		return newFieldError("Global.CacheRoot", "不能为空")
	}
	if err := validateRegistry(g.Registry); err != nil {
		return fmt.Errorf("Global.Registry: %w", err)
	}
	if g.FetchTimeout.DurationValue() <= 0 {
		return newFieldError("Global.FetchTimeout", "必须大于 0")
	}
	if g.LockRetries < 0 {
		return newFieldError("Global.LockRetries", "不能为负数")
	}
	if g.LockBackoff.DurationValue() <= 0 {
		return newFieldError("Global.LockBackoff", "必须大于 0")
	}
	if g.LogMaxSize < 0 || g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxSize/LogMaxBackups", "不能为负数")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Commands {
		cmd := &c.Commands[i]
		if cmd.Name == "" {
			return newFieldError("Command[].Name", "不能为空")
		}
		if strings.ContainsAny(cmd.Name, " \t/\\") {
			return newFieldError(commandField(cmd.Name, "Name"), "不能包含空白或路径分隔符")
		}
		if _, exists := seenNames[cmd.Name]; exists {
			return newFieldError(commandField(cmd.Name, "Name"), "重复")
		}
		seenNames[cmd.Name] = struct{}{}

		if cmd.Package == "" {
			return newFieldError(commandField(cmd.Name, "Package"), "不能为空")
		}
		if err := validateVersion(cmd.Version); err != nil {
			return fmt.Errorf("%s: %w", commandField(cmd.Name, "Version"), err)
		}
	}

	return nil
}

func validateVersion(raw string) error {
	if raw == "" || raw == "latest" {
		return nil
	}
	if _, err := semver.NewVersion(raw); err != nil {
		return fmt.Errorf("必须为 latest 或语义化版本号: %s", raw)
	}
	return nil
}

func validateRegistry(raw string) error {
	if raw == "" {
		return errors.New("缺少仓库地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，仓库: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("仓库缺少 Host: %s", raw)
	}
	return nil
}

// Command 按名称查找命令配置。
func (c *Config) Command(name string) (CommandConfig, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, cmd := range c.Commands {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return CommandConfig{}, false
}

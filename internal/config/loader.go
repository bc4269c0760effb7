package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// DefaultCliHome 是用户主目录下的默认 CLI 目录名。
	DefaultCliHome = ".sanstu-cli"
	// EnvCliHome 覆盖 CLI 目录名（相对用户主目录）。
	EnvCliHome = "CLI_HOME"
	// EnvPrefix 是配置项环境变量前缀，例如 SANSTU_REGISTRY。
	EnvPrefix = "SANSTU"

	configFileName   = "config.toml"
	dependenciesName = "dependencies"
	defaultRegistry  = "https://registry.npmjs.org"
)

// UserHome 返回当前用户主目录，目录不存在时报错。
func UserHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", newFieldError("UserHome", "无法确定当前用户主目录")
	}
	info, err := os.Stat(home)
	if err != nil || !info.IsDir() {
		return "", newFieldError("UserHome", fmt.Sprintf("主目录不存在: %s", home))
	}
	return home, nil
}

// DefaultCliHomePath 计算 CLI 主目录：设置了 CLI_HOME 时为 <home>/$CLI_HOME。
func DefaultCliHomePath(home string) string {
	if custom := strings.TrimSpace(os.Getenv(EnvCliHome)); custom != "" {
		return filepath.Join(home, custom)
	}
	return filepath.Join(home, DefaultCliHome)
}

// DefaultConfigPath 返回默认配置文件位置。
func DefaultConfigPath(home string) string {
	return filepath.Join(DefaultCliHomePath(home), configFileName)
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
// path 为空时使用默认位置，默认文件不存在不视为错误；显式指定的文件必须存在。
func Load(path string) (*Config, error) {
	home, err := UserHome()
	if err != nil {
		return nil, err
	}

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultConfigPath(home)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, home)

	readPath := ""
	if _, statErr := os.Stat(path); statErr == nil || explicit {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
		readPath = path
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取配置失败: %w", statErr)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.Path = readPath

	applyGlobalDefaults(&cfg.Global, home)
	cfg.Commands = mergeCommands(cfg.Commands)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, field := range []*string{&cfg.Global.CliHome, &cfg.Global.CacheRoot} {
		abs, err := filepath.Abs(expandHome(*field, home))
		if err != nil {
			return nil, fmt.Errorf("无法解析目录 %s: %w", *field, err)
		}
		*field = abs
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, home string) {
	cliHome := DefaultCliHomePath(home)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CliHome", cliHome)
	v.SetDefault("CacheRoot", "")
	v.SetDefault("Registry", defaultRegistry)
	v.SetDefault("FetchTimeout", "60s")
	v.SetDefault("LockRetries", 3)
	v.SetDefault("LockBackoff", "500ms")
}

func applyGlobalDefaults(g *GlobalConfig, home string) {
	if strings.TrimSpace(g.CliHome) == "" {
		g.CliHome = DefaultCliHomePath(home)
	}
	if strings.TrimSpace(g.CacheRoot) == "" {
		g.CacheRoot = filepath.Join(expandHome(g.CliHome, home), dependenciesName)
	}
	if strings.TrimSpace(g.Registry) == "" {
		g.Registry = defaultRegistry
	}
	if g.FetchTimeout.DurationValue() == 0 {
		g.FetchTimeout = Duration(60 * time.Second)
	}
	if g.LockBackoff.DurationValue() == 0 {
		g.LockBackoff = Duration(500 * time.Millisecond)
	}
}

// mergeCommands 以内置命令表为底，配置中同名命令覆盖内置项。
func mergeCommands(configured []CommandConfig) []CommandConfig {
	seen := make(map[string]struct{}, len(configured))
	merged := make([]CommandConfig, 0, len(configured)+1)
	for _, cmd := range configured {
		cmd.Name = strings.ToLower(strings.TrimSpace(cmd.Name))
		cmd.Package = strings.TrimSpace(cmd.Package)
		cmd.Version = strings.TrimSpace(cmd.Version)
		if cmd.Version == "" {
			cmd.Version = "latest"
		}
		merged = append(merged, cmd)
		seen[cmd.Name] = struct{}{}
	}
	for _, cmd := range DefaultCommands() {
		if _, ok := seen[cmd.Name]; !ok {
			merged = append(merged, cmd)
		}
	}
	return merged
}

func expandHome(p, home string) string {
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		return filepath.Join(home, p[2:])
	}
	return p
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

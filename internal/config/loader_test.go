package config

import "testing"

func TestLoadRejectsInvalidDuration(t *testing.T) {
	withHome(t)
	cfg := `
FetchTimeout = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsMalformedToml(t *testing.T) {
	withHome(t)
	path := writeTempConfig(t, "[[Command]\nName = ")
	if _, err := Load(path); err == nil {
		t.Fatalf("语法错误的配置应失败")
	}
}

func TestExpandHome(t *testing.T) {
	if got := expandHome("~/cache", "/home/u"); got != "/home/u/cache" && got != `\home\u\cache` {
		t.Fatalf("unexpected expansion %s", got)
	}
	if got := expandHome("/abs", "/home/u"); got != "/abs" {
		t.Fatalf("absolute path should be untouched: %s", got)
	}
}

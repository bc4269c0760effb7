package cmdpkg

import (
	"errors"
	"testing"
)

func TestNewDescriptorRejectsNil(t *testing.T) {
	if _, err := NewDescriptor(nil); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
}

func TestNewDescriptorRequiresLocation(t *testing.T) {
	_, err := NewDescriptor(&DescriptorOptions{Name: "init-cmd"})
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("name without cache root should be invalid, got %v", err)
	}

	d, err := NewDescriptor(&DescriptorOptions{OverridePath: "/dev/local-init"})
	if err != nil {
		t.Fatalf("override alone should be valid: %v", err)
	}
	if !d.HasOverride() {
		t.Fatalf("override should be reported")
	}
}

func TestNewDescriptorDefaultsToLatest(t *testing.T) {
	d, err := NewDescriptor(&DescriptorOptions{Name: "init-cmd", CacheRoot: "/cache"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.IsLatest() {
		t.Fatalf("empty version should become latest, got %s", d.Version())
	}
	if d.String() != "init-cmd@latest" {
		t.Fatalf("unexpected string form: %s", d.String())
	}
	pinned := d.WithVersion("1.2.3")
	if pinned.Version() != "1.2.3" || d.Version() != LatestVersion {
		t.Fatalf("WithVersion must not mutate the original")
	}
}

func TestDescriptorFromMap(t *testing.T) {
	d, err := DescriptorFromMap(map[string]any{
		"name":      "@sanstu-cli/init",
		"version":   "1.0.0",
		"cacheRoot": "/cache",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Name() != "@sanstu-cli/init" || d.Version() != "1.0.0" || d.CacheRoot() != "/cache" {
		t.Fatalf("decoded descriptor mismatch: %+v", d)
	}
}

func TestDescriptorFromMapRejectsNonObjects(t *testing.T) {
	cases := []any{nil, "init", 42, []string{"init"}, (*DescriptorOptions)(nil)}
	for _, raw := range cases {
		if _, err := DescriptorFromMap(raw); !errors.Is(err, ErrInvalidDescriptor) {
			t.Fatalf("input %#v should be rejected, got %v", raw, err)
		}
	}
}

func TestErrorKindMatching(t *testing.T) {
	err := Errorf(KindInstallFailed, "install", "init-cmd", "status %d", 500)
	if !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("kind should match sentinel")
	}
	if errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("kind must not match a different sentinel")
	}
	if kind, ok := KindOf(err); !ok || kind != KindInstallFailed {
		t.Fatalf("KindOf mismatch: %v %v", kind, ok)
	}

	rewrapped := Wrap(KindNoSuchPackage, "resolve", "init-cmd", err)
	if !errors.Is(rewrapped, ErrInstallFailed) {
		t.Fatalf("Wrap must keep an existing kind")
	}
}

func TestParseManifestToleratesComments(t *testing.T) {
	m, err := ParseManifest([]byte(`{
  // local build
  "name": "init-cmd",
  "main": "lib/index",
}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if m.Main != "lib/index" {
		t.Fatalf("unexpected main: %q", m.Main)
	}
}

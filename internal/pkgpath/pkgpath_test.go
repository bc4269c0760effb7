package pkgpath

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/San-Stu/sanstu-cli/internal/cmdpkg"
)

func TestFindPackageRootWalksUpward(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"name":"init-cmd","main":"lib/index"}`)
	nested := filepath.Join(root, "lib", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	got, ok, err := FindPackageRoot(nested)
	if err != nil || !ok {
		t.Fatalf("expected package root, got ok=%v err=%v", ok, err)
	}
	if got != root {
		t.Fatalf("expected %s, got %s", root, got)
	}
}

func TestFindPackageRootFromFile(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"main":"index.sh"}`)
	file := filepath.Join(root, "index.sh")
	if err := os.WriteFile(file, []byte("exit 0\n"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}

	got, ok, err := FindPackageRoot(file)
	if err != nil || !ok || got != root {
		t.Fatalf("expected %s, got %s ok=%v err=%v", root, got, ok, err)
	}
}

func TestFindPackageRootMissingPathDoesNotFail(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"main":"index.sh"}`)

	got, ok, err := FindPackageRoot(filepath.Join(root, "not", "there"))
	if err != nil {
		t.Fatalf("missing start path must not error: %v", err)
	}
	if !ok || got != root {
		t.Fatalf("expected search to continue from ancestors, got %s ok=%v", got, ok)
	}
}

func TestFindPackageRootEmptyUsesWorkingDir(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"main":"index.sh"}`)
	t.Chdir(root)

	got, ok, err := FindPackageRoot("")
	if err != nil || !ok {
		t.Fatalf("expected cwd lookup to succeed, ok=%v err=%v", ok, err)
	}
	resolved, _ := filepath.EvalSymlinks(root)
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != resolved {
		t.Fatalf("expected %s, got %s", resolved, gotResolved)
	}
}

func TestFindPackageRootNotFound(t *testing.T) {
	dir := t.TempDir()
	// 临时目录的祖先通常不会有 package.json；若宿主环境恰好有，则跳过。
	if _, ok, _ := FindPackageRoot(filepath.Dir(dir)); ok {
		t.Skip("an ancestor of the temp dir contains package.json")
	}
	_, ok, err := FindPackageRoot(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no package root")
	}
}

func TestResolveEntryPathNormalizesSeparators(t *testing.T) {
	root := t.TempDir()
	want := filepath.Join(root, "lib", "index")

	for _, main := range []string{"lib/index", `lib\index`, "./lib/index"} {
		got, err := ResolveEntryPath(root, main)
		if err != nil {
			t.Fatalf("main %q: unexpected error: %v", main, err)
		}
		if got != want {
			t.Fatalf("main %q: expected %s, got %s", main, want, got)
		}
		if !filepath.IsAbs(got) {
			t.Fatalf("main %q: result must be absolute", main)
		}
		if !strings.HasPrefix(got, root) {
			t.Fatalf("main %q: result must stay under root", main)
		}
	}
}

func TestResolveEntryPathRequiresMain(t *testing.T) {
	if _, err := ResolveEntryPath(t.TempDir(), "  "); !errors.Is(err, cmdpkg.ErrNoEntryDeclared) {
		t.Fatalf("expected ErrNoEntryDeclared, got %v", err)
	}
}

func TestReadManifestMissing(t *testing.T) {
	if _, err := ReadManifest(t.TempDir()); !errors.Is(err, cmdpkg.ErrNoSuchPackage) {
		t.Fatalf("expected ErrNoSuchPackage, got %v", err)
	}
}

func TestEntryFor(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"name":"init-cmd","main":"lib/index"}`)

	entry, m, err := EntryFor(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Name != "init-cmd" {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if entry != filepath.Join(root, "lib", "index") {
		t.Fatalf("unexpected entry: %s", entry)
	}
}

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, cmdpkg.ManifestFile), []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

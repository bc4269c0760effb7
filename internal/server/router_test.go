package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/San-Stu/sanstu-cli/internal/registry"
	"github.com/San-Stu/sanstu-cli/internal/server"
	"github.com/San-Stu/sanstu-cli/internal/testutil"
)

func TestNewAppRequiresDependencies(t *testing.T) {
	if _, err := server.NewApp(server.AppOptions{Mirror: &server.Mirror{}}); err == nil {
		t.Fatalf("expected logger error")
	}
	if _, err := server.NewApp(server.AppOptions{Logger: logrus.New()}); err == nil {
		t.Fatalf("expected mirror error")
	}
}

func TestNewMirrorRejectsMissingDir(t *testing.T) {
	if _, err := server.NewMirror(""); err == nil {
		t.Fatalf("expected error for empty dir")
	}
	if _, err := server.NewMirror(t.TempDir() + "/missing"); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestPingSetsRequestID(t *testing.T) {
	app := newTestApp(t, t.TempDir())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "http://mirror.test/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestPackumentForScopedPackage(t *testing.T) {
	dir := t.TempDir()
	testutil.Publish(t, dir, "@sanstu-cli/init", "1.0.0", testutil.CommandFiles("@sanstu-cli/init", "1.0.0", "a"))
	testutil.Publish(t, dir, "@sanstu-cli/init", "1.1.0", testutil.CommandFiles("@sanstu-cli/init", "1.1.0", "b"))
	app := newTestApp(t, dir)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "http://mirror.test/@sanstu-cli%2Finit", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d body=%s", resp.StatusCode, body)
	}
	var doc registry.Packument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode packument: %v", err)
	}
	if doc.DistTags["latest"] != "1.1.0" {
		t.Fatalf("unexpected latest tag %v", doc.DistTags)
	}
	info := doc.Versions["1.0.0"]
	if info.Dist.Tarball != "http://mirror.test/-/tarballs/@sanstu-cli/init/1.0.0.tgz" {
		t.Fatalf("unexpected tarball url %s", info.Dist.Tarball)
	}
	if len(info.Dist.Shasum) != 40 {
		t.Fatalf("expected sha1 shasum, got %q", info.Dist.Shasum)
	}
}

func TestPackumentNotFoundAndInvalid(t *testing.T) {
	app := newTestApp(t, t.TempDir())

	cases := map[string]int{
		"http://mirror.test/missing":        fiber.StatusNotFound,
		"http://mirror.test/a/b/c":          fiber.StatusBadRequest,
		"http://mirror.test/@scope":         fiber.StatusBadRequest,
		"http://mirror.test/-/tarballs/x/1": fiber.StatusNotFound,
	}
	for target, want := range cases {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
		if err != nil {
			t.Fatalf("app.Test(%s) failed: %v", target, err)
		}
		if resp.StatusCode != want {
			t.Fatalf("%s: expected %d, got %d", target, want, resp.StatusCode)
		}
	}
}

func TestTarballDownload(t *testing.T) {
	dir := t.TempDir()
	testutil.Publish(t, dir, "hello", "1.0.0", testutil.CommandFiles("hello", "1.0.0", "a"))
	app := newTestApp(t, dir)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "http://mirror.test/-/tarballs/hello/1.0.0.tgz", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) == 0 {
		t.Fatalf("expected tarball body")
	}
}

func TestPackagesIndex(t *testing.T) {
	dir := t.TempDir()
	testutil.Publish(t, dir, "hello", "1.0.0", testutil.CommandFiles("hello", "1.0.0", "a"))
	testutil.Publish(t, dir, "@sanstu-cli/init", "0.2.0", testutil.CommandFiles("@sanstu-cli/init", "0.2.0", "b"))
	app := newTestApp(t, dir)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "http://mirror.test/-/packages", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload struct {
		Packages []server.PackageSummary `json:"packages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if len(payload.Packages) != 2 {
		t.Fatalf("expected 2 packages, got %+v", payload.Packages)
	}
	if payload.Packages[0].Name != "@sanstu-cli/init" || payload.Packages[0].Latest != "0.2.0" {
		t.Fatalf("unexpected first package %+v", payload.Packages[0])
	}
}

func newTestApp(t *testing.T, dir string) *fiber.App {
	t.Helper()
	mirror, err := server.NewMirror(dir)
	if err != nil {
		t.Fatalf("new mirror: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	app, err := server.NewApp(server.AppOptions{Logger: logger, Mirror: mirror})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return app
}

package builder

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/go-cmp/cmp"
	"github.com/melih/docling-deploy/internal/core/ports"
)

type fakeDaemon struct {
	stream string
	err    error
	opts   types.ImageBuildOptions
	files  []string
}

func (f *fakeDaemon) ImageBuild(_ context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	f.opts = options
	tr := tar.NewReader(buildContext)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return types.ImageBuildResponse{}, err
		}
		if hdr.Typeflag == tar.TypeReg {
			f.files = append(f.files, hdr.Name)
		}
	}
	sort.Strings(f.files)
	if f.err != nil {
		return types.ImageBuildResponse{}, f.err
	}
	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(f.stream))}, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newContextDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Dockerfile"), "FROM python:3.11-slim\nEXPOSE 5010\n")
	writeFile(t, filepath.Join(dir, "docling_price_tables_extraction_api_server.py"), "print('hi')\n")
	return dir
}

const okStream = `{"stream":"Step 1/2 : FROM python:3.11-slim\n"}
{"stream":"Successfully tagged docling-api:latest\n"}
`

func TestBuildImageSendsContextAndTag(t *testing.T) {
	dir := newContextDir(t)
	writeFile(t, filepath.Join(dir, ".dockerignore"), "*.log\n")
	writeFile(t, filepath.Join(dir, "debug.log"), "noise\n")

	daemon := &fakeDaemon{stream: okStream}
	var out bytes.Buffer
	a := newAdapter(daemon, &out, nil)

	image, err := a.BuildImage(context.Background(), ports.BuildRequest{
		ContextDir: dir,
		Dockerfile: "Dockerfile",
		ImageName:  "docling-api",
	})
	if err != nil {
		t.Fatalf("BuildImage() unexpected error: %v", err)
	}
	if image != "docling-api" {
		t.Errorf("expected image docling-api, got %q", image)
	}
	if diff := cmp.Diff([]string{"docling-api"}, daemon.opts.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	if !daemon.opts.Remove {
		t.Error("expected intermediate containers to be removed")
	}
	wantFiles := []string{".dockerignore", "Dockerfile", "docling_price_tables_extraction_api_server.py"}
	if diff := cmp.Diff(wantFiles, daemon.files); diff != "" {
		t.Errorf("build context mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(out.String(), "Successfully tagged") {
		t.Errorf("expected build progress in output, got:\n%s", out.String())
	}
}

func TestBuildImageSurfacesDaemonError(t *testing.T) {
	dir := newContextDir(t)
	daemon := &fakeDaemon{stream: `{"stream":"Step 1/2 : FROM python:3.11-slim\n"}
{"errorDetail":{"message":"pull access denied for python"},"error":"pull access denied for python"}
`}
	a := newAdapter(daemon, io.Discard, nil)

	_, err := a.BuildImage(context.Background(), ports.BuildRequest{ContextDir: dir, ImageName: "docling-api"})
	if err == nil || !strings.Contains(err.Error(), "pull access denied for python") {
		t.Fatalf("expected daemon error text, got %v", err)
	}
}

func TestBuildImageRequestError(t *testing.T) {
	dir := newContextDir(t)
	daemon := &fakeDaemon{err: errors.New("Cannot connect to the Docker daemon")}
	a := newAdapter(daemon, io.Discard, nil)

	_, err := a.BuildImage(context.Background(), ports.BuildRequest{ContextDir: dir, ImageName: "docling-api"})
	if err == nil || !strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestBuildImageMissingDockerfile(t *testing.T) {
	daemon := &fakeDaemon{stream: okStream}
	a := newAdapter(daemon, io.Discard, nil)

	_, err := a.BuildImage(context.Background(), ports.BuildRequest{ContextDir: t.TempDir(), ImageName: "docling-api"})
	if err == nil {
		t.Fatal("expected error for a context without Dockerfile")
	}
	if daemon.files != nil {
		t.Error("daemon should not be called without a Dockerfile")
	}
}

func TestBuildImageLabelsGitRevision(t *testing.T) {
	dir := newContextDir(t)
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("Dockerfile"); err != nil {
		t.Fatal(err)
	}
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "ops", Email: "ops@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}

	daemon := &fakeDaemon{stream: okStream}
	a := newAdapter(daemon, io.Discard, nil)
	if _, err := a.BuildImage(context.Background(), ports.BuildRequest{ContextDir: dir, ImageName: "docling-api"}); err != nil {
		t.Fatalf("BuildImage() unexpected error: %v", err)
	}

	if got := daemon.opts.Labels[RevisionLabel]; got != hash.String() {
		t.Errorf("expected revision label %s, got %q", hash, got)
	}
}

func TestGitRevisionOutsideRepo(t *testing.T) {
	if rev := gitRevision(t.TempDir()); rev != "" {
		t.Errorf("expected no revision outside a repository, got %q", rev)
	}
}

func TestBuildImageKeepsDockerfileWithAllowListDockerignore(t *testing.T) {
	dir := newContextDir(t)
	writeFile(t, filepath.Join(dir, ".dockerignore"), "*\n!docling_price_tables_extraction_api_server.py\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored\n")

	daemon := &fakeDaemon{stream: okStream}
	a := newAdapter(daemon, io.Discard, nil)

	if _, err := a.BuildImage(context.Background(), ports.BuildRequest{ContextDir: dir, ImageName: "docling-api"}); err != nil {
		t.Fatalf("BuildImage() unexpected error: %v", err)
	}

	wantFiles := []string{".dockerignore", "Dockerfile", "docling_price_tables_extraction_api_server.py"}
	if diff := cmp.Diff(wantFiles, daemon.files); diff != "" {
		t.Errorf("build context mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildImageAbsoluteDockerfile(t *testing.T) {
	dir := newContextDir(t)
	writeFile(t, filepath.Join(dir, "docker", "Dockerfile.gpu"), "FROM python:3.11-slim\n")

	daemon := &fakeDaemon{stream: okStream}
	a := newAdapter(daemon, io.Discard, nil)

	_, err := a.BuildImage(context.Background(), ports.BuildRequest{
		ContextDir: dir,
		Dockerfile: filepath.Join(dir, "docker", "Dockerfile.gpu"),
		ImageName:  "docling-api",
	})
	if err != nil {
		t.Fatalf("BuildImage() unexpected error: %v", err)
	}
	if daemon.opts.Dockerfile != "docker/Dockerfile.gpu" {
		t.Errorf("expected Dockerfile relative to the context, got %q", daemon.opts.Dockerfile)
	}
}

func TestBuildImageDockerfileOutsideContext(t *testing.T) {
	dir := newContextDir(t)
	outside := filepath.Join(t.TempDir(), "Dockerfile")
	writeFile(t, outside, "FROM python:3.11-slim\n")

	daemon := &fakeDaemon{stream: okStream}
	a := newAdapter(daemon, io.Discard, nil)

	_, err := a.BuildImage(context.Background(), ports.BuildRequest{ContextDir: dir, Dockerfile: outside, ImageName: "docling-api"})
	if err == nil || !strings.Contains(err.Error(), "outside the build context") {
		t.Fatalf("expected outside-context error, got %v", err)
	}
	if daemon.files != nil {
		t.Error("daemon should not be called")
	}
}

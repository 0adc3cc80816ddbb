package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/go-git/go-git/v5"
	"github.com/melih/docling-deploy/internal/core/ports"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/moby/term"
)

// RevisionLabel records the git commit the image was built from.
const RevisionLabel = "org.opencontainers.image.revision"

// imageBuilder is the part of the Docker client the adapter uses.
type imageBuilder interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
}

// Adapter implements ports.BuilderService using the Docker SDK.
type Adapter struct {
	cli    imageBuilder
	out    io.Writer
	logger *log.Logger
}

// NewBuilderAdapter creates a builder that streams build progress to out.
func NewBuilderAdapter(out io.Writer, logger *log.Logger) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newAdapter(cli, out, logger), nil
}

func newAdapter(cli imageBuilder, out io.Writer, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Adapter{cli: cli, out: out, logger: logger}
}

// BuildImage builds and tags an image from a local directory or a git repository.
func (a *Adapter) BuildImage(ctx context.Context, req ports.BuildRequest) (string, error) {
	contextDir := req.ContextDir
	if req.RepoURL != "" {
		tmpDir, err := os.MkdirTemp("", "docling-build-*")
		if err != nil {
			return "", fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(tmpDir)

		fmt.Fprintf(a.out, "Cloning %s into %s...\n", req.RepoURL, tmpDir)
		_, err = git.PlainCloneContext(ctx, tmpDir, false, &git.CloneOptions{
			URL:      req.RepoURL,
			Progress: a.out,
			Depth:    1,
		})
		if err != nil {
			return "", fmt.Errorf("failed to clone repo: %w", err)
		}
		contextDir = tmpDir
	}

	dockerfile, err := contextDockerfile(contextDir, req.Dockerfile)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(contextDir, dockerfile)); err != nil {
		return "", fmt.Errorf("failed to find %s in %s: %w", dockerfile, contextDir, err)
	}

	excludes, err := readDockerignore(contextDir)
	if err != nil {
		return "", err
	}
	excludes = keepBuildFiles(excludes, dockerfile)
	tar, err := archive.TarWithOptions(contextDir, &archive.TarOptions{
		ExcludePatterns: excludes,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create build context: %w", err)
	}
	defer tar.Close()

	opts := types.ImageBuildOptions{
		Tags:       []string{req.ImageName},
		Dockerfile: filepath.ToSlash(dockerfile),
		Remove:     true, // Remove intermediate containers
	}
	if rev := gitRevision(contextDir); rev != "" {
		opts.Labels = map[string]string{RevisionLabel: rev}
		a.logger.Debug("labelling image with git revision", "revision", rev)
	}

	resp, err := a.cli.ImageBuild(ctx, tar, opts)
	if err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}
	defer resp.Body.Close()

	// The daemon reports build failures inside the progress stream, so it
	// has to be read to the end before the build can be considered done.
	fd, isTerm := term.GetFdInfo(a.out)
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, a.out, fd, isTerm, nil); err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}

	return req.ImageName, nil
}

// contextDockerfile returns the Dockerfile path relative to contextDir.
// Absolute paths are accepted when they point inside the context.
func contextDockerfile(contextDir, dockerfile string) (string, error) {
	if dockerfile == "" {
		return "Dockerfile", nil
	}
	if !filepath.IsAbs(dockerfile) {
		return filepath.Clean(dockerfile), nil
	}
	absContext, err := filepath.Abs(contextDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve build context: %w", err)
	}
	rel, err := filepath.Rel(absContext, dockerfile)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("dockerfile %s is outside the build context %s", dockerfile, contextDir)
	}
	return rel, nil
}

// keepBuildFiles re-includes the Dockerfile and .dockerignore, which the
// daemon needs even when .dockerignore excludes them.
func keepBuildFiles(excludes []string, dockerfile string) []string {
	if len(excludes) == 0 {
		return excludes
	}
	return append(excludes, "!"+filepath.ToSlash(dockerfile), "!.dockerignore")
}

// readDockerignore returns the exclusion patterns of dir/.dockerignore, if any.
func readDockerignore(dir string) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, ".dockerignore"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open .dockerignore: %w", err)
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read .dockerignore: %w", err)
	}
	return patterns, nil
}

// gitRevision returns the HEAD commit of the work tree containing dir, or "".
func gitRevision(dir string) string {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}

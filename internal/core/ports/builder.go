package ports

import "context"

// BuildRequest describes an image build.
type BuildRequest struct {
	// ContextDir is the local build context. Ignored when RepoURL is set.
	ContextDir string
	// RepoURL, when set, is cloned and used as the build context instead.
	RepoURL    string
	Dockerfile string
	ImageName  string
}

// BuilderService defines operations for building container images.
type BuilderService interface {
	// BuildImage builds an image from the request's context and tags it.
	// It returns the tag of the built image or an error carrying the
	// build tool's diagnostic text.
	BuildImage(ctx context.Context, req BuildRequest) (string, error)
}

package activity

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/edvin/hosting/internal/buildlog"
	"github.com/edvin/hosting/internal/driver"
)

// BuildActivities generates a build context from a Git-sourced deployment
// spec, streams it to the Docker Driver, and archives the resulting build
// transcript.
type BuildActivities struct {
	driver   driver.Driver
	archiver *buildlog.Archiver
}

func NewBuildActivities(d driver.Driver, archiver *buildlog.Archiver) *BuildActivities {
	return &BuildActivities{driver: d, archiver: archiver}
}

// GitBuildSpec is the subset of a Deployment's Git fields needed to
// generate a Dockerfile and run the build.
type GitBuildSpec struct {
	GitURL     string `json:"git_url"`
	Branch     string `json:"branch"`
	BaseImage  string `json:"base_image"`
	InstallCmd string `json:"install_cmd"`
	BuildCmd   string `json:"build_cmd"`
	StartCmd   string `json:"start_cmd"`
}

// GenerateDockerfile produces the Dockerfile content for a Git build,
// following the exact rules: install git appropriately for the base image,
// clone the branch, run as a non-root appuser, merge install/build
// commands, expose 3000, and set CMD to the argv form of start_cmd (or the
// "yarn","start" default).
func GenerateDockerfile(spec GitBuildSpec) string {
	var installGit string
	if strings.Contains(strings.ToLower(spec.BaseImage), "alpine") {
		installGit = "RUN apk add --no-cache git"
	} else {
		installGit = "RUN apt-get update && apt-get install -y git && rm -rf /var/lib/apt/lists/*"
	}

	branch := spec.Branch
	if branch == "" {
		branch = "main"
	}

	buildCmds := spec.InstallCmd
	if spec.BuildCmd != "" {
		if buildCmds != "" {
			buildCmds += " && " + spec.BuildCmd
		} else {
			buildCmds = spec.BuildCmd
		}
	}
	if buildCmds == "" {
		buildCmds = "true"
	}

	cmd := `CMD ["yarn","start"]`
	if spec.StartCmd != "" {
		fields := strings.Fields(spec.StartCmd)
		quoted := make([]string, len(fields))
		for i, f := range fields {
			quoted[i] = fmt.Sprintf("%q", f)
		}
		cmd = "CMD [" + strings.Join(quoted, ",") + "]"
	}

	return fmt.Sprintf(`FROM %s
%s
RUN useradd -m appuser || adduser -D appuser
WORKDIR /app
RUN chown appuser:appuser /app
RUN git clone --branch %s --depth 1 %s .
RUN chown -R appuser:appuser /app
USER appuser
RUN %s
EXPOSE 3000
%s
`, spec.BaseImage, installGit, branch, spec.GitURL, buildCmds, cmd)
}

// BuildContextTar packages a generated Dockerfile as a single-file tar
// stream, the build context the engine's build endpoint expects.
func BuildContextTar(dockerfile string) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	hdr := &tar.Header{
		Name: "Dockerfile",
		Mode: 0644,
		Size: int64(len(dockerfile)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write([]byte(dockerfile)); err != nil {
		return nil, fmt.Errorf("write dockerfile to tar: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar writer: %w", err)
	}
	return &buf, nil
}

type BuildImageParams struct {
	Spec         GitBuildSpec `json:"spec"`
	Tag          string       `json:"tag"`
	DeploymentID string       `json:"deployment_id"`
	Version      int          `json:"version"`
}

type BuildImageResult struct {
	Success    bool   `json:"success"`
	ErrMessage string `json:"err_message,omitempty"`
}

// BuildImage generates the Dockerfile, streams the build, parses the
// result, and archives the full transcript regardless of outcome.
func (a *BuildActivities) BuildImage(ctx context.Context, params BuildImageParams) (*BuildImageResult, error) {
	dockerfile := GenerateDockerfile(params.Spec)
	tarBuf, err := BuildContextTar(dockerfile)
	if err != nil {
		return nil, fmt.Errorf("build context for %s: %w", params.Tag, err)
	}

	stream, err := a.driver.BuildImageFromTar(ctx, tarBuf, params.Tag)
	if err != nil {
		return nil, fmt.Errorf("start build for %s: %w", params.Tag, err)
	}
	defer stream.Close()

	var transcript bytes.Buffer
	tee := io.TeeReader(stream, &transcript)
	buildErr := driver.ParseBuildStream(tee)

	if a.archiver != nil {
		_ = a.archiver.Put(ctx, params.DeploymentID, params.Version, transcript.String())
	}

	if buildErr != nil {
		return &BuildImageResult{Success: false, ErrMessage: buildErr.Error()}, nil
	}
	return &BuildImageResult{Success: true}, nil
}

// GetArchivedBuildLog reads back the archived build transcript for one
// version of a deployment. DeploymentService.GetLogs does not call this
// activity; it reads the archive through its own archiver.
func (a *BuildActivities) GetArchivedBuildLog(ctx context.Context, deploymentID string, version int) (string, error) {
	if a.archiver == nil {
		return "", fmt.Errorf("build log archival is not configured")
	}
	return a.archiver.Get(ctx, deploymentID, version)
}

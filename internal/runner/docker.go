package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	scannerBufSize = 1024 * 1024 // 1 MB
	lineBufCap     = 256
	stopTimeoutSec = 5
)

// Docker builds and runs candidate repositories as containers. The channel
// name of the invocation is used (lowercased) as the image tag, so a running
// container is traceable back to its room.
type Docker struct {
	cli      *client.Client
	cloneDir string
}

// NewDocker connects to the local Docker daemon. cloneDir is where
// repositories are checked out while building; empty means the system temp
// directory.
func NewDocker(cloneDir string) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if cloneDir == "" {
		cloneDir = os.TempDir()
	} else if err := os.MkdirAll(cloneDir, 0o755); err != nil {
		return nil, fmt.Errorf("create clone dir: %w", err)
	}
	return &Docker{cli: cli, cloneDir: cloneDir}, nil
}

// Start clones the repository, builds an image from its Dockerfile, starts a
// container, and follows its logs until exit.
func (d *Docker) Start(ctx context.Context, spec StartSpec) (Run, error) {
	repoPath, err := cloneRepository(ctx, spec.RepoURL, d.cloneDir)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(repoPath)

	buildCtx, err := archive.TarWithOptions(repoPath, &archive.TarOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: tar build context: %v", ErrBadRepository, err)
	}
	defer buildCtx.Close()

	imageTag := strings.ToLower(spec.ChannelName)
	resp, err := d.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{imageTag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("image build: %w", err)
	}
	if err := drainBuildOutput(resp.Body); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: build failed: %v", ErrBadRepository, err)
	}
	resp.Body.Close()

	created, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image: imageTag,
	}, nil, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	logs, err := d.cli.ContainerLogs(runCtx, created.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("follow container logs: %w", err)
	}

	dr := &dockerRun{
		cli:         d.cli,
		containerID: created.ID,
		cancel:      cancel,
		lines:       make(chan string, lineBufCap),
		done:        make(chan struct{}),
	}

	go dr.pumpLines(logs)
	go dr.waitForExit(runCtx)

	return dr, nil
}

// drainBuildOutput consumes the daemon's JSON build stream and surfaces any
// error record in it. A missing Dockerfile or a broken build step arrives
// here, not as an ImageBuild error.
func drainBuildOutput(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var msg struct {
			Error string `json:"error"`
		}
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if msg.Error != "" {
			return errors.New(msg.Error)
		}
	}
}

type dockerRun struct {
	cli         *client.Client
	containerID string
	cancel      context.CancelFunc

	lines chan string
	done  chan struct{}
	exit  int

	stopOnce sync.Once
}

func (r *dockerRun) Lines() <-chan string { return r.lines }

func (r *dockerRun) Wait() int {
	<-r.done
	return r.exit
}

// Stop stops and removes the container.
func (r *dockerRun) Stop() {
	r.stopOnce.Do(func() {
		ctx := context.Background()
		timeout := stopTimeoutSec
		if err := r.cli.ContainerStop(ctx, r.containerID, container.StopOptions{Timeout: &timeout}); err != nil {
			log.Printf("runner: stop container %s: %v", r.containerID, err)
		}
		if err := r.cli.ContainerRemove(ctx, r.containerID, container.RemoveOptions{Force: true}); err != nil {
			log.Printf("runner: remove container %s: %v", r.containerID, err)
		}
		r.cancel()
	})
}

// pumpLines demultiplexes the container log stream and emits one filtered
// line per console line, in production order.
func (r *dockerRun) pumpLines(logs io.ReadCloser) {
	defer close(r.lines)
	defer logs.Close()

	pr, pw := io.Pipe()
	go func() {
		// The log stream multiplexes stdout/stderr with frame headers when
		// the container has no TTY.
		_, err := stdcopy.StdCopy(pw, pw, logs)
		pw.CloseWithError(err)
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, scannerBufSize), scannerBufSize)
	for scanner.Scan() {
		r.lines <- FilterPrintable(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		log.Printf("runner: log scanner for container %s: %v", r.containerID, err)
	}
}

func (r *dockerRun) waitForExit(ctx context.Context) {
	defer close(r.done)

	statusCh, errCh := r.cli.ContainerWait(ctx, r.containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("runner: wait for container %s: %v", r.containerID, err)
		}
		r.exit = -1
	case status := <-statusCh:
		r.exit = int(status.StatusCode)
	}
}

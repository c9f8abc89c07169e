package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog/log"
)

// Client wraps the official Docker client with the operations the instance manager needs.
type Client struct {
	cli *client.Client
}

// ExecResult is the drained output of a finished exec.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// New creates a new Docker client wrapper.
func New() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Client{cli: cli}, nil
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.cli.Close()
}

// IsNotFound reports whether err is a Docker "no such object" error.
func IsNotFound(err error) bool {
	return client.IsErrNotFound(err)
}

// EnsureImage pulls ref unless it is already present locally.
func (c *Client) EnsureImage(ctx context.Context, ref string) error {
	if _, err := c.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspect image %s: %w", ref, err)
	}

	log.Info().Str("image", ref).Msg("Pulling image")
	rc, err := c.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer rc.Close()
	// The pull only completes once its progress stream is consumed.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	return nil
}

// CreateVolume creates a named volume.
func (c *Client) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	_, err := c.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name, Labels: labels})
	return err
}

// RemoveVolume deletes a named volume. A missing volume is not an error.
func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	err := c.cli.VolumeRemove(ctx, name, true)
	if client.IsErrNotFound(err) {
		return nil
	}
	return err
}

// CreateContainer creates a new Docker container with the given configurations and returns its ID.
func (c *Client) CreateContainer(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, containerName string) (string, error) {
	resp, err := c.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
	if err != nil {
		return "", err
	}
	for _, w := range resp.Warnings {
		log.Warn().Str("container_id", resp.ID).Msg(w)
	}
	return resp.ID, nil
}

// StartContainer starts a container by its ID.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	return c.cli.ContainerStart(ctx, id, container.StartOptions{})
}

// StopContainer stops a container, giving the game server timeout to shut down cleanly.
func (c *Client) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return c.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs})
}

// RemoveContainer deletes a container by its ID. Named volumes are kept.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	return c.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

// InspectContainer returns the container's inspect document.
func (c *Client) InspectContainer(ctx context.Context, containerID string) (container.InspectResponse, error) {
	return c.cli.ContainerInspect(ctx, containerID)
}

// ListContainers lists containers, stopped ones included, matching f.
func (c *Client) ListContainers(ctx context.Context, f filters.Args) ([]container.Summary, error) {
	return c.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
}

// Exec runs cmd inside a running container, drains its multiplexed output and returns it with
// the exit code.
func (c *Client) Exec(ctx context.Context, id string, cmd []string) (ExecResult, error) {
	created, err := c.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec create: %w", err)
	}

	attach, err := c.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return ExecResult{}, fmt.Errorf("exec read output: %w", err)
	}

	inspect, err := c.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec inspect: %w", err)
	}
	return ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// ExportPath streams path out of the container as an uncompressed tar archive.
func (c *Client) ExportPath(ctx context.Context, id, path string) (io.ReadCloser, error) {
	rc, _, err := c.cli.CopyFromContainer(ctx, id, path)
	return rc, err
}

// ImportArchive extracts the tar stream r into dstPath inside the container.
func (c *Client) ImportArchive(ctx context.Context, id, dstPath string, r io.Reader) error {
	return c.cli.CopyToContainer(ctx, id, dstPath, r, container.CopyToContainerOptions{AllowOverwriteDirWithFile: true})
}

// GetContainerStats returns a one-shot sample of the container's resource usage.
func (c *Client) GetContainerStats(ctx context.Context, id string) (*container.StatsResponse, error) {
	stats, err := c.cli.ContainerStats(ctx, id, false) // false for not streaming
	if err != nil {
		return nil, err
	}
	defer stats.Body.Close()

	var statsJSON container.StatsResponse
	if err := json.NewDecoder(stats.Body).Decode(&statsJSON); err != nil {
		return nil, err
	}

	return &statsJSON, nil
}

// CalculateCPUPercent calculates the CPU usage percentage from Docker stats.
func CalculateCPUPercent(stats *container.StatsResponse) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	onlineCPUs := float64(stats.CPUStats.OnlineCPUs)
	if onlineCPUs == 0.0 {
		onlineCPUs = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}

	if systemDelta > 0.0 && cpuDelta > 0.0 {
		return (cpuDelta / systemDelta) * onlineCPUs * 100.0
	}
	return 0.0
}

// CalculateRAMPercent calculates the RAM usage percentage from Docker stats, excluding page cache.
func CalculateRAMPercent(stats *container.StatsResponse) float64 {
	if stats.MemoryStats.Limit == 0 {
		return 0.0
	}
	used := stats.MemoryStats.Usage
	if cache, ok := stats.MemoryStats.Stats["inactive_file"]; ok && cache < used {
		used -= cache
	}
	return float64(used) / float64(stats.MemoryStats.Limit) * 100.0
}

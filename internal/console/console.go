// Package console sends administrative commands to a running Minecraft server.
package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/nomanoma121/minecraft-discord-bot/internal/docker"
)

// Executor runs a command inside a container. *docker.Client satisfies it.
type Executor interface {
	Exec(ctx context.Context, id string, cmd []string) (docker.ExecResult, error)
}

// ExecConsole drives the server through the image's rcon-cli helper, run with docker exec.
type ExecConsole struct {
	exec Executor
}

func NewExecConsole(exec Executor) *ExecConsole {
	return &ExecConsole{exec: exec}
}

// Run executes a console command and returns its output. A non-zero exit code is an error.
func (c *ExecConsole) Run(ctx context.Context, containerID string, args ...string) (string, error) {
	cmd := append([]string{"rcon-cli"}, args...)
	return c.run(ctx, containerID, cmd)
}

// ReadFile returns the contents of a file inside the container.
func (c *ExecConsole) ReadFile(ctx context.Context, containerID, path string) ([]byte, error) {
	out, err := c.run(ctx, containerID, []string{"cat", path})
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func (c *ExecConsole) run(ctx context.Context, containerID string, cmd []string) (string, error) {
	res, err := c.exec.Exec(ctx, containerID, cmd)
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd[0], err)
	}
	if res.ExitCode != 0 {
		return "", &CommandError{Command: strings.Join(cmd, " "), ExitCode: res.ExitCode, Stderr: strings.TrimSpace(res.Stderr)}
	}
	return res.Stdout, nil
}

// CommandError reports a console command that ran but exited unsuccessfully.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%q exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%q exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
}

package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/gorcon/rcon"
	"github.com/rs/zerolog/log"
)

// RCONContainerPort is the RCON port inside the server container.
const RCONContainerPort = "25575/tcp"

const (
	dialAttempts   = 3
	dialRetryDelay = 2 * time.Second
)

// Inspector looks up a container's published ports.
type Inspector interface {
	InspectContainer(ctx context.Context, containerID string) (container.InspectResponse, error)
}

// RCONConsole talks to the server over its published RCON port. File reads go through exec.
type RCONConsole struct {
	*ExecConsole
	inspect    Inspector
	password   string
	host       string
	attempts   int
	retryDelay time.Duration
	dial       func(addr, password string) (*rcon.Conn, error)
}

func dialRCON(addr, password string) (*rcon.Conn, error) {
	return rcon.Dial(addr, password, rcon.SetDeadline(10*time.Second))
}

// NewRCONConsole returns a console that dials RCON on host at the port Docker published for the
// container.
func NewRCONConsole(exec Executor, inspect Inspector, host, password string) *RCONConsole {
	if host == "" {
		host = "127.0.0.1"
	}
	return &RCONConsole{
		ExecConsole: NewExecConsole(exec),
		inspect:     inspect,
		password:    password,
		host:        host,
		attempts:    dialAttempts,
		retryDelay:  dialRetryDelay,
		dial:        dialRCON,
	}
}

// Run sends args as a single RCON command.
func (c *RCONConsole) Run(ctx context.Context, containerID string, args ...string) (string, error) {
	addr, err := c.address(ctx, containerID)
	if err != nil {
		return "", err
	}

	var conn *rcon.Conn
	// RCON may not accept connections yet right after the server reports healthy.
	for attempt := 1; ; attempt++ {
		conn, err = c.dial(addr, c.password)
		if err == nil {
			break
		}
		if attempt >= c.attempts {
			return "", fmt.Errorf("could not connect via rcon after %d attempts: %w", attempt, err)
		}
		log.Warn().Err(err).Str("container_id", containerID).Int("attempt", attempt).Msg("RCON connection attempt failed, retrying...")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	defer conn.Close()

	command := strings.Join(args, " ")
	response, err := conn.Execute(command)
	if err != nil {
		return "", fmt.Errorf("rcon command %q failed: %w", command, err)
	}
	log.Debug().Str("container_id", containerID).Str("command", command).Str("response", response).Msg("RCON command executed")
	return response, nil
}

func (c *RCONConsole) address(ctx context.Context, containerID string) (string, error) {
	info, err := c.inspect.InspectContainer(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("could not inspect container: %w", err)
	}
	if info.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings", containerID)
	}
	bindings, ok := info.NetworkSettings.Ports[RCONContainerPort]
	if !ok || len(bindings) == 0 {
		return "", fmt.Errorf("rcon port not bound for container %s", containerID)
	}
	return c.host + ":" + bindings[0].HostPort, nil
}

package services

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/nomanoma121/minecraft-discord-bot/internal/docker"
	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
)

type fakeState int

const (
	stateCreated fakeState = iota
	stateRunning
	stateExited
)

type fakeHealth int

const (
	healthHealthy fakeHealth = iota
	healthUnhealthy
	healthStarting
	healthNone
)

type fakeContainer struct {
	id        string
	name      string
	config    container.Config
	host      container.HostConfig
	state     fakeState
	startedAt time.Time
}

// fakeRuntime is an in-memory Docker Engine. Volumes hold files keyed by their path below /data.
type fakeRuntime struct {
	mu         sync.Mutex
	seq        int
	containers map[string]*fakeContainer
	volumes    map[string]map[string]string
	images     map[string]bool

	health      fakeHealth
	createErr   error
	failCreates int // fail only the next n creates with createErr
	exportErr   error
	streamErr   error
	pulls       int
	imports     int
	createCalls int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers: make(map[string]*fakeContainer),
		volumes:    make(map[string]map[string]string),
		images:     make(map[string]bool),
	}
}

func (f *fakeRuntime) EnsureImage(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.images[ref] {
		f.pulls++
		f.images[ref] = true
	}
	return nil
}

func (f *fakeRuntime) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.volumes[name]; !ok {
		f.volumes[name] = make(map[string]string)
	}
	return nil
}

func (f *fakeRuntime) RemoveVolume(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.volumes, name)
	return nil
}

func (f *fakeRuntime) CreateContainer(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if err := f.createErr; err != nil {
		if f.failCreates > 0 {
			f.failCreates--
			if f.failCreates == 0 {
				f.createErr = nil
			}
		}
		return "", err
	}
	for _, c := range f.containers {
		if c.name == name {
			return "", fmt.Errorf("container name %q is already in use", name)
		}
	}
	f.seq++
	id := fmt.Sprintf("ctr-%03d", f.seq)
	f.containers[id] = &fakeContainer{id: id, name: name, config: *config, host: *hostConfig}
	return id, nil
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return fmt.Errorf("no such container: %s", id)
	}
	delete(f.containers, id)
	return nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("no such container: %s", id)
	}
	c.state = stateRunning
	c.startedAt = time.Now().UTC()
	return nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("no such container: %s", id)
	}
	c.state = stateExited
	return nil
}

func (f *fakeRuntime) InspectContainer(ctx context.Context, id string) (container.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return container.InspectResponse{}, fmt.Errorf("no such container: %s", id)
	}

	state := &container.State{}
	switch c.state {
	case stateRunning:
		state.Status = "running"
		state.Running = true
		state.StartedAt = c.startedAt.Format(time.RFC3339Nano)
		switch f.health {
		case healthHealthy:
			state.Health = &container.Health{Status: "healthy"}
		case healthUnhealthy:
			state.Health = &container.Health{Status: "unhealthy"}
		case healthStarting:
			state.Health = &container.Health{Status: "starting"}
		}
	case stateExited:
		state.Status = "exited"
	default:
		state.Status = "created"
	}

	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{ID: c.id, Name: "/" + c.name, State: state},
		Config:            &c.config,
	}, nil
}

func (f *fakeRuntime) ListContainers(ctx context.Context, args filters.Args) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	wantLabels := args.Get("label")
	wantRunning := len(args.Get("status")) > 0 && args.ExactMatch("status", "running")

	var out []container.Summary
	for _, c := range f.containers {
		if wantRunning && c.state != stateRunning {
			continue
		}
		if !matchLabels(c.config.Labels, wantLabels) {
			continue
		}
		s := container.Summary{ID: c.id, Names: []string{"/" + c.name}, Labels: c.config.Labels}
		switch c.state {
		case stateRunning:
			s.State = "running"
		case stateExited:
			s.State = "exited"
		default:
			s.State = "created"
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func matchLabels(have map[string]string, want []string) bool {
	for _, kv := range want {
		k, v, _ := strings.Cut(kv, "=")
		if have[k] != v {
			return false
		}
	}
	return true
}

func (f *fakeRuntime) Exec(ctx context.Context, id string, cmd []string) (docker.ExecResult, error) {
	return docker.ExecResult{}, errors.New("exec not supported by fake runtime")
}

// volumeOf returns the files of the volume bound at /data.
func (f *fakeRuntime) volumeOf(id string) (map[string]string, error) {
	c, ok := f.containers[id]
	if !ok {
		return nil, fmt.Errorf("no such container: %s", id)
	}
	for _, b := range c.host.Binds {
		if name, ok := strings.CutSuffix(b, ":"+DataPath); ok {
			vol, ok := f.volumes[name]
			if !ok {
				return nil, fmt.Errorf("no such volume: %s", name)
			}
			return vol, nil
		}
	}
	return nil, fmt.Errorf("container %s has no data volume", id)
}

func (f *fakeRuntime) ExportPath(ctx context.Context, id, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	vol, err := f.volumeOf(id)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	names := make([]string, 0, len(vol))
	for name := range vol {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		body := vol[name]
		hdr := &tar.Header{Name: "data/" + name, Mode: 0o644, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	if f.streamErr != nil {
		half := buf.Len() / 2
		return io.NopCloser(io.MultiReader(bytes.NewReader(buf.Bytes()[:half]), &failingReader{err: f.streamErr})), nil
	}
	return io.NopCloser(&buf), nil
}

type failingReader struct{ err error }

func (r *failingReader) Read([]byte) (int, error) { return 0, r.err }

func (f *fakeRuntime) ImportArchive(ctx context.Context, id, dstPath string, r io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imports++
	vol, err := f.volumeOf(id)
	if err != nil {
		return err
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		name, ok := strings.CutPrefix(strings.TrimPrefix(hdr.Name, "/"), "data/")
		if !ok {
			continue
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		vol[name] = string(body)
	}
}

func (f *fakeRuntime) GetContainerStats(ctx context.Context, id string) (*container.StatsResponse, error) {
	return &container.StatsResponse{}, nil
}

// writeFile sets a file in the data volume of the server with the given id.
func (f *fakeRuntime) writeFile(serverID, name, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[serverID][name] = body
}

func (f *fakeRuntime) snapshot(serverID string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.volumes[serverID]))
	for k, v := range f.volumes[serverID] {
		out[k] = v
	}
	return out
}

// fakeConsole records console commands and can be told to fail specific ones.
type fakeConsole struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	files map[string]string
}

func newFakeConsole() *fakeConsole {
	return &fakeConsole{fail: make(map[string]error), files: make(map[string]string)}
}

func (c *fakeConsole) Run(ctx context.Context, containerID string, args ...string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := strings.Join(args, " ")
	c.calls = append(c.calls, cmd)
	if err := c.fail[cmd]; err != nil {
		return "", err
	}
	return "", nil
}

func (c *fakeConsole) ReadFile(ctx context.Context, containerID, path string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.files[path]
	if !ok {
		return nil, fmt.Errorf("cat: %s: No such file or directory", path)
	}
	return []byte(body), nil
}

func (c *fakeConsole) commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// recordingEvents collects events in memory.
type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEvents) CreateEvent(eventType, level, message string, serverID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return nil
}

func (r *recordingEvents) GetRecentEvents(limit int) ([]models.Event, error) { return nil, nil }

func (r *recordingEvents) GetEventsForServer(serverID string, limit int) ([]models.Event, error) {
	return nil, nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

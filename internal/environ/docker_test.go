package environ

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

// fakeRunner records every docker invocation and serves scripted responses.
type fakeRunner struct {
	calls     []string
	responses map[string]fakeResponse
}

type fakeResponse struct {
	out string
	err error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: map[string]fakeResponse{}}
}

func (f *fakeRunner) respond(prefix, out string, err error) {
	f.responses[prefix] = fakeResponse{out: out, err: err}
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	for prefix, resp := range f.responses {
		if strings.HasPrefix(call, prefix) {
			return resp.out, resp.err
		}
	}
	return "", nil
}

func (f *fakeRunner) Start(_ context.Context, _ io.Writer, name string, args ...string) (func(), <-chan struct{}, error) {
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	for prefix, resp := range f.responses {
		if strings.HasPrefix(call, prefix) && resp.err != nil {
			return nil, nil, resp.err
		}
	}
	done := make(chan struct{})
	return func() { close(done) }, done, nil
}

func (f *fakeRunner) callContaining(substr string) string {
	for _, call := range f.calls {
		if strings.Contains(call, substr) {
			return call
		}
	}
	return ""
}

func newTestProvider(runner *fakeRunner) *DockerProvider {
	return &DockerProvider{runner: runner, stopInterval: time.Millisecond}
}

func TestCreateEphemeralArgs(t *testing.T) {
	runner := newFakeRunner()
	p := newTestProvider(runner)

	spec := Spec{
		Image:   "vllm/vllm-openai:latest",
		Command: "python3 -m vllm.entrypoints.openai.api_server --model /models/llama",
		Env:     map[string]string{"HF_TOKEN": "secret"},
		Mounts:  []string{"/models:/models"},
		Devices: []string{"/dev/kfd"},
		ShmSize: "16g",
		Port:    8000,
	}

	h, err := p.CreateEphemeral(context.Background(), spec, "soakfire-1-abc")
	if err != nil {
		t.Fatalf("CreateEphemeral() error = %v", err)
	}
	if h.Name != "soakfire-1-abc" || h.Persistent {
		t.Errorf("Handle = %+v, want ephemeral soakfire-1-abc", h)
	}

	call := runner.calls[0]
	for _, want := range []string{
		"docker run -d --name soakfire-1-abc",
		"--shm-size 16g",
		"-p 8000:8000",
		"--device /dev/kfd",
		"-v /models:/models",
		"-e HF_TOKEN=secret",
		"/bin/sh -c python3 -m vllm.entrypoints.openai.api_server",
	} {
		if !strings.Contains(call, want) {
			t.Errorf("docker run missing %q in %q", want, call)
		}
	}
}

func TestCreateEphemeralFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.respond("docker run", "Unable to find image", errors.New("exit status 125"))
	p := newTestProvider(runner)

	_, err := p.CreateEphemeral(context.Background(), Spec{Image: "missing:tag"}, "x")
	if err == nil {
		t.Fatal("CreateEphemeral() error = nil, want docker failure")
	}
	if !strings.Contains(err.Error(), "Unable to find image") {
		t.Errorf("error should carry docker output, got %v", err)
	}
}

func TestCreatePersistentKeepsEnvironmentAlive(t *testing.T) {
	runner := newFakeRunner()
	p := newTestProvider(runner)

	h, err := p.CreatePersistent(context.Background(), Spec{Image: "img"}, "soakfire-run1")
	if err != nil {
		t.Fatalf("CreatePersistent() error = %v", err)
	}
	if !h.Persistent {
		t.Error("Handle.Persistent = false, want true")
	}
	if call := runner.callContaining("sleep infinity"); call == "" {
		t.Errorf("expected keep-alive command, calls = %v", runner.calls)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	runner := newFakeRunner()
	runner.respond("docker rm", "No such container", errors.New("exit status 1"))
	p := newTestProvider(runner)

	h := &Handle{Name: "gone"}
	p.Destroy(context.Background(), h)
	p.Destroy(context.Background(), h) // second removal must not blow up
	p.Destroy(context.Background(), nil)

	count := 0
	for _, call := range runner.calls {
		if strings.HasPrefix(call, "docker rm -f gone") {
			count++
		}
	}
	if count != 2 {
		t.Errorf("docker rm invoked %d times, want 2", count)
	}
}

func TestIsAlive(t *testing.T) {
	runner := newFakeRunner()
	runner.respond("docker inspect", "true\n", nil)
	p := newTestProvider(runner)

	if !p.IsAlive(context.Background(), &Handle{Name: "up"}) {
		t.Error("IsAlive() = false, want true")
	}

	runner.respond("docker inspect", "", errors.New("No such object"))
	if p.IsAlive(context.Background(), &Handle{Name: "up"}) {
		t.Error("IsAlive() = true for missing container")
	}
	if p.IsAlive(context.Background(), nil) {
		t.Error("IsAlive(nil) = true")
	}
}

func TestStartWorkloadRedirectsToSink(t *testing.T) {
	runner := newFakeRunner()
	p := newTestProvider(runner)

	h := &Handle{Name: "env", Persistent: true}
	if err := p.StartWorkload(context.Background(), h, "python3 -m sglang.launch_server"); err != nil {
		t.Fatalf("StartWorkload() error = %v", err)
	}

	call := runner.calls[0]
	if !strings.Contains(call, "exec -d env") {
		t.Errorf("workload must start detached, got %q", call)
	}
	if !strings.Contains(call, fmt.Sprintf("> %s 2>&1", workloadSink)) {
		t.Errorf("workload output must redirect to sink, got %q", call)
	}
}

func TestStopWorkloadAlreadyStopped(t *testing.T) {
	runner := newFakeRunner()
	runner.respond("docker exec env pgrep", "", errors.New("exit status 1"))
	p := newTestProvider(runner)

	if err := p.StopWorkload(context.Background(), &Handle{Name: "env"}, "vllm"); err != nil {
		t.Fatalf("StopWorkload() error = %v", err)
	}
	if call := runner.callContaining("pkill"); call != "" {
		t.Errorf("no signal should be sent when nothing matches, got %q", call)
	}
}

func TestStopWorkloadEscalatesToKill(t *testing.T) {
	runner := newFakeRunner()
	// pgrep keeps finding the process: graceful stop never succeeds.
	runner.respond("docker exec env pgrep", "1234\n", nil)
	p := newTestProvider(runner)

	err := p.StopWorkload(context.Background(), &Handle{Name: "env"}, "vllm")
	if err == nil {
		t.Fatal("StopWorkload() error = nil, want still-running warning")
	}

	if call := runner.callContaining("pkill -TERM -f vllm"); call == "" {
		t.Errorf("expected SIGTERM first, calls = %v", runner.calls)
	}
	if call := runner.callContaining("pkill -KILL -f vllm"); call == "" {
		t.Errorf("expected SIGKILL escalation, calls = %v", runner.calls)
	}
}

func TestStopWorkloadFallbackPattern(t *testing.T) {
	runner := newFakeRunner()
	runner.respond("docker exec env pgrep", "1\n", nil)
	runner.respond("docker exec env pkill -TERM", "", nil)
	p := newTestProvider(runner)

	_ = p.StopWorkload(context.Background(), &Handle{Name: "env"}, "  ")
	if call := runner.callContaining(fallbackPattern); call == "" {
		t.Errorf("empty pattern must fall back to %q, calls = %v", fallbackPattern, runner.calls)
	}
}

func TestStreamLogsSelectsSource(t *testing.T) {
	runner := newFakeRunner()
	p := newTestProvider(runner)

	stop, err := p.StreamLogs(context.Background(), &Handle{Name: "eph"}, io.Discard)
	if err != nil {
		t.Fatalf("StreamLogs(ephemeral) error = %v", err)
	}
	stop()
	if call := runner.callContaining("docker logs -f eph"); call == "" {
		t.Errorf("ephemeral logs must use docker logs, calls = %v", runner.calls)
	}

	stop, err = p.StreamLogs(context.Background(), &Handle{Name: "per", Persistent: true}, io.Discard)
	if err != nil {
		t.Fatalf("StreamLogs(persistent) error = %v", err)
	}
	stop()
	if call := runner.callContaining("tail -n +1 -f " + workloadSink); call == "" {
		t.Errorf("persistent logs must tail the workload sink, calls = %v", runner.calls)
	}
}

package pluginhost

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/masegraye/plugin-host-go/exitcode"
	"github.com/masegraye/plugin-host-go/ipc"
	"github.com/masegraye/plugin-host-go/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

const (
	helperEnv    = "PLUGINHOST_TEST_HELPER"
	helperDirEnv = "PLUGINHOST_TEST_HELPER_DIR"
)

// helperPlugin runs inside the re-executed test binary. Its encoded args
// carry a suffix appended to every echo reply.
type helperPlugin struct {
	Base
}

func (helperPlugin) Name() string { return "helper" }

func (helperPlugin) GetSubProcessBootConfiguration(args string) BootConfiguration {
	tokens := DecodeToArrayArgs(args)
	if len(tokens) == 0 {
		return BootConfiguration{}
	}
	suffix := strings.Join(tokens, " ")

	return BootConfiguration{
		ConfigureServices: func(c *services.Collection) {
			c.Provide(ipc.AsHandler(func() ipc.Handler {
				return ipc.NewHandler("echo", func(_ context.Context, payload json.RawMessage) (any, error) {
					var s string
					if err := json.Unmarshal(payload, &s); err != nil {
						return nil, err
					}
					return s + suffix, nil
				})
			}))
		},
		ConfigureChannelProvider: func(p *ipc.ChannelProvider) {
			p.Dir = os.Getenv(helperDirEnv)
		},
	}
}

// TestHelperSubProcess is not a real test. It is the sub-process entry point
// when the test binary is re-executed by a launcher.
func TestHelperSubProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process only")
	}

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}

	inv, err := ParseInvocation(args)
	if err != nil {
		os.Exit(exitcode.Usage.Int())
	}
	code := RunSubProcessMain(context.Background(), helperPlugin{}, ipc.NewRunner(zap.NewNop()), inv)
	os.Exit(code.Int())
}

func newHelperLauncher(t *testing.T, reg prometheus.Registerer) *SubProcessLauncher {
	t.Helper()
	dir := t.TempDir()

	provider := ipc.NewChannelProvider()
	provider.Dir = dir

	l, err := NewSubProcessLauncher(LauncherConfig{
		Executable:      os.Args[0],
		CommandPrefix:   []string{"-test.run=^TestHelperSubProcess$", "--"},
		Provider:        provider,
		AttachTimeout:   10 * time.Second,
		StopGracePeriod: 2 * time.Second,
		Env:             []string{helperEnv + "=1", helperDirEnv + "=" + dir},
		Stdout:          io.Discard,
		Stderr:          io.Discard,
		Registerer:      reg,
	})
	if err != nil {
		t.Fatalf("NewSubProcessLauncher failed: %v", err)
	}
	return l
}

func TestSubProcessLauncher_EchoAndStop(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	reg := prometheus.NewRegistry()
	l := newHelperLauncher(t, reg)

	ctx := context.Background()
	sp, err := l.Launch(ctx, SubProcessSpec{Module: "helper", Args: []string{"from", "child"}})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if sp.Peer.ModuleName != "helper" {
		t.Errorf("peer module = %q, want %q", sp.Peer.ModuleName, "helper")
	}
	if sp.Peer.ProcessID != sp.Pid() {
		t.Errorf("peer pid = %d, want %d", sp.Peer.ProcessID, sp.Pid())
	}
	if len(l.Running()) != 1 {
		t.Errorf("Running() = %d, want 1", len(l.Running()))
	}

	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	raw, err := sp.Call(callCtx, "echo", "hi ")
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	var got string
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if got != "hi from child" {
		t.Errorf("reply = %q, want %q", got, "hi from child")
	}

	code, err := sp.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if code != exitcode.OK {
		t.Errorf("exit code = %v, want %v", code, exitcode.OK)
	}
	if len(l.Running()) != 0 {
		t.Errorf("Running() = %d after stop, want 0", len(l.Running()))
	}

	if v := testutil.ToFloat64(l.metrics.Spawned.WithLabelValues("helper")); v != 1 {
		t.Errorf("spawned = %v, want 1", v)
	}
	if v := testutil.ToFloat64(l.metrics.Attached.WithLabelValues("helper")); v != 1 {
		t.Errorf("attached = %v, want 1", v)
	}
	if v := testutil.ToFloat64(l.metrics.Exited.WithLabelValues("helper", "0")); v != 1 {
		t.Errorf("exited{code=0} = %v, want 1", v)
	}
}

func TestSubProcessLauncher_BootConfigurationFail(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	l := newHelperLauncher(t, nil)

	sp, err := l.Launch(context.Background(), SubProcessSpec{Module: "helper"})
	if sp != nil {
		t.Errorf("Launch() returned %v, want nil on failure", sp)
	}
	if !errors.Is(err, ErrSubProcessExited) {
		t.Fatalf("Launch() error = %v, want ErrSubProcessExited", err)
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Launch() error = %T, want *ExitError", err)
	}
	if exitErr.Code != exitcode.GetSubProcessBootConfigurationFail {
		t.Errorf("exit code = %v, want %v", exitErr.Code, exitcode.GetSubProcessBootConfigurationFail)
	}
	if exitErr.Module != "helper" {
		t.Errorf("Module = %q, want %q", exitErr.Module, "helper")
	}
	if n := len(l.Running()); n != 0 {
		t.Errorf("Running() = %d, want 0", n)
	}
}

func TestSubProcessLauncher_TrackSkipsExited(t *testing.T) {
	l, err := NewSubProcessLauncher(LauncherConfig{Executable: "unused"})
	if err != nil {
		t.Fatalf("NewSubProcessLauncher failed: %v", err)
	}

	gone := &SubProcess{Module: "a", Channel: "a-1", done: make(chan struct{}), launcher: l}
	l.exited(gone)
	if l.track(gone) {
		t.Error("track() = true for an exited process")
	}
	if n := len(l.Running()); n != 0 {
		t.Fatalf("Running() = %d after tracking an exited process, want 0", n)
	}

	live := &SubProcess{Module: "b", Channel: "b-1", done: make(chan struct{}), launcher: l}
	if !l.track(live) {
		t.Fatal("track() = false for a live process")
	}
	if n := len(l.Running()); n != 1 {
		t.Fatalf("Running() = %d, want 1", n)
	}
	l.exited(live)
	if n := len(l.Running()); n != 0 {
		t.Errorf("Running() = %d after exit, want 0", n)
	}
	select {
	case <-live.Done():
	default:
		t.Error("Done() not closed after exit")
	}
}

func TestSubProcessLauncher_StopAll(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	l := newHelperLauncher(t, nil)

	ctx := context.Background()
	for range 2 {
		if _, err := l.Launch(ctx, SubProcessSpec{Module: "helper", Args: []string{"x"}}); err != nil {
			t.Fatalf("Launch failed: %v", err)
		}
	}
	if len(l.Running()) != 2 {
		t.Fatalf("Running() = %d, want 2", len(l.Running()))
	}

	if err := l.StopAll(ctx); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	if len(l.Running()) != 0 {
		t.Errorf("Running() = %d after StopAll, want 0", len(l.Running()))
	}
}

func TestSubProcessLauncher_MissingExecutable(t *testing.T) {
	l, err := NewSubProcessLauncher(LauncherConfig{Executable: "/nonexistent/pluginhost-test-binary"})
	if err != nil {
		t.Fatalf("NewSubProcessLauncher failed: %v", err)
	}
	l.cfg.Provider.Dir = t.TempDir()

	if _, err := l.Launch(context.Background(), SubProcessSpec{Module: "x"}); err == nil {
		t.Fatal("expected Launch to fail for a missing executable")
	}
	if _, err := l.Launch(context.Background(), SubProcessSpec{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Launch() without module error = %v, want ErrInvalidConfig", err)
	}
}

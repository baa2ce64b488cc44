package pluginhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/masegraye/plugin-host-go/exitcode"
	"github.com/masegraye/plugin-host-go/internal/metrics"
	"github.com/masegraye/plugin-host-go/ipc"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// LauncherConfig configures a SubProcessLauncher.
type LauncherConfig struct {
	// Executable is the binary started for every sub-process.
	// Default: os.Executable()
	Executable string

	// CommandPrefix is placed between the executable and the four
	// invocation tokens.
	// Default: []string{"subprocess"}
	CommandPrefix []string

	// Provider opens the host side of each channel.
	// Default: ipc.NewChannelProvider()
	Provider *ipc.ChannelProvider

	// AttachTimeout bounds how long a sub-process may take to attach.
	// Default: 10 seconds
	AttachTimeout time.Duration

	// StopGracePeriod is how long Stop waits after asking a sub-process to
	// shut down before interrupting and then killing it.
	// Default: 5 seconds
	StopGracePeriod time.Duration

	// Env is appended to the host environment for every sub-process.
	Env []string

	// Stdout and Stderr receive sub-process output.
	// Default: os.Stdout and os.Stderr
	Stdout io.Writer
	Stderr io.Writer

	// Logger receives launcher events.
	// Default: zap.NewNop()
	Logger *zap.Logger

	// Registerer receives the launcher metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// SubProcessSpec describes one sub-process to launch.
type SubProcessSpec struct {
	// Module is the plugin name the sub-process will host.
	Module string

	// Args are encoded with EncodeArgs and decoded by the plugin's
	// GetSubProcessBootConfiguration.
	Args []string

	// Env is appended to LauncherConfig.Env for this sub-process.
	Env []string
}

// SubProcessLauncher starts plugins in their own processes and connects them
// to the host through a channel.
type SubProcessLauncher struct {
	cfg     LauncherConfig
	logger  *zap.Logger
	metrics *metrics.SubProcess

	mu        sync.Mutex
	processes map[string]*SubProcess
}

// NewSubProcessLauncher creates a launcher.
func NewSubProcessLauncher(cfg LauncherConfig) (*SubProcessLauncher, error) {
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("%w: resolve executable: %v", ErrInvalidConfig, err)
		}
		cfg.Executable = exe
	}
	if cfg.CommandPrefix == nil {
		cfg.CommandPrefix = []string{"subprocess"}
	}
	if cfg.Provider == nil {
		cfg.Provider = ipc.NewChannelProvider()
	}
	if cfg.AttachTimeout == 0 {
		cfg.AttachTimeout = 10 * time.Second
	}
	if cfg.StopGracePeriod == 0 {
		cfg.StopGracePeriod = 5 * time.Second
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &SubProcessLauncher{
		cfg:       cfg,
		logger:    cfg.Logger,
		metrics:   metrics.NewSubProcess(cfg.Registerer),
		processes: make(map[string]*SubProcess),
	}, nil
}

// Launch starts a sub-process and waits until it attaches to its channel.
//
// The command line is
//
//	<Executable> <CommandPrefix...> <module> <channel> <host pid> <EncodeArgs(spec.Args...)>
func (l *SubProcessLauncher) Launch(ctx context.Context, spec SubProcessSpec) (*SubProcess, error) {
	if spec.Module == "" {
		return nil, fmt.Errorf("%w: Module required", ErrInvalidConfig)
	}

	// 1. Open the channel before the child can dial it
	channel := ipc.NewChannelName(spec.Module)
	server := ipc.NewServer(channel, l.cfg.Provider)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("open channel for %s: %w", spec.Module, err)
	}

	inv := Invocation{
		ModuleName:  spec.Module,
		ChannelName: channel,
		ProcessID:   strconv.Itoa(os.Getpid()),
		EncodedArgs: EncodeArgs(spec.Args...),
	}

	// 2. Start the child process
	args := append(append([]string(nil), l.cfg.CommandPrefix...), inv.Args()...)
	cmd := exec.Command(l.cfg.Executable, args...)
	cmd.Env = append(append(os.Environ(), l.cfg.Env...), spec.Env...)
	cmd.Stdout = l.cfg.Stdout
	cmd.Stderr = l.cfg.Stderr

	if err := cmd.Start(); err != nil {
		server.Close()
		return nil, fmt.Errorf("failed to start sub-process %s: %w", spec.Module, err)
	}
	l.metrics.Spawned.WithLabelValues(spec.Module).Inc()

	sp := &SubProcess{
		Module:   spec.Module,
		Channel:  channel,
		server:   server,
		cmd:      cmd,
		done:     make(chan struct{}),
		launcher: l,
	}
	go sp.wait()

	logger := l.logger.With(zap.String("module", spec.Module), zap.String("channel", channel), zap.Int("pid", cmd.Process.Pid))

	// 3. Wait for the handshake, giving up early if the child exits
	attachCtx, cancel := context.WithTimeout(ctx, l.cfg.AttachTimeout)
	defer cancel()
	go func() {
		select {
		case <-sp.done:
			cancel()
		case <-attachCtx.Done():
		}
	}()

	peer, err := server.WaitAttached(attachCtx)
	if err != nil {
		select {
		case <-sp.done:
			logger.Warn("sub-process exited before attaching", zap.Stringer("code", sp.code))
			server.Close()
			return nil, &ExitError{Module: spec.Module, Code: sp.code}
		default:
		}
		logger.Warn("sub-process did not attach", zap.Error(err))
		sp.kill()
		server.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrAttachTimeout, spec.Module, err)
	}

	sp.Peer = peer
	l.metrics.Attached.WithLabelValues(spec.Module).Inc()
	logger.Info("sub-process attached", zap.String("peer", peer.ID))

	if !l.track(sp) {
		logger.Info("sub-process exited right after attaching")
	}
	return sp, nil
}

// ExitError is returned by Launch when the sub-process exits before it
// attaches. It matches ErrSubProcessExited.
type ExitError struct {
	Module string
	Code   exitcode.Code
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%v before attaching: %s (exit code %d)", ErrSubProcessExited, e.Module, e.Code.Int())
}

func (e *ExitError) Unwrap() error {
	return ErrSubProcessExited
}

// Running returns the attached sub-processes that have not exited.
func (l *SubProcessLauncher) Running() []*SubProcess {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*SubProcess, 0, len(l.processes))
	for _, sp := range l.processes {
		out = append(out, sp)
	}
	return out
}

// StopAll stops every running sub-process.
func (l *SubProcessLauncher) StopAll(ctx context.Context) error {
	var errs []error
	for _, sp := range l.Running() {
		if _, err := sp.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", sp.Module, err))
		}
	}
	return errors.Join(errs...)
}

// track adds sp to the running set unless it has already exited. done is
// closed under l.mu, so an exit racing the insert is always observed.
func (l *SubProcessLauncher) track(sp *SubProcess) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-sp.done:
		return false
	default:
		l.processes[sp.Channel] = sp
		return true
	}
}

// exited removes sp from the running set and closes its done channel in
// one step.
func (l *SubProcessLauncher) exited(sp *SubProcess) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.processes[sp.Channel] == sp {
		delete(l.processes, sp.Channel)
	}
	close(sp.done)
}

// SubProcess is a launched plugin process.
type SubProcess struct {
	Module  string
	Channel string
	Peer    ipc.PeerInfo

	server   *ipc.Server
	cmd      *exec.Cmd
	launcher *SubProcessLauncher

	done    chan struct{}
	code    exitcode.Code
	waitErr error
}

// Pid returns the OS process id.
func (sp *SubProcess) Pid() int {
	return sp.cmd.Process.Pid
}

// Call sends a request to a handler in the sub-process and waits for the reply.
func (sp *SubProcess) Call(ctx context.Context, kind string, payload any) (json.RawMessage, error) {
	return sp.server.Call(ctx, sp.Peer.ID, kind, payload)
}

// Done is closed when the process has exited.
func (sp *SubProcess) Done() <-chan struct{} {
	return sp.done
}

// Wait blocks until the process exits and returns its exit code.
// The error is non-nil only if the exit status could not be read.
func (sp *SubProcess) Wait() (exitcode.Code, error) {
	<-sp.done
	return sp.code, sp.waitErr
}

// Stop asks the sub-process to shut down, then escalates to an interrupt
// and finally a kill if it has not exited within the grace period.
func (sp *SubProcess) Stop(ctx context.Context) (exitcode.Code, error) {
	grace := sp.launcher.cfg.StopGracePeriod

	if sp.Peer.ID != "" {
		shutdownCtx, cancel := context.WithTimeout(ctx, grace)
		err := sp.server.Shutdown(shutdownCtx, sp.Peer.ID)
		cancel()
		if err != nil && !errors.Is(err, ipc.ErrPeerGone) && !errors.Is(err, ipc.ErrPeerNotFound) {
			sp.launcher.logger.Warn("shutdown request", zap.String("module", sp.Module), zap.Error(err))
		}
	}

	if !sp.waitFor(ctx, grace) {
		if sp.cmd.Process != nil {
			sp.cmd.Process.Signal(os.Interrupt)
		}
		if !sp.waitFor(ctx, grace) {
			sp.kill()
		}
	}

	sp.server.Close()
	return sp.Wait()
}

func (sp *SubProcess) waitFor(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-sp.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (sp *SubProcess) kill() {
	if sp.cmd.Process != nil {
		sp.cmd.Process.Kill()
	}
}

func (sp *SubProcess) wait() {
	err := sp.cmd.Wait()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		sp.code = exitcode.OK
	case errors.As(err, &exitErr):
		sp.code = exitcode.Code(exitErr.ExitCode())
		if sp.code < 0 {
			// Terminated by a signal.
			sp.code = exitcode.Interrupted
		}
	default:
		sp.code = exitcode.Failure
		sp.waitErr = err
	}

	sp.launcher.metrics.ObserveExit(sp.Module, sp.code.Int())
	sp.launcher.logger.Info("sub-process exited", zap.String("module", sp.Module), zap.Stringer("code", sp.code))
	sp.launcher.exited(sp)
}

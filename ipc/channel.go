package ipc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/cenkalti/backoff/v4"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// ChannelProvider configures how channels are opened on both sides.
// Sub-processes receive a provider with defaults applied and may mutate it
// through BootConfiguration.ConfigureChannelProvider before attaching.
type ChannelProvider struct {
	// Dir is the directory holding channel sockets.
	// Default: os.TempDir()
	Dir string

	// Listen opens the host side of a channel.
	// Default: a unix-domain socket at SocketPath(name).
	Listen func(name string) (net.Listener, error)

	// Dial opens the sub-process side of a channel.
	// Default: dials the unix-domain socket at SocketPath(name).
	Dial func(ctx context.Context, name string) (net.Conn, error)

	// AttachBackOff returns the retry policy for the handshake.
	// The host may still be creating the socket when the sub-process starts.
	// Default: exponential, capped at 10 seconds total.
	AttachBackOff func() backoff.BackOff

	// ParentPollInterval is how often the runner checks that the parent
	// process is alive. Zero or negative disables the check.
	// Default: 1 second
	ParentPollInterval time.Duration

	// ParentAlive reports whether a process exists.
	// Default: gopsutil process.PidExistsWithContext
	ParentAlive func(ctx context.Context, pid int32) (bool, error)

	// HandlerPoolSize bounds concurrently running handlers in the sub-process.
	// Default: 8
	HandlerPoolSize int

	// Interceptors are applied to both the channel server and client.
	Interceptors []connect.Interceptor

	// MagicCookie must match on both sides.
	// Default: DefaultMagicCookie
	MagicCookie string

	// Logger receives channel events.
	// Default: zap.NewNop()
	Logger *zap.Logger
}

// NewChannelProvider returns a provider with defaults applied.
func NewChannelProvider() *ChannelProvider {
	return &ChannelProvider{
		Dir: os.TempDir(),
		AttachBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 25 * time.Millisecond
			b.MaxInterval = time.Second
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
		ParentPollInterval: time.Second,
		ParentAlive:        process.PidExistsWithContext,
		HandlerPoolSize:    8,
		MagicCookie:        DefaultMagicCookie,
		Logger:             zap.NewNop(),
	}
}

// SocketPath returns the socket file used for the named channel.
func (p *ChannelProvider) SocketPath(name string) string {
	dir := p.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "pluginhost-"+sanitizeChannelName(name)+".sock")
}

func (p *ChannelProvider) listen(name string) (net.Listener, error) {
	if p.Listen != nil {
		return p.Listen(name)
	}

	path := p.SocketPath(name)
	// A socket left behind by a crashed host would make Listen fail.
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on channel %q: %w", name, err)
	}
	return ln, nil
}

func (p *ChannelProvider) dial(ctx context.Context, name string) (net.Conn, error) {
	if p.Dial != nil {
		return p.Dial(ctx, name)
	}
	var d net.Dialer
	return d.DialContext(ctx, "unix", p.SocketPath(name))
}

// httpClient returns an HTTP client whose every connection goes to the named channel.
func (p *ChannelProvider) httpClient(name string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return p.dial(ctx, name)
			},
			ForceAttemptHTTP2: false,
		},
	}
}

func (p *ChannelProvider) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p *ChannelProvider) cookie() string {
	if p.MagicCookie == "" {
		return DefaultMagicCookie
	}
	return p.MagicCookie
}

func (p *ChannelProvider) handlerOptions() []connect.HandlerOption {
	opts := []connect.HandlerOption{connect.WithCodec(jsonCodec{})}
	if len(p.Interceptors) > 0 {
		opts = append(opts, connect.WithInterceptors(p.Interceptors...))
	}
	return opts
}

func (p *ChannelProvider) clientOptions() []connect.ClientOption {
	opts := []connect.ClientOption{connect.WithCodec(jsonCodec{})}
	if len(p.Interceptors) > 0 {
		opts = append(opts, connect.WithInterceptors(p.Interceptors...))
	}
	return opts
}

// channelBaseURL is the URL used for channel requests. The host part is
// ignored by the dialer.
const channelBaseURL = "http://channel"

// sanitizeChannelName keeps socket file names portable.
func sanitizeChannelName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}

package ipc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/masegraye/plugin-host-go/exitcode"
	"github.com/masegraye/plugin-host-go/services"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// SubProcessInfo is supplied to the sub-process container so services can
// see which module and channel they run under.
type SubProcessInfo struct {
	ModuleName      string
	ChannelName     string
	ParentProcessID string
}

// Runner is the generic sub-process entry point shared by all plugins.
type Runner struct {
	// Logger is the base logger for the sub-process.
	// Default: zap.NewNop()
	Logger *zap.Logger

	// StartTimeout bounds starting and stopping the sub-process container.
	// Default: 15 seconds
	StartTimeout time.Duration
}

// NewRunner creates a runner that logs to logger.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{Logger: logger}
}

// Run builds the sub-process container, attaches to the channel and runs the
// message loop. args must be exactly [channelName, parentProcessID].
func (r *Runner) Run(
	ctx context.Context,
	moduleName string,
	configureServices func(*services.Collection),
	configureChannelProvider func(*ChannelProvider),
	args []string,
) exitcode.Code {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("module", moduleName))

	if len(args) != 2 {
		logger.Error("expected channel name and process id", zap.Strings("args", args))
		return exitcode.Usage
	}
	channelName, parentID := args[0], args[1]

	provider := NewChannelProvider()
	provider.Logger = logger
	if configureChannelProvider != nil {
		configureChannelProvider(provider)
	}

	collection := services.New()
	if configureServices != nil {
		configureServices(collection)
	}

	var handlers []Handler
	app := fx.New(
		collection.Options(),
		fx.Supply(SubProcessInfo{
			ModuleName:      moduleName,
			ChannelName:     channelName,
			ParentProcessID: parentID,
		}),
		fx.Supply(logger),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Invoke(func(p handlerParams) {
			handlers = p.Handlers
		}),
	)
	if err := app.Err(); err != nil {
		logger.Error("build sub-process services", zap.Error(err))
		return exitcode.ServicesFailed
	}

	timeout := r.StartTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	startCtx, cancelStart := context.WithTimeout(ctx, timeout)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		logger.Error("start sub-process services", zap.Error(err))
		return exitcode.ServicesFailed
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			logger.Warn("stop sub-process services", zap.Error(err))
		}
	}()

	byKind, err := indexHandlers(handlers)
	if err != nil {
		logger.Error("register handlers", zap.Error(err))
		return exitcode.ServicesFailed
	}

	client := NewClient(channelName, provider)
	if _, err := client.Attach(ctx, moduleName, parentID); err != nil {
		if ctx.Err() != nil {
			return exitcode.Interrupted
		}
		logger.Error("attach", zap.Error(err))
		return exitcode.AttachFailed
	}
	logger.Info("attached", zap.String("channel", channelName), zap.String("peer", client.PeerID()))

	return r.loop(ctx, logger, provider, client, byKind, parentID)
}

func indexHandlers(handlers []Handler) (map[string]Handler, error) {
	byKind := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		kind := h.Kind()
		if kind == KindShutdown || kind == KindReady {
			return nil, fmt.Errorf("handler kind %q is reserved", kind)
		}
		if _, dup := byKind[kind]; dup {
			return nil, fmt.Errorf("duplicate handler for kind %q", kind)
		}
		byKind[kind] = h
	}
	return byKind, nil
}

func (r *Runner) loop(
	parent context.Context,
	logger *zap.Logger,
	provider *ChannelProvider,
	client *Client,
	handlers map[string]Handler,
	parentID string,
) exitcode.Code {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// The parent watch runs before Subscribe so an orphan never waits on the channel.
	parentGone := make(chan struct{})
	if pid, err := strconv.ParseInt(parentID, 10, 32); err == nil && provider.ParentPollInterval > 0 && provider.ParentAlive != nil {
		go func() {
			if watchParent(ctx, int32(pid), provider.ParentPollInterval, provider.ParentAlive) {
				close(parentGone)
				cancel()
			}
		}()
	} else if err != nil {
		logger.Debug("parent liveness disabled", zap.String("process_id", parentID))
	}

	// stopped classifies why ctx ended.
	stopped := func() exitcode.Code {
		select {
		case <-parentGone:
			logger.Warn("parent process exited", zap.String("process_id", parentID))
			return exitcode.ParentExited
		default:
		}
		if parent.Err() != nil {
			return exitcode.Interrupted
		}
		return exitcode.Failure
	}

	stream, err := client.Subscribe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return stopped()
		}
		logger.Error("subscribe", zap.Error(err))
		return exitcode.AttachFailed
	}

	size := provider.HandlerPoolSize
	if size <= 0 {
		size = 1
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(p any) {
		logger.Error("handler panicked", zap.Any("panic", p))
	}))
	if err != nil {
		stream.Close()
		logger.Error("create handler pool", zap.Error(err))
		return exitcode.ServicesFailed
	}
	defer pool.Release()

	envelopes := make(chan Envelope)
	streamErr := make(chan error, 1)
	go func() {
		defer stream.Close()
		for stream.Receive() {
			select {
			case envelopes <- *stream.Msg():
			case <-ctx.Done():
				return
			}
		}
		streamErr <- stream.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return stopped()

		case err := <-streamErr:
			if ctx.Err() != nil {
				return stopped()
			}
			logger.Warn("channel closed by host", zap.Error(err))
			return exitcode.ChannelClosed

		case env := <-envelopes:
			switch env.Kind {
			case KindReady:
				continue
			case KindShutdown:
				logger.Info("shutdown requested")
				return exitcode.OK
			}
			if err := pool.Submit(func() { dispatch(ctx, logger, client, handlers, env) }); err != nil {
				logger.Error("dispatch", zap.Uint64("id", env.ID), zap.Error(err))
				_ = client.Reply(ctx, env.ID, nil, err)
			}
		}
	}
}

func dispatch(ctx context.Context, logger *zap.Logger, client *Client, handlers map[string]Handler, env Envelope) {
	var (
		result any
		err    error
	)
	if h, ok := handlers[env.Kind]; ok {
		result, err = h.Handle(ctx, env.Payload)
	} else {
		err = fmt.Errorf("no handler for kind %q", env.Kind)
	}

	if replyErr := client.Reply(ctx, env.ID, result, err); replyErr != nil && !errors.Is(replyErr, context.Canceled) {
		logger.Warn("reply", zap.Uint64("id", env.ID), zap.String("kind", env.Kind), zap.Error(replyErr))
	}
}

// watchParent polls until the process is gone (true) or ctx ends (false).
// Lookup errors are treated as alive.
func watchParent(
	ctx context.Context,
	pid int32,
	interval time.Duration,
	alive func(context.Context, int32) (bool, error),
) bool {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			ok, err := alive(ctx, pid)
			if err == nil && !ok {
				return true
			}
		}
	}
}

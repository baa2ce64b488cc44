package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"connectrpc.com/connect"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
)

var (
	// ErrServerClosed is returned by calls made after Close.
	ErrServerClosed = errors.New("ipc: channel server closed")

	// ErrPeerNotFound is returned when a peer ID is not attached.
	ErrPeerNotFound = errors.New("ipc: peer not attached")

	// ErrPeerGone is returned to pending calls when the peer's stream ends.
	ErrPeerGone = errors.New("ipc: peer disconnected")
)

// RemoteError is a handler error reported by a sub-process.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("ipc: %s handler failed: %s", e.Kind, e.Message)
}

// Server is the host side of one named channel.
type Server struct {
	name     string
	provider *ChannelProvider
	logger   *zap.Logger

	peers    cmap.ConcurrentMap[string, *peer]
	attached chan PeerInfo
	nextID   atomic.Uint64

	mu     sync.Mutex
	ln     net.Listener
	srv    *http.Server
	closed chan struct{}
	once   sync.Once
}

type peer struct {
	info   PeerInfo
	outbox chan Envelope
	done   chan struct{}
	once   sync.Once

	streaming atomic.Bool

	mu      sync.Mutex
	pending map[uint64]pendingCall
}

type pendingCall struct {
	kind string
	ch   chan replyResult
}

type replyResult struct {
	payload json.RawMessage
	err     error
}

// NewServer creates a channel server. Nothing is opened until Start.
func NewServer(name string, provider *ChannelProvider) *Server {
	if provider == nil {
		provider = NewChannelProvider()
	}
	return &Server{
		name:     name,
		provider: provider,
		logger:   provider.logger().With(zap.String("channel", name)),
		peers:    cmap.New[*peer](),
		attached: make(chan PeerInfo, 16),
		closed:   make(chan struct{}),
	}
}

// Name returns the channel name.
func (s *Server) Name() string {
	return s.name
}

// Handler returns the path and handler of the channel service.
func (s *Server) Handler() (string, http.Handler) {
	opts := s.provider.handlerOptions()

	mux := http.NewServeMux()
	mux.Handle(HandshakeProcedure, connect.NewUnaryHandler(HandshakeProcedure, s.handshake, opts...))
	mux.Handle(SubscribeProcedure, connect.NewServerStreamHandler(SubscribeProcedure, s.subscribe, opts...))
	mux.Handle(ReplyProcedure, connect.NewUnaryHandler(ReplyProcedure, s.reply, opts...))
	return ServicePath, mux
}

// Start opens the channel and serves it in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return ErrServerClosed
	default:
	}
	if s.srv != nil {
		return nil
	}

	ln, err := s.provider.listen(s.name)
	if err != nil {
		return err
	}

	path, handler := s.Handler()
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	s.ln = ln
	s.srv = &http.Server{Handler: mux}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("channel server stopped", zap.Error(err))
		}
	}()

	s.logger.Debug("channel open", zap.String("addr", ln.Addr().String()))
	return nil
}

// WaitAttached blocks until a sub-process completes the handshake.
func (s *Server) WaitAttached(ctx context.Context) (PeerInfo, error) {
	select {
	case info := <-s.attached:
		return info, nil
	case <-s.closed:
		return PeerInfo{}, ErrServerClosed
	case <-ctx.Done():
		return PeerInfo{}, ctx.Err()
	}
}

// Peers returns the attached peers.
func (s *Server) Peers() []PeerInfo {
	items := s.peers.Items()
	infos := make([]PeerInfo, 0, len(items))
	for _, p := range items {
		infos = append(infos, p.info)
	}
	return infos
}

// Call sends an envelope to a peer and waits for its reply.
// The payload is JSON-encoded; the raw JSON reply is returned.
func (s *Server) Call(ctx context.Context, peerID, kind string, payload any) (json.RawMessage, error) {
	p, ok := s.peers.Get(peerID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPeerNotFound, peerID)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}

	env := Envelope{ID: s.nextID.Add(1), Kind: kind, Payload: raw}
	ch := make(chan replyResult, 1)

	p.mu.Lock()
	p.pending[env.ID] = pendingCall{kind: kind, ch: ch}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, env.ID)
		p.mu.Unlock()
	}()

	if err := s.enqueue(ctx, p, env); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-p.done:
		return nil, ErrPeerGone
	case <-s.closed:
		return nil, ErrServerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown asks a peer to leave its message loop. It does not wait for the
// sub-process to exit.
func (s *Server) Shutdown(ctx context.Context, peerID string) error {
	p, ok := s.peers.Get(peerID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrPeerNotFound, peerID)
	}
	return s.enqueue(ctx, p, Envelope{ID: s.nextID.Add(1), Kind: KindShutdown})
}

// Close stops serving and disconnects all peers.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)

		for _, id := range s.peers.Keys() {
			if p, ok := s.peers.Pop(id); ok {
				p.disconnect()
			}
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.srv != nil {
			err = s.srv.Close()
		}
	})
	return err
}

func (s *Server) enqueue(ctx context.Context, p *peer, env Envelope) error {
	select {
	case p.outbox <- env:
		return nil
	case <-p.done:
		return ErrPeerGone
	case <-s.closed:
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handshake(
	ctx context.Context,
	req *connect.Request[HandshakeRequest],
) (*connect.Response[HandshakeResponse], error) {
	if req.Msg.MagicCookie != s.provider.cookie() {
		return nil, connect.NewError(
			connect.CodeInvalidArgument,
			fmt.Errorf("invalid magic cookie - this may not be a plugin host channel"),
		)
	}
	if req.Msg.ProtocolVersion != protocolVersion {
		return nil, connect.NewError(
			connect.CodeFailedPrecondition,
			fmt.Errorf("unsupported protocol version: %d (host supports: %d)", req.Msg.ProtocolVersion, protocolVersion),
		)
	}

	info := PeerInfo{
		ID:              newPeerID(req.Msg.ModuleName),
		ModuleName:      req.Msg.ModuleName,
		ParentProcessID: req.Msg.ParentProcessID,
		ProcessID:       req.Msg.ProcessID,
	}
	s.peers.Set(info.ID, &peer{
		info:    info,
		outbox:  make(chan Envelope, 16),
		done:    make(chan struct{}),
		pending: make(map[uint64]pendingCall),
	})

	s.logger.Info("sub-process attached",
		zap.String("peer", info.ID),
		zap.String("module", info.ModuleName),
		zap.Int("pid", info.ProcessID),
	)

	select {
	case s.attached <- info:
	default:
		s.logger.Warn("attach notification dropped", zap.String("peer", info.ID))
	}

	return connect.NewResponse(&HandshakeResponse{
		PeerID:      info.ID,
		ChannelName: s.name,
	}), nil
}

func (s *Server) subscribe(
	ctx context.Context,
	req *connect.Request[SubscribeRequest],
	stream *connect.ServerStream[Envelope],
) error {
	p, ok := s.peers.Get(req.Msg.PeerID)
	if !ok {
		return connect.NewError(connect.CodeNotFound, fmt.Errorf("unknown peer %q", req.Msg.PeerID))
	}

	defer func() {
		s.peers.RemoveCb(p.info.ID, func(_ string, v *peer, exists bool) bool {
			return exists && v == p
		})
		p.disconnect()
		s.logger.Info("sub-process detached", zap.String("peer", p.info.ID))
	}()

	// Response headers are only written with the first message.
	if err := stream.Send(&Envelope{Kind: KindReady}); err != nil {
		return err
	}
	p.streaming.Store(true)

	for {
		select {
		case env := <-p.outbox:
			if err := stream.Send(&env); err != nil {
				return err
			}
		case <-p.done:
			return nil
		case <-s.closed:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Server) reply(
	ctx context.Context,
	req *connect.Request[ReplyRequest],
) (*connect.Response[ReplyResponse], error) {
	p, ok := s.peers.Get(req.Msg.PeerID)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("unknown peer %q", req.Msg.PeerID))
	}

	p.mu.Lock()
	call, ok := p.pending[req.Msg.ID]
	delete(p.pending, req.Msg.ID)
	p.mu.Unlock()
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("no pending call %d", req.Msg.ID))
	}

	res := replyResult{payload: req.Msg.Payload}
	if req.Msg.Error != "" {
		res.err = &RemoteError{Kind: call.kind, Message: req.Msg.Error}
	}
	call.ch <- res

	return connect.NewResponse(&ReplyResponse{}), nil
}

func (p *peer) disconnect() {
	p.once.Do(func() {
		close(p.done)
	})
}

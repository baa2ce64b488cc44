package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"connectrpc.com/connect"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Client is the sub-process side of a channel.
type Client struct {
	name     string
	provider *ChannelProvider
	logger   *zap.Logger

	handshake *connect.Client[HandshakeRequest, HandshakeResponse]
	subscribe *connect.Client[SubscribeRequest, Envelope]
	reply     *connect.Client[ReplyRequest, ReplyResponse]

	peerID string
}

// NewClient creates a client for the named channel. It does not dial until Attach.
func NewClient(name string, provider *ChannelProvider) *Client {
	if provider == nil {
		provider = NewChannelProvider()
	}
	httpClient := provider.httpClient(name)
	opts := provider.clientOptions()

	return &Client{
		name:      name,
		provider:  provider,
		logger:    provider.logger().With(zap.String("channel", name)),
		handshake: connect.NewClient[HandshakeRequest, HandshakeResponse](httpClient, channelBaseURL+HandshakeProcedure, opts...),
		subscribe: connect.NewClient[SubscribeRequest, Envelope](httpClient, channelBaseURL+SubscribeProcedure, opts...),
		reply:     connect.NewClient[ReplyRequest, ReplyResponse](httpClient, channelBaseURL+ReplyProcedure, opts...),
	}
}

// PeerID returns the identity assigned by the host, empty before Attach.
func (c *Client) PeerID() string {
	return c.peerID
}

// Attach performs the handshake, retrying while the host is not yet listening.
// Protocol mismatches are not retried.
func (c *Client) Attach(ctx context.Context, module, parentProcessID string) (*HandshakeResponse, error) {
	req := &HandshakeRequest{
		MagicCookie:     c.provider.cookie(),
		ProtocolVersion: protocolVersion,
		ModuleName:      module,
		ParentProcessID: parentProcessID,
		ProcessID:       os.Getpid(),
	}

	var resp *HandshakeResponse
	op := func() error {
		res, err := c.handshake.CallUnary(ctx, connect.NewRequest(req))
		if err != nil {
			switch connect.CodeOf(err) {
			case connect.CodeInvalidArgument, connect.CodeFailedPrecondition:
				return backoff.Permanent(err)
			}
			return err
		}
		resp = res.Msg
		return nil
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if c.provider.AttachBackOff != nil {
		b = c.provider.AttachBackOff()
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("attach failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("attach to channel %q: %w", c.name, err)
	}

	c.peerID = resp.PeerID
	return resp, nil
}

// Subscribe opens the envelope stream. Attach must have succeeded.
func (c *Client) Subscribe(ctx context.Context) (*connect.ServerStreamForClient[Envelope], error) {
	if c.peerID == "" {
		return nil, errors.New("ipc: subscribe before attach")
	}
	return c.subscribe.CallServerStream(ctx, connect.NewRequest(&SubscribeRequest{PeerID: c.peerID}))
}

// Reply answers an envelope. A non-nil handlerErr is reported to the host
// as a RemoteError.
func (c *Client) Reply(ctx context.Context, id uint64, result any, handlerErr error) error {
	req := &ReplyRequest{PeerID: c.peerID, ID: id}
	if handlerErr != nil {
		req.Error = handlerErr.Error()
	} else if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			req.Error = fmt.Sprintf("encode reply: %v", err)
		} else {
			req.Payload = raw
		}
	}

	_, err := c.reply.CallUnary(ctx, connect.NewRequest(req))
	return err
}

package ipc

import "encoding/json"

// Procedure paths of the channel service.
const (
	ServicePath        = "/pluginhost.ipc.v1.Channel/"
	HandshakeProcedure = ServicePath + "Handshake"
	SubscribeProcedure = ServicePath + "Subscribe"
	ReplyProcedure     = ServicePath + "Reply"
)

const (
	// DefaultMagicCookie identifies a plugin host channel. It is not a secret.
	DefaultMagicCookie = "9c1e5b7a04d2f3e68b1a7c2d5e4f0a93"

	// KindShutdown asks the sub-process to leave its message loop with exit code 0.
	KindShutdown = "shutdown"

	// KindReady is the first envelope on every stream. It carries no request
	// and opens the stream on the sub-process side before any call is made.
	KindReady = "ready"

	protocolVersion = 1
)

// HandshakeRequest is sent by a sub-process when it attaches.
type HandshakeRequest struct {
	MagicCookie     string `json:"magic_cookie"`
	ProtocolVersion int    `json:"protocol_version"`
	ModuleName      string `json:"module_name"`
	ParentProcessID string `json:"parent_process_id"`
	ProcessID       int    `json:"process_id"`
}

// HandshakeResponse assigns the sub-process its peer identity.
type HandshakeResponse struct {
	PeerID      string `json:"peer_id"`
	ChannelName string `json:"channel_name"`
}

// SubscribeRequest opens the host-to-sub-process envelope stream.
type SubscribeRequest struct {
	PeerID string `json:"peer_id"`
}

// Envelope is a single host-to-sub-process message.
type Envelope struct {
	ID      uint64          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ReplyRequest answers the envelope with the same ID.
type ReplyRequest struct {
	PeerID  string          `json:"peer_id"`
	ID      uint64          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ReplyResponse is empty.
type ReplyResponse struct{}

// PeerInfo describes an attached sub-process.
type PeerInfo struct {
	ID              string
	ModuleName      string
	ParentProcessID string
	ProcessID       int
}

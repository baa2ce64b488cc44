package ipc

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// jsonCodec lets plain Go structs travel over Connect without generated
// protobuf types. It takes the place of Connect's built-in "json" codec,
// which only accepts proto.Message values.
type jsonCodec struct{}

var _ connect.Codec = jsonCodec{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

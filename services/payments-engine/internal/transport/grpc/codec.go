package grpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Codec carries engine messages as JSON under the "json" content subtype.
// Clients select it with grpc.CallContentSubtype(CodecName).
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

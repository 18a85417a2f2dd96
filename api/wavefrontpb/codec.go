package wavefrontpb

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of the wavefront codec.
const CodecName = "wavefront"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec marshals the messages of this package in protobuf wire format.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("wavefront codec: cannot marshal %T", v)
	}
	return marshal(m), nil
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("wavefront codec: cannot unmarshal into %T", v)
	}
	return unmarshal(data, m)
}

// Name implements encoding.Codec.
func (Codec) Name() string {
	return CodecName
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

// Package ledgerqgrpc carries the query service over gRPC.
//
// There is no protobuf schema. Requests and responses are the structs
// from ledgerq/types, encoded with cramberry through a codec registered
// under the "cramberry" content subtype.
package ledgerqgrpc

import (
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content subtype: application/grpc+cramberry.
const codecName = "cramberry"

// codec encodes RPC messages with cramberry. Clients force it on every
// call; servers find it through the content subtype.
type codec struct{}

var _ encoding.Codec = codec{}

func (codec) Name() string { return codecName }

func (codec) Marshal(v any) ([]byte, error) {
	data, err := cramberry.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ledgerqgrpc: encode %T: %w", v, err)
	}
	return data, nil
}

func (codec) Unmarshal(data []byte, v any) error {
	if err := cramberry.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ledgerqgrpc: decode %T (%d bytes): %w", v, len(data), err)
	}
	return nil
}

func init() {
	encoding.RegisterCodec(codec{})
}

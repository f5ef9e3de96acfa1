// Package rpcjson is a connect codec for plain Go structs. It registers
// under the "json" name so connect's application/json content type is
// served without generated protobuf types.
package rpcjson

import (
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"
)

const Name = "json"

// Codec marshals messages with encoding/json.
type Codec struct{}

var _ connect.Codec = Codec{}

func (Codec) Name() string { return Name }

func (Codec) Marshal(msg any) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", msg, err)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("unmarshal into %T: %w", msg, err)
	}
	return nil
}

// Option configures a connect handler or client to use Codec.
func Option() connect.Option {
	return connect.WithCodec(Codec{})
}

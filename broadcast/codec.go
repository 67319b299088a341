package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes mutation events for a transport.
type Codec interface {
	Name() string
	Encode(event MutationEvent) ([]byte, error)
	Decode(data []byte) (MutationEvent, error)
}

// JSONCodec is the default codec; storage backed channels keep JSON text as
// the item value.
type JSONCodec struct{}

// Name returns "json".
func (JSONCodec) Name() string { return "json" }

// Encode marshals event to JSON.
func (JSONCodec) Encode(event MutationEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("broadcast: encode json: %w", err)
	}
	return data, nil
}

// Decode unmarshals a JSON event.
func (JSONCodec) Decode(data []byte) (MutationEvent, error) {
	var event MutationEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return MutationEvent{}, fmt.Errorf("broadcast: decode json: %w", err)
	}
	return event, nil
}

// MsgpackCodec is a compact binary codec for message bus transports.
type MsgpackCodec struct{}

// Name returns "msgpack".
func (MsgpackCodec) Name() string { return "msgpack" }

// Encode marshals event with msgpack.
func (MsgpackCodec) Encode(event MutationEvent) ([]byte, error) {
	data, err := msgpack.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("broadcast: encode msgpack: %w", err)
	}
	return data, nil
}

// Decode unmarshals a msgpack event.
func (MsgpackCodec) Decode(data []byte) (MutationEvent, error) {
	var event MutationEvent
	if err := msgpack.Unmarshal(data, &event); err != nil {
		return MutationEvent{}, fmt.Errorf("broadcast: decode msgpack: %w", err)
	}
	return event, nil
}

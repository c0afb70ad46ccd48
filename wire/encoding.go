package wire

import (
	"encoding/json"

	structpb "google.golang.org/protobuf/types/known/structpb"
)

func encodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func decodeStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Encode converts an envelope into its stream representation.
func Encode(env *Envelope) (*structpb.Struct, error) {
	return encodeStruct(env)
}

// Decode converts a stream message back into an envelope.
func Decode(s *structpb.Struct) (*Envelope, error) {
	var env Envelope
	if err := decodeStruct(s, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

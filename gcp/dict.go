package gcp

import (
	"encoding/json"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var marshalOptions = protojson.MarshalOptions{UseProtoNames: true}

// ToDict turns an API response into a plain map, keyed with the snake_case field names.
func ToDict(msg proto.Message) (map[string]any, error) {
	raw, err := marshalOptions.Marshal(msg)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// FromDict fills msg out of a plain map. Field names may be either
// camelCase or snake_case.
func FromDict(dict map[string]any, msg proto.Message) error {
	raw, err := json.Marshal(dict)
	if err != nil {
		return err
	}

	return protojson.Unmarshal(raw, msg)
}

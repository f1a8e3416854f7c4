// Package sonicjson provides a graphrun/compose.Serializer that marshals
// checkpoint bytes with sonic instead of encoding/json.
package sonicjson

import "github.com/bytedance/sonic"

// Serializer implements compose.Serializer with sonic's faster JSON codec.
// It is opt-in via compose.WithSerializer: the compose package never imports
// it and falls back to its internal serializer when the caller supplies none.
type Serializer struct {
	api sonic.API
}

// New returns a Serializer using sonic's default (std-compatible) API.
func New() *Serializer {
	return &Serializer{api: sonic.ConfigDefault}
}

func (s *Serializer) Marshal(v any) ([]byte, error) {
	return s.api.Marshal(v)
}

func (s *Serializer) Unmarshal(data []byte, v any) error {
	return s.api.Unmarshal(data, v)
}

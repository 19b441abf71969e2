package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownKind is returned when decoding a kind that was never registered.
var ErrUnknownKind = errors.New("state: unknown kind")

// Codec converts states to and from JSON for durable stores.
type Codec struct {
	mu       sync.RWMutex
	decoders map[Kind]func([]byte) (State, error)
}

// NewCodec returns an empty Codec.
func NewCodec() *Codec {
	return &Codec{decoders: make(map[Kind]func([]byte) (State, error))}
}

// Register teaches c to decode the kind of proto into values of type S.
// Registering a kind twice replaces the decoder.
func Register[S State](c *Codec, proto S) {
	kind := proto.Kind()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoders[kind] = func(data []byte) (State, error) {
		var s S
		if len(data) > 0 {
			if err := json.Unmarshal(data, &s); err != nil {
				return nil, err
			}
		}
		return s, nil
	}
}

// Known reports whether kind has a decoder.
func (c *Codec) Known(kind Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.decoders[kind]
	return ok
}

// Encode returns the kind and JSON form of s.
func (c *Codec) Encode(s State) (Kind, []byte, error) {
	if s == nil {
		return "", nil, ErrNilState
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", nil, fmt.Errorf("encode state %s: %w", s.Kind(), err)
	}
	return s.Kind(), data, nil
}

// Decode rebuilds a state of the given kind from data.
func (c *Codec) Decode(kind Kind, data []byte) (State, error) {
	c.mu.RLock()
	dec, ok := c.decoders[kind]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	s, err := dec(data)
	if err != nil {
		return nil, fmt.Errorf("decode state %s: %w", kind, err)
	}
	return s, nil
}

// Record is the serialized form of an Envelope.
type Record struct {
	Kind    Kind            `json:"kind"`
	Current json.RawMessage `json:"current"`
	Global  json.RawMessage `json:"global"`
}

// EncodeEnvelope serializes env with c.
func EncodeEnvelope[G any](c *Codec, env Envelope[G]) (Record, error) {
	kind, cur, err := c.Encode(env.Current)
	if err != nil {
		return Record{}, err
	}
	glob, err := json.Marshal(env.Global)
	if err != nil {
		return Record{}, fmt.Errorf("encode global: %w", err)
	}
	return Record{Kind: kind, Current: cur, Global: glob}, nil
}

// DecodeEnvelope rebuilds an Envelope from r.
func DecodeEnvelope[G any](c *Codec, r Record) (Envelope[G], error) {
	var env Envelope[G]
	cur, err := c.Decode(r.Kind, r.Current)
	if err != nil {
		return env, err
	}
	env.Current = cur
	if len(r.Global) > 0 {
		if err := json.Unmarshal(r.Global, &env.Global); err != nil {
			return env, fmt.Errorf("decode global: %w", err)
		}
	}
	return env, nil
}

// Package envelope implements the JSON command/response framing used by JSON chat backends:
// every frame is an object with a string discriminator (usually "type") and an optional
// nested "data" payload.
package envelope

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// DefaultKey is the discriminator field probed when no keys are given.
const DefaultKey = "type"

var (
	// ErrNoDiscriminator is returned by Probe when none of the keys holds a string.
	ErrNoDiscriminator = errors.New("envelope: discriminator not found")

	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

// Envelope is the outer shape of every frame.
type Envelope[T any] struct {
	Type string `json:"type"`
	Data T      `json:"data"`
}

// Probe returns the first top-level string value found under one of keys. It walks the
// object with a streaming iterator and skips every other value without decoding it, so the
// cost does not depend on the payload shape.
func Probe(data []byte, keys ...string) (string, error) {
	if len(keys) == 0 {
		keys = []string{DefaultKey}
	}

	iter := jsoniter.ConfigFastest.BorrowIterator(data)
	defer jsoniter.ConfigFastest.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return "", fmt.Errorf("%w: payload is not an object", ErrNoDiscriminator)
	}

	var found string
	ok := false
	iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		if !contains(keys, field) || it.WhatIsNext() != jsoniter.StringValue {
			it.Skip()
			return it.Error == nil
		}
		found = it.ReadString()
		ok = true
		return false
	})

	if ok {
		return found, nil
	}
	if iter.Error != nil {
		return "", fmt.Errorf("envelope: probe: %w", iter.Error)
	}
	return "", ErrNoDiscriminator
}

// Encode builds a {"type": typ, "data": data} frame. A nil data encodes as an empty object.
func Encode(typ string, data any) ([]byte, error) {
	if data == nil {
		data = struct{}{}
	}
	b, err := json.Marshal(Envelope[any]{Type: typ, Data: data})
	if err != nil {
		return nil, fmt.Errorf("envelope: encode %s: %w", typ, err)
	}
	return b, nil
}

// Decode decodes the data payload of a frame into T.
func Decode[T any](data []byte) (T, error) {
	var env Envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		var zero T
		return zero, fmt.Errorf("envelope: decode: %w", err)
	}
	return env.Data, nil
}

func contains(keys []string, field string) bool {
	for _, k := range keys {
		if k == field {
			return true
		}
	}
	return false
}

package kvsession

import (
	"context"
)

// SizeLimitFilter vetoes writes whose encoded payload exceeds MaxBytes.
// A MaxBytes of zero or less disables the limit.
type SizeLimitFilter struct {
	Codec    Codec
	MaxBytes int
}

func (f SizeLimitFilter) AllowWrite(_ context.Context, _ string, data *Map) (bool, error) {
	if f.MaxBytes <= 0 || data.Len() == 0 {
		return true, nil
	}
	codec := f.Codec
	if codec == nil {
		codec = StructuredCodec{}
	}
	payload, err := codec.Encode(data)
	if err != nil {
		return false, err
	}
	return len(payload) <= f.MaxBytes, nil
}

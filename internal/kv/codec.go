package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// EncodeValue serializes a value for storage. Strings round-trip as
// themselves (no JSON wrapping); everything else is JSON.
func EncodeValue(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("kv: encode value: %w", err)
	}
	return string(raw), nil
}

// DecodeValue deserializes a stored value into out. A *string target
// receives the raw text; other targets are decoded as JSON.
func DecodeValue(raw string, out any) error {
	if s, ok := out.(*string); ok {
		*s = raw
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("kv: decode value: %w", err)
	}
	return nil
}

// GetTyped reads and decodes the value at key. Malformed stored values are
// logged and reported as a miss rather than an error, so a poisoned key
// degrades to absence instead of wedging its reader.
func GetTyped[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var zero T
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	var out T
	if err := DecodeValue(raw, &out); err != nil {
		slog.Warn("kv: malformed stored value, treating as miss", "key", key, "error", err)
		return zero, false, nil
	}
	return out, true, nil
}

// SetTyped encodes and stores a value with the given TTL.
func SetTyped(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := EncodeValue(v)
	if err != nil {
		return err
	}
	return s.SetOne(ctx, key, raw, ttl)
}

// PushTyped encodes a value and appends it to the list at key.
func PushTyped(ctx context.Context, s Store, key string, v any) error {
	raw, err := EncodeValue(v)
	if err != nil {
		return err
	}
	_, err = s.RPush(ctx, key, raw)
	return err
}

// DecodeTyped decodes a raw list element, logging on failure.
func DecodeTyped[T any](raw, key string) (T, bool) {
	var out T
	if err := DecodeValue(raw, &out); err != nil {
		slog.Warn("kv: malformed list element, skipping", "key", key, "error", err)
		var zero T
		return zero, false
	}
	return out, true
}

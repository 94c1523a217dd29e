// Package kv provides the semantic API the NDP backend uses against its
// shared key/value store. The store is the only cross-replica substrate:
// workspace request queues, response channels, process statuses, bot state,
// threads, and the supervisor locks all live here.
//
// Two implementations exist: Redis (production, see redis.go) and an
// in-memory store used by tests and local runs (memory.go), mirroring the
// dual-store pattern used elsewhere in the codebase.
//
// Values are stored as structured text: plain strings round-trip as
// themselves, everything else is JSON. Typed reads never fail on malformed
// stored values; they log and report a miss so a poisoned key cannot wedge a
// supervisor.
package kv

import (
	"context"
	"time"
)

// Side selects the end of a list for LMove/BLMove.
type Side string

const (
	// Left is the head of the list.
	Left Side = "LEFT"
	// Right is the tail of the list.
	Right Side = "RIGHT"
)

// Store is the uniform semantic API over the shared KV store.
//
// Blocking variants (BLPop, BRPop, BLMove) take an integer-seconds timeout
// and return a miss either when it elapses or when the process-wide stopping
// signal is set, whichever comes first. They are implemented as 1-second
// polling loops: the transport call itself is not cancellable, so the loop
// bounds shutdown latency to about a second.
type Store interface {
	// Get returns the raw value at key, with a presence flag.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetOne stores a single value with an absolute TTL (0 means no expiry).
	SetOne(ctx context.Context, key, value string, ttl time.Duration) error
	// MGet returns values for all keys; missing keys yield nil entries.
	MGet(ctx context.Context, keys ...string) ([]*string, error)
	// Delete removes keys, returning how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Expire resets the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// LPush prepends values, returning the new length.
	LPush(ctx context.Context, key string, values ...string) (int64, error)
	// RPush appends values, returning the new length.
	RPush(ctx context.Context, key string, values ...string) (int64, error)
	// LPop removes and returns the head of the list.
	LPop(ctx context.Context, key string) (string, bool, error)
	// RPop removes and returns the tail of the list.
	RPop(ctx context.Context, key string) (string, bool, error)
	// LRange returns the elements between start and stop inclusive,
	// with redis index semantics (negative counts from the tail).
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// LRem removes count occurrences of value (redis semantics).
	LRem(ctx context.Context, key string, count int64, value string) (int64, error)
	// LMove atomically moves one element between lists.
	LMove(ctx context.Context, src, dst string, from, to Side) (string, bool, error)
	// BLPop is LPop blocking up to timeoutSecs.
	BLPop(ctx context.Context, key string, timeoutSecs int) (string, bool, error)
	// BRPop is RPop blocking up to timeoutSecs.
	BRPop(ctx context.Context, key string, timeoutSecs int) (string, bool, error)
	// BLMove is LMove blocking up to timeoutSecs.
	BLMove(ctx context.Context, src, dst string, from, to Side, timeoutSecs int) (string, bool, error)

	// HSet stores hash fields.
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HGet returns one hash field.
	HGet(ctx context.Context, key, field string) (string, bool, error)
	// HGetAll returns every field of a hash.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HDel removes hash fields, returning how many existed.
	HDel(ctx context.Context, key string, fields ...string) (int64, error)

	// SAdd inserts members, returning how many were new.
	SAdd(ctx context.Context, key string, members ...string) (int64, error)
	// SMembers returns every member of a set.
	SMembers(ctx context.Context, key string) ([]string, error)
	// SRem removes members, returning how many existed.
	SRem(ctx context.Context, key string, members ...string) (int64, error)
	// SMove moves a member between sets.
	SMove(ctx context.Context, src, dst, member string) (bool, error)
	// SPop removes and returns a random member.
	SPop(ctx context.Context, key string) (string, bool, error)

	// AcquireLock attempts to take the named lock for ttlSecs. It returns
	// (nil, nil) when another holder owns the lock.
	AcquireLock(ctx context.Context, key string, ttlSecs int) (Lock, error)
}

// Lock is a held distributed lock.
type Lock interface {
	// Refresh extends the lock's TTL to its original duration. Fails if the
	// lock was lost.
	Refresh(ctx context.Context) error
	// Release removes the lock if still owned.
	Release(ctx context.Context) error
}

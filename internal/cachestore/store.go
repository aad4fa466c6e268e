// Package cachestore provides the key/value cache shared by the entity cache,
// the patient cache and the patient-schedule aggregator.
package cachestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cachestore: cache miss")

// Store is a TTL key/value store. Values are JSON encoded. Get and Set are
// atomic per key; there are no cross-key transactions.
type Store interface {
	// Get decodes the value at key into dest, or returns ErrCacheMiss.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CreateCustomKey builds "<prefix>:<sha256(sorted fields)>". Field order never
// affects the key; names and values are query-escaped before hashing.
func CreateCustomKey(prefix string, fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(fields[name]))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return prefix + ":" + hex.EncodeToString(sum[:])
}

// Package storage defines where persisted beam records live.
//
// Stores keep records as raw JSON so that records written by older beam
// writers survive a round trip untouched; decoding belongs to beam.Codec.
package storage

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Get when no record is stored under the key.
var ErrNotFound = errors.New("beam record not found")

// BeamStore persists beam records by key (one record per interval and partition).
type BeamStore interface {
	// Put stores record under key, replacing any previous record.
	Put(ctx context.Context, key string, record json.RawMessage) error
	// Get returns the record stored under key or ErrNotFound.
	Get(ctx context.Context, key string) (json.RawMessage, error)
	// List returns every stored record by key.
	List(ctx context.Context) (map[string]json.RawMessage, error)
	Close() error
}

// Package transport defines the boundary between the planner and a cluster
// connection.
//
// Implementations live in subpackages: aerospike talks to a real cluster and
// memory serves an in-process cluster for tests and demos.
package transport

import (
	"context"

	"aeroquery/internal/batch"
	"aeroquery/internal/query"
	"aeroquery/internal/record"
)

// Client executes planned statements and key operations.
type Client interface {
	// RequestInfo issues info commands to one node. The result is keyed by
	// command.
	RequestInfo(ctx context.Context, commands ...string) (map[string]string, error)

	// Query starts a scan or secondary index query. The caller owns the
	// returned Source and must close it.
	Query(ctx context.Context, st *query.Statement) (record.Source, error)

	// Get reads one record. found is false when the key does not exist.
	Get(ctx context.Context, key record.Key, bins ...string) (rec record.Record, found bool, err error)

	// BatchGet reads keys in one request, returning one outcome per key in
	// order. Keys must fit in a single request; callers chunk.
	BatchGet(ctx context.Context, keys []record.Key, bins ...string) ([]batch.Outcome, error)

	// BatchDelete deletes keys in one request, returning one outcome per
	// key in order. Found reports whether the record existed.
	BatchDelete(ctx context.Context, keys []record.Key) ([]batch.Outcome, error)

	Close() error
}

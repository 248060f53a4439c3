// Package memory provides an in-process cluster implementing
// transport.Client.
//
// It answers the info commands the planner relies on (build, sindex-list,
// sindex-stat) from its own state and evaluates statements with
// qualifier.Matches, so the index filter and the residual expression of a
// statement are checked exactly like the server would apply them.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"aeroquery/internal/batch"
	"aeroquery/internal/cdt"
	"aeroquery/internal/index"
	"aeroquery/internal/qualifier"
	"aeroquery/internal/query"
	"aeroquery/internal/record"
)

var ErrClosed = errors.New("cluster connection closed")

// Cluster is an in-memory cluster. Safe for concurrent use.
type Cluster struct {
	mu      sync.RWMutex
	version string
	indexes []index.Metadata
	records map[string]record.Record // storage key → record
	infoErr error
	closed  bool

	queries []*query.Statement
}

// New creates an empty cluster reporting version.
func New(version string) *Cluster {
	return &Cluster{
		version: version,
		records: make(map[string]record.Record),
	}
}

func storageKey(k record.Key) string {
	return fmt.Sprintf("%s\x00%s\x00%T:%v", k.Namespace, k.Set, k.UserKey, k.UserKey)
}

// Put stores rec, replacing any record with the same key and bumping its
// generation.
func (c *Cluster) Put(rec record.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sk := storageKey(rec.Key)
	if old, ok := c.records[sk]; ok {
		rec.Generation = old.Generation + 1
	} else if rec.Generation == 0 {
		rec.Generation = 1
	}
	rec.Bins = maps.Clone(rec.Bins)
	c.records[sk] = rec
}

// CreateIndex registers an index reported by sindex-list.
func (c *Cluster) CreateIndex(md index.Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes = slices.DeleteFunc(c.indexes, func(o index.Metadata) bool {
		return o.Namespace == md.Namespace && o.Name == md.Name
	})
	c.indexes = append(c.indexes, md)
}

// DropIndex removes an index by name.
func (c *Cluster) DropIndex(namespace, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes = slices.DeleteFunc(c.indexes, func(o index.Metadata) bool {
		return o.Namespace == namespace && o.Name == name
	})
}

// SetVersion changes the reported build.
func (c *Cluster) SetVersion(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = v
}

// FailInfo makes every info request fail with err until cleared with nil.
func (c *Cluster) FailInfo(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infoErr = err
}

// Queries returns the statements executed so far.
func (c *Cluster) Queries() []*query.Statement {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.queries)
}

func (c *Cluster) RequestInfo(ctx context.Context, commands ...string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.infoErr != nil {
		return nil, c.infoErr
	}

	out := make(map[string]string, len(commands))
	for _, cmd := range commands {
		switch {
		case cmd == "build":
			out[cmd] = c.version
		case cmd == index.CommandList:
			out[cmd] = c.sindexList()
		case strings.HasPrefix(cmd, "sindex-stat:"):
			out[cmd] = c.sindexStat(cmd)
		}
	}
	return out, nil
}

func (c *Cluster) sindexList() string {
	entries := make([]string, 0, len(c.indexes))
	for _, md := range c.indexes {
		ctx, _ := cdt.Encode(md.Context)
		entries = append(entries, fmt.Sprintf(
			"ns=%s:indexname=%s:set=%s:bin=%s:type=%s:indextype=%s:context=%s:state=RW",
			md.Namespace, md.Name, nullString(md.Set), md.Bin, md.Type, md.Collection, nullString(ctx)))
	}
	return strings.Join(entries, ";")
}

func (c *Cluster) sindexStat(cmd string) string {
	for _, md := range c.indexes {
		if cmd == index.StatCommand(md.Namespace, md.Name) {
			return fmt.Sprintf("keys=0;entries=0;entries_per_bval=%d;entries_per_rec=1", md.CardinalityRatio)
		}
	}
	return "ERROR::index not found"
}

func nullString(s string) string {
	if s == "" {
		return "NULL"
	}
	return s
}

// Query evaluates st against a snapshot of the stored records. Records are
// returned in key order.
func (c *Cluster) Query(ctx context.Context, st *query.Statement) (record.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var filter *qualifier.Qualifier
	if f := st.Filter; f != nil {
		q, err := qualifier.NewBuilder().Bin(f.Bin).Op(f.Operation).Values(f.Values...).Context(f.Context...).Build()
		if err != nil {
			return nil, fmt.Errorf("index filter: %w", err)
		}
		filter = q
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	c.queries = append(c.queries, st)

	keys := slices.Sorted(maps.Keys(c.records))
	var out []record.Record
	for _, sk := range keys {
		rec := c.records[sk]
		if rec.Key.Namespace != st.Namespace || (st.Set != "" && rec.Key.Set != st.Set) {
			continue
		}
		bins := qualifier.Bins(rec.Bins)
		if !qualifier.Matches(filter, bins) || !qualifier.Matches(st.Residual, bins) {
			continue
		}
		out = append(out, project(rec, st.BinNames))
	}
	return record.SliceSource(out), nil
}

func project(rec record.Record, bins []string) record.Record {
	if len(bins) == 0 {
		rec.Bins = maps.Clone(rec.Bins)
		return rec
	}
	sel := make(map[string]any, len(bins))
	for _, b := range bins {
		if v, ok := rec.Bins[b]; ok {
			sel[b] = v
		}
	}
	rec.Bins = sel
	return rec
}

func (c *Cluster) Get(ctx context.Context, key record.Key, bins ...string) (record.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return record.Record{}, false, ErrClosed
	}
	rec, ok := c.records[storageKey(key)]
	if !ok {
		return record.Record{}, false, nil
	}
	return project(rec, bins), true, nil
}

func (c *Cluster) BatchGet(ctx context.Context, keys []record.Key, bins ...string) ([]batch.Outcome, error) {
	out := make([]batch.Outcome, len(keys))
	for i, k := range keys {
		rec, ok, err := c.Get(ctx, k, bins...)
		if err != nil {
			return nil, err
		}
		out[i] = batch.Outcome{Key: k, Record: rec, Found: ok}
	}
	return out, nil
}

func (c *Cluster) BatchDelete(ctx context.Context, keys []record.Key) ([]batch.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	out := make([]batch.Outcome, len(keys))
	for i, k := range keys {
		sk := storageKey(k)
		_, ok := c.records[sk]
		delete(c.records, sk)
		out[i] = batch.Outcome{Key: k, Found: ok}
	}
	return out, nil
}

// Close makes every later call fail with ErrClosed.
func (c *Cluster) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

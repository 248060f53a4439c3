// Package aerospike implements transport.Client on top of the Aerospike Go
// client.
//
// Statements map onto one client query: the index filter becomes the
// statement filter and the residual qualifier tree becomes the policy's
// filter expression.
package aerospike

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	as "github.com/aerospike/aerospike-client-go/v7"
	"github.com/aerospike/aerospike-client-go/v7/types"

	"aeroquery/internal/batch"
	"aeroquery/internal/logging"
	"aeroquery/internal/query"
	"aeroquery/internal/record"
)

var ErrNoHosts = errors.New("no seed hosts configured")

// Host is a seed node address.
type Host struct {
	Name string
	Port int
}

// Config configures the cluster connection.
type Config struct {
	Hosts    []Host
	User     string
	Password string

	// Timeout bounds the initial connection.
	Timeout time.Duration

	Logger *slog.Logger
}

// Client is a transport.Client backed by a live cluster.
type Client struct {
	client *as.Client
	logger *slog.Logger
}

// Dial connects to the cluster through the seed hosts.
func Dial(cfg Config) (*Client, error) {
	if len(cfg.Hosts) == 0 {
		return nil, ErrNoHosts
	}
	policy := as.NewClientPolicy()
	policy.User = cfg.User
	policy.Password = cfg.Password
	if cfg.Timeout > 0 {
		policy.Timeout = cfg.Timeout
	}

	hosts := make([]*as.Host, len(cfg.Hosts))
	for i, h := range cfg.Hosts {
		hosts[i] = as.NewHost(h.Name, h.Port)
	}
	c, err := as.NewClientWithPolicyAndHost(policy, hosts...)
	if err != nil {
		return nil, fmt.Errorf("connect to cluster: %w", err)
	}

	logger := logging.Default(cfg.Logger).With("component", "aerospike")
	logger.Info("connected to cluster", "nodes", len(c.GetNodes()))
	return &Client{client: c, logger: logger}, nil
}

func (c *Client) RequestInfo(ctx context.Context, commands ...string) (map[string]string, error) {
	node, err := c.client.Cluster().GetRandomNode()
	if err != nil {
		return nil, fmt.Errorf("pick node: %w", err)
	}
	policy := as.NewInfoPolicy()
	if d, ok := ctx.Deadline(); ok {
		policy.Timeout = time.Until(d)
	}
	resp, err := node.RequestInfo(policy, commands...)
	if err != nil {
		return nil, fmt.Errorf("info %v: %w", commands, err)
	}
	return resp, nil
}

func (c *Client) Query(ctx context.Context, st *query.Statement) (record.Source, error) {
	stmt := as.NewStatement(st.Namespace, st.Set, st.BinNames...)

	filter, err := Filter(st.Filter)
	if err != nil {
		return nil, err
	}
	if filter != nil {
		if err := stmt.SetFilter(filter); err != nil {
			return nil, fmt.Errorf("set index filter: %w", err)
		}
	}

	exp, err := Expression(st.Residual)
	if err != nil {
		return nil, err
	}
	policy := as.NewQueryPolicy()
	policy.FilterExpression = exp
	applyDeadline(ctx, &policy.BasePolicy)
	// Sorting needs every record; otherwise only offset+limit are read.
	if b := st.Bounds; b.Limit > 0 && len(b.Sort) == 0 {
		policy.MaxRecords = b.Offset + b.Limit
	}

	rs, err := c.client.Query(policy, stmt)
	if err != nil {
		return nil, fmt.Errorf("query %s.%s: %w", st.Namespace, st.Set, err)
	}
	c.logger.Debug("query started", "statement", st.ID, "indexed", st.Indexed())
	return &recordset{rs: rs}, nil
}

func (c *Client) Get(ctx context.Context, key record.Key, bins ...string) (record.Record, bool, error) {
	k, err := toKey(key)
	if err != nil {
		return record.Record{}, false, err
	}
	policy := as.NewPolicy()
	applyDeadline(ctx, policy)

	rec, aerr := c.client.Get(policy, k, bins...)
	if aerr != nil {
		if aerr.Matches(types.KEY_NOT_FOUND_ERROR) {
			return record.Record{}, false, nil
		}
		return record.Record{}, false, fmt.Errorf("get %s: %w", key, aerr)
	}
	return fromRecord(rec, key), true, nil
}

func (c *Client) BatchGet(ctx context.Context, keys []record.Key, bins ...string) ([]batch.Outcome, error) {
	ks, err := toKeys(keys)
	if err != nil {
		return nil, err
	}
	policy := as.NewBatchPolicy()
	applyDeadline(ctx, &policy.BasePolicy)

	recs, aerr := c.client.BatchGet(policy, ks, bins...)
	if aerr != nil {
		return nil, fmt.Errorf("batch get: %w", aerr)
	}
	out := make([]batch.Outcome, len(keys))
	for i, k := range keys {
		out[i] = batch.Outcome{Key: k}
		if i < len(recs) && recs[i] != nil {
			out[i].Record = fromRecord(recs[i], k)
			out[i].Found = true
		}
	}
	return out, nil
}

func (c *Client) BatchDelete(ctx context.Context, keys []record.Key) ([]batch.Outcome, error) {
	ks, err := toKeys(keys)
	if err != nil {
		return nil, err
	}
	policy := as.NewBatchPolicy()
	applyDeadline(ctx, &policy.BasePolicy)

	brs, aerr := c.client.BatchDelete(policy, as.NewBatchDeletePolicy(), ks)
	if aerr != nil && len(brs) == 0 {
		return nil, fmt.Errorf("batch delete: %w", aerr)
	}
	out := make([]batch.Outcome, len(keys))
	for i, k := range keys {
		out[i] = batch.Outcome{Key: k}
		if i >= len(brs) || brs[i] == nil {
			out[i].Err = batch.ErrShortResponse
			continue
		}
		switch br := brs[i]; br.ResultCode {
		case types.OK:
			out[i].Found = true
		case types.KEY_NOT_FOUND_ERROR:
		default:
			if br.Err != nil {
				out[i].Err = br.Err
			} else {
				out[i].Err = errors.New(types.ResultCodeToString(br.ResultCode))
			}
		}
	}
	return out, nil
}

// Close releases every node connection.
func (c *Client) Close() error {
	c.client.Close()
	return nil
}

func applyDeadline(ctx context.Context, p *as.BasePolicy) {
	if d, ok := ctx.Deadline(); ok {
		p.TotalTimeout = time.Until(d)
	}
}

func toKey(k record.Key) (*as.Key, error) {
	key, err := as.NewKey(k.Namespace, k.Set, k.UserKey)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", k, err)
	}
	return key, nil
}

func toKeys(keys []record.Key) ([]*as.Key, error) {
	out := make([]*as.Key, len(keys))
	for i, k := range keys {
		key, err := toKey(k)
		if err != nil {
			return nil, err
		}
		out[i] = key
	}
	return out, nil
}

// fromRecord converts a client record. fallback is used when the server
// did not return the user key.
func fromRecord(r *as.Record, fallback record.Key) record.Record {
	out := record.Record{
		Key:        fallback,
		Bins:       map[string]any(r.Bins),
		Generation: r.Generation,
		Expiration: r.Expiration,
	}
	if r.Key != nil {
		out.Key = fromKey(r.Key)
	}
	return out
}

// fromKey uses the digest as user key when the key was stored without it.
func fromKey(k *as.Key) record.Key {
	rk := record.Key{Namespace: k.Namespace(), Set: k.SetName()}
	if v := k.Value(); v != nil {
		rk.UserKey = v.GetObject()
	} else {
		rk.UserKey = k.Digest()
	}
	return rk
}

// recordset adapts a client recordset to record.Source.
type recordset struct {
	rs *as.Recordset
}

func (s *recordset) Next() (record.Record, error) {
	res, ok := <-s.rs.Results()
	if !ok {
		return record.Record{}, record.ErrNoMoreRecords
	}
	if res.Err != nil {
		return record.Record{}, res.Err
	}
	return fromRecord(res.Record, record.Key{}), nil
}

func (s *recordset) Close() error {
	if err := s.rs.Close(); err != nil {
		return err
	}
	return nil
}

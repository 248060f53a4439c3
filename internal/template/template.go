// Package template is the data-access facade used by the mapping layer.
//
// A Template owns the capability gate, the indexes cache and the statement
// builder for one namespace, and runs statements and key operations through
// a transport.Client.
package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"aeroquery/internal/batch"
	"aeroquery/internal/index"
	"aeroquery/internal/logging"
	"aeroquery/internal/metrics"
	"aeroquery/internal/qualifier"
	"aeroquery/internal/query"
	"aeroquery/internal/record"
	"aeroquery/internal/transport"
	"aeroquery/internal/version"
)

const (
	opGet    = "get"
	opDelete = "delete"
)

var (
	ErrNoClient = errors.New("no transport client configured")
	ErrClosed   = errors.New("template is closed")
)

// Config configures a Template.
type Config struct {
	Client    transport.Client
	Namespace string

	// Zero disables the background refresh of the respective cache.
	IndexRefreshInterval   time.Duration
	VersionRefreshInterval time.Duration
	FetchCardinality       bool

	// BatchSize is the number of keys per batch call. Below 1 means
	// batch.DefaultSize.
	BatchSize        int
	BatchConcurrency int
	// BatchRate caps batch calls per second. Zero is unlimited.
	BatchRate float64

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
}

// Template runs queries and key operations against one namespace.
type Template struct {
	client    transport.Client
	namespace string

	versions *version.Support
	indexes  *index.Cache
	builder  *query.Builder
	runner   *batch.Runner

	logger *slog.Logger
	tracer trace.Tracer

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// New connects the caches to the cluster. It fetches the server version and
// the index list once before returning, so the first query is planned
// against real metadata.
func New(ctx context.Context, cfg Config) (*Template, error) {
	if cfg.Client == nil {
		return nil, ErrNoClient
	}
	if cfg.Namespace == "" {
		return nil, query.ErrEmptyNamespace
	}
	logger := logging.Default(cfg.Logger)
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("aeroquery/template")
	}

	versions, err := version.New(ctx, version.Config{
		Info:            cfg.Client,
		RefreshInterval: cfg.VersionRefreshInterval,
		Clock:           cfg.Clock,
		Logger:          logger,
		Metrics:         cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("server version: %w", err)
	}

	indexes := index.New(index.Config{
		Info:             cfg.Client,
		Capabilities:     versions,
		RefreshInterval:  cfg.IndexRefreshInterval,
		FetchCardinality: cfg.FetchCardinality,
		Clock:            cfg.Clock,
		Logger:           logger,
		Metrics:          cfg.Metrics,
	})
	if err := indexes.Refresh(ctx); err != nil {
		_ = versions.Close()
		return nil, fmt.Errorf("load indexes: %w", err)
	}
	if err := indexes.Start(); err != nil {
		_ = versions.Close()
		return nil, fmt.Errorf("start index refresh: %w", err)
	}

	runner := &batch.Runner{
		Size:        cfg.BatchSize,
		Concurrency: cfg.BatchConcurrency,
		Metrics:     cfg.Metrics,
	}
	if cfg.BatchRate > 0 {
		runner.Limiter = rate.NewLimiter(rate.Limit(cfg.BatchRate), 1)
	}

	return &Template{
		client:    cfg.Client,
		namespace: cfg.Namespace,
		versions:  versions,
		indexes:   indexes,
		builder: query.NewBuilder(query.Config{
			Indexes:      indexes,
			Capabilities: versions,
			Logger:       logger,
			Metrics:      cfg.Metrics,
		}),
		runner: runner,
		logger: logger.With("component", "template"),
		tracer: tracer,
		closed: make(chan struct{}),
	}, nil
}

// Namespace returns the namespace all operations target.
func (t *Template) Namespace() string { return t.namespace }

// Indexes returns the indexes cache.
func (t *Template) Indexes() *index.Cache { return t.indexes }

// Versions returns the server capability gate.
func (t *Template) Versions() *version.Support { return t.versions }

// Explain plans q without running it.
func (t *Template) Explain(set string, q *qualifier.Qualifier, opts ...query.Option) (*query.Statement, error) {
	return t.builder.Build(t.namespace, set, q, opts...)
}

// Find plans and starts a query. A nil q scans the set. The caller owns the
// returned iterator and must Close it unless it is drained.
func (t *Template) Find(ctx context.Context, set string, q *qualifier.Qualifier, opts ...query.Option) (*record.Iterator, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	ctx, span := t.tracer.Start(ctx, "template.Find",
		trace.WithAttributes(
			attribute.String("namespace", t.namespace),
			attribute.String("set", set),
		),
	)
	defer span.End()

	st, err := t.builder.Build(t.namespace, set, q, opts...)
	if err != nil {
		return nil, spanError(span, err)
	}
	span.SetAttributes(
		attribute.String("statement.id", st.ID.String()),
		attribute.Bool("statement.indexed", st.Indexed()),
	)

	src, err := t.client.Query(ctx, st)
	if err != nil {
		return nil, spanError(span, err)
	}
	return record.NewIterator(bounded(src, st.Bounds)), nil
}

// Count drains a query and returns how many records matched.
func (t *Template) Count(ctx context.Context, set string, q *qualifier.Qualifier) (int64, error) {
	it, err := t.Find(ctx, set, q)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var n int64
	for _, err := range it.All() {
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// FindByID reads one record. found is false when the key does not exist.
func (t *Template) FindByID(ctx context.Context, set string, id any, bins ...string) (rec record.Record, found bool, err error) {
	if err := t.checkOpen(); err != nil {
		return record.Record{}, false, err
	}
	ctx, span := t.tracer.Start(ctx, "template.FindByID",
		trace.WithAttributes(attribute.String("set", set)),
	)
	defer span.End()

	rec, found, err = t.client.Get(ctx, t.key(set, id), bins...)
	if err != nil {
		return record.Record{}, false, spanError(span, err)
	}
	return rec, found, nil
}

// FindByIDs reads records in batches. Outcomes are in id order; keys that
// do not exist have Found false. A *batch.PartialFailure is returned with
// the outcomes when some keys failed.
func (t *Template) FindByIDs(ctx context.Context, set string, ids []any, bins ...string) ([]batch.Outcome, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	ctx, span := t.tracer.Start(ctx, "template.FindByIDs",
		trace.WithAttributes(
			attribute.String("set", set),
			attribute.Int("keys", len(ids)),
		),
	)
	defer span.End()

	out, err := t.runner.Run(ctx, opGet, t.keys(set, ids), func(ctx context.Context, keys []record.Key) ([]batch.Outcome, error) {
		return t.client.BatchGet(ctx, keys, bins...)
	})
	if err != nil {
		spanError(span, err)
	}
	return out, err
}

// DeleteByIDs deletes records in batches. Batch writes need server support;
// older servers get a *version.CapabilityUnsupportedError.
func (t *Template) DeleteByIDs(ctx context.Context, set string, ids []any) ([]batch.Outcome, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if !t.versions.IsBatchWriteSupported() {
		return nil, &version.CapabilityUnsupportedError{
			Version: t.versions.ServerVersion(),
			Minimum: version.BatchWrite.String(),
		}
	}
	ctx, span := t.tracer.Start(ctx, "template.DeleteByIDs",
		trace.WithAttributes(
			attribute.String("set", set),
			attribute.Int("keys", len(ids)),
		),
	)
	defer span.End()

	out, err := t.runner.Run(ctx, opDelete, t.keys(set, ids), t.client.BatchDelete)
	if err != nil {
		spanError(span, err)
	}
	return out, err
}

// Close stops background refreshes and closes the client. It is safe to
// call more than once.
func (t *Template) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.closeErr = errors.Join(
			t.indexes.Close(),
			t.versions.Close(),
			t.client.Close(),
		)
		t.logger.Info("template closed")
	})
	return t.closeErr
}

func (t *Template) checkOpen() error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
		return nil
	}
}

func (t *Template) key(set string, id any) record.Key {
	return record.Key{Namespace: t.namespace, Set: set, UserKey: id}
}

func (t *Template) keys(set string, ids []any) []record.Key {
	keys := make([]record.Key, len(ids))
	for i, id := range ids {
		keys[i] = t.key(set, id)
	}
	return keys
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Package index keeps a point-in-time snapshot of the cluster's secondary
// indexes.
//
// The snapshot is rebuilt wholesale from the sindex-list info command and
// published with a single atomic pointer swap, so readers never block and
// never see a mix of old and new entries. A failed refresh leaves the last
// good snapshot in place.
package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jonboulle/clockwork"

	"aeroquery/internal/callgroup"
	"aeroquery/internal/cdt"
	"aeroquery/internal/logging"
	"aeroquery/internal/metrics"
	"aeroquery/internal/scheduler"
)

// refreshJob is the scheduler job name.
const refreshJob = "index-refresh"

// InfoRequester issues info commands against one cluster node.
type InfoRequester interface {
	RequestInfo(ctx context.Context, commands ...string) (map[string]string, error)
}

// CardinalitySupport reports whether the server can answer sindex-stat
// cardinality queries.
type CardinalitySupport interface {
	IsSIndexCardinalitySupported() bool
}

// Config configures a Cache.
type Config struct {
	Info InfoRequester

	// Capabilities gates cardinality fetching. Optional.
	Capabilities CardinalitySupport

	// RefreshInterval is the delay between scheduled refreshes. Zero
	// disables scheduling; the snapshot then changes only through Refresh
	// or Replace.
	RefreshInterval time.Duration

	// RefreshTimeout bounds one scheduled refresh. Zero means RefreshInterval.
	RefreshTimeout time.Duration

	// FetchCardinality requests entries_per_bval for every index.
	FetchCardinality bool

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// snapshot is immutable once published.
type snapshot struct {
	byLocation map[string][]Metadata
	all        []Metadata
}

func newSnapshot(entries []Metadata) *snapshot {
	s := &snapshot{
		byLocation: make(map[string][]Metadata, len(entries)),
		all:        make([]Metadata, 0, len(entries)),
	}
	for _, md := range entries {
		md.Context = md.Context.Clone()
		loc := location(md.Namespace, md.Set, md.Bin, md.Context)
		s.byLocation[loc] = append(s.byLocation[loc], md)
		s.all = append(s.all, md)
	}
	slices.SortFunc(s.all, func(a, b Metadata) int {
		return cmp.Or(
			cmp.Compare(a.Namespace, b.Namespace),
			cmp.Compare(a.Set, b.Set),
			cmp.Compare(a.Bin, b.Bin),
			cmp.Compare(a.Name, b.Name),
		)
	})
	return s
}

// Cache is the secondary index snapshot holder. Safe for concurrent use.
type Cache struct {
	snap atomic.Pointer[snapshot]

	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// refreshes coalesces a manual Refresh with a scheduled one.
	refreshes callgroup.Group[string]

	mu    sync.Mutex
	sched *scheduler.Scheduler
}

// New creates a Cache with an empty snapshot. Call Refresh to populate it
// and Start to keep it fresh.
func New(cfg Config) *Cache {
	c := &Cache{
		cfg:     cfg,
		logger:  logging.Default(cfg.Logger).With("component", "index-cache"),
		metrics: cfg.Metrics,
	}
	c.snap.Store(newSnapshot(nil))
	return c
}

// Refresh fetches the index list and publishes a new snapshot. On failure
// the previous snapshot is kept and a *CacheRefreshError is returned.
// Concurrent calls share one fetch.
func (c *Cache) Refresh(ctx context.Context) error {
	err, shared := c.refreshes.Do(ctx, CommandList, func() error {
		return c.refresh(ctx)
	})
	if shared {
		c.logger.Debug("joined in-flight index refresh", "error", err)
	}
	return err
}

func (c *Cache) refresh(ctx context.Context) error {
	if c.cfg.Info == nil {
		return c.refreshFailed(&CacheRefreshError{Op: "refresh", Err: ErrNoInfo})
	}

	resp, err := c.cfg.Info.RequestInfo(ctx, CommandList)
	if err != nil {
		return c.refreshFailed(&CacheRefreshError{Op: "list indexes", Err: err})
	}
	list, ok := resp[CommandList]
	if !ok {
		return c.refreshFailed(&CacheRefreshError{Op: "list indexes", Err: ErrNoInfo})
	}

	entries, skipped := ParseList(list)
	for _, err := range skipped {
		if errors.Is(err, ErrNotReadable) {
			c.logger.Debug("skipping index that is not readable", "error", err)
			continue
		}
		c.logger.Warn("skipping malformed index entry", "error", err)
	}

	if c.cardinalityEnabled() && len(entries) > 0 {
		c.fetchCardinality(ctx, entries)
	}

	c.snap.Store(newSnapshot(entries))
	c.metrics.IndexRefresh(nil, len(entries))
	c.logger.Debug("index cache refreshed", "indexes", len(entries), "skipped", len(skipped))
	return nil
}

func (c *Cache) refreshFailed(err *CacheRefreshError) error {
	c.metrics.IndexRefresh(err, 0)
	c.logger.Warn("index cache refresh failed, keeping previous snapshot", "error", err)
	return err
}

func (c *Cache) cardinalityEnabled() bool {
	return c.cfg.FetchCardinality && c.cfg.Capabilities != nil &&
		c.cfg.Capabilities.IsSIndexCardinalitySupported()
}

// fetchCardinality fills CardinalityRatio in place. Failures leave the
// ratio at zero; they never fail the refresh.
func (c *Cache) fetchCardinality(ctx context.Context, entries []Metadata) {
	cmds := make([]string, len(entries))
	for i, md := range entries {
		cmds[i] = StatCommand(md.Namespace, md.Name)
	}
	resp, err := c.cfg.Info.RequestInfo(ctx, cmds...)
	if err != nil {
		c.logger.Warn("failed to fetch index cardinality", "error", err)
		return
	}
	for i := range entries {
		if ratio, ok := ParseCardinality(resp[cmds[i]]); ok {
			entries[i].CardinalityRatio = ratio
		}
	}
}

// Replace publishes entries as the new snapshot without contacting the
// cluster.
func (c *Cache) Replace(entries []Metadata) {
	c.snap.Store(newSnapshot(entries))
}

// Lookup returns the first index on (namespace, set, bin, ctx) of any type
// and collection. A set-specific miss falls back to a namespace-wide index.
func (c *Cache) Lookup(namespace, set, bin string, ctx cdt.Context) (Metadata, bool) {
	return c.Find(Key{Namespace: namespace, Set: set, Bin: bin, Context: ctx, Collection: anyCollection})
}

// anyCollection is an internal Key.Collection wildcard used by Lookup.
const anyCollection = -1

// Find returns the index matching k.
func (c *Cache) Find(k Key) (Metadata, bool) {
	s := c.snap.Load()
	if md, ok := s.find(k.Set, k); ok {
		return md, true
	}
	if k.Set != "" {
		return s.find("", k)
	}
	return Metadata{}, false
}

func (s *snapshot) find(set string, k Key) (Metadata, bool) {
	for _, md := range s.byLocation[location(k.Namespace, set, k.Bin, k.Context)] {
		if k.Type != 0 && md.Type != k.Type {
			continue
		}
		if k.Collection != anyCollection && md.Collection != k.Collection {
			continue
		}
		return md, true
	}
	return Metadata{}, false
}

// HasIndexFor reports whether an index matching k exists.
func (c *Cache) HasIndexFor(k Key) bool {
	_, ok := c.Find(k)
	return ok
}

// All returns every index in the snapshot ordered by namespace, set, bin
// and name.
func (c *Cache) All() []Metadata {
	return slices.Clone(c.snap.Load().all)
}

// Len returns the number of indexes in the snapshot.
func (c *Cache) Len() int {
	return len(c.snap.Load().all)
}

// Match returns indexes in namespace whose set equals set (any set when
// empty) and whose bin matches the doublestar glob binPattern.
func (c *Cache) Match(namespace, set, binPattern string) ([]Metadata, error) {
	if binPattern == "" {
		binPattern = "*"
	}
	if !doublestar.ValidatePattern(binPattern) {
		return nil, fmt.Errorf("invalid bin pattern %q", binPattern)
	}
	var out []Metadata
	for _, md := range c.snap.Load().all {
		if namespace != "" && md.Namespace != namespace {
			continue
		}
		if set != "" && md.Set != set {
			continue
		}
		if ok, _ := doublestar.Match(binPattern, md.Bin); ok {
			out = append(out, md)
		}
	}
	return out, nil
}

// Start schedules Refresh every RefreshInterval. It is a no-op when the
// interval is zero or the cache is already started. Scheduled failures are
// logged and absorbed.
func (c *Cache) Start() error {
	if c.cfg.RefreshInterval <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sched != nil {
		return nil
	}

	s, err := scheduler.New(scheduler.Config{Clock: c.cfg.Clock, Logger: c.cfg.Logger})
	if err != nil {
		return err
	}
	timeout := cmp.Or(c.cfg.RefreshTimeout, c.cfg.RefreshInterval)
	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = c.Refresh(ctx)
	}
	if err := s.AddJob(refreshJob, c.cfg.RefreshInterval, task); err != nil {
		_ = s.Stop()
		return err
	}
	s.Start()
	c.sched = s
	return nil
}

// Close stops scheduled refreshes. The last snapshot stays readable.
func (c *Cache) Close() error {
	c.mu.Lock()
	s := c.sched
	c.sched = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Stop()
}

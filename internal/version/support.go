// Package version caches the cluster's server version and answers
// capability questions from it.
//
// Capabilities are monotonic thresholds over the numeric version tuple.
// The version is fetched once at construction, which fails fast below the
// supported baseline, and optionally refreshed in the background.
package version

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"aeroquery/internal/logging"
	"aeroquery/internal/metrics"
	"aeroquery/internal/scheduler"
)

// CommandBuild is the info command returning the server version.
const CommandBuild = "build"

const refreshJob = "version-refresh"

// Capability thresholds.
var (
	// Baseline is the oldest supported server: the first release with
	// filter expressions, which residual predicates are sent as.
	Baseline = MustParse("5.2.0.0")

	BatchWrite                = MustParse("6.0.0.0")
	SIndexCardinality         = MustParse("6.1.0.0")
	CDTContextIndex           = MustParse("6.1.0.0")
	DropCreateBehaviorUpdated = MustParse("6.1.0.1")
	BlobIndex                 = MustParse("7.0.0.0")
	Transaction               = MustParse("8.0.0.0")
)

var (
	ErrInvalidVersion = errors.New("invalid server version")
	ErrUnsupported    = errors.New("server version not supported")
	ErrNoInfo         = errors.New("no build info response")
)

// CapabilityUnsupportedError is returned by New when the server is older
// than Baseline.
type CapabilityUnsupportedError struct {
	Version string
	Minimum string
}

func (e *CapabilityUnsupportedError) Error() string {
	return fmt.Sprintf("server version %s is below the minimum supported %s", e.Version, e.Minimum)
}

func (e *CapabilityUnsupportedError) Unwrap() error {
	return ErrUnsupported
}

// CacheRefreshError reports a failed version fetch.
type CacheRefreshError struct {
	Op  string
	Err error
}

func (e *CacheRefreshError) Error() string {
	return fmt.Sprintf("server version %s: %v", e.Op, e.Err)
}

func (e *CacheRefreshError) Unwrap() error {
	return e.Err
}

// InfoRequester issues info commands against one cluster node.
type InfoRequester interface {
	RequestInfo(ctx context.Context, commands ...string) (map[string]string, error)
}

// Config configures a Support.
type Config struct {
	Info InfoRequester

	// RefreshInterval is the delay between background refreshes. Zero
	// fetches the version once at startup only.
	RefreshInterval time.Duration

	// RefreshTimeout bounds one background refresh. Zero means RefreshInterval.
	RefreshTimeout time.Duration

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type state struct {
	raw string
	v   Version
}

// Support is the server capability gate. Safe for concurrent use.
type Support struct {
	cur atomic.Pointer[state]

	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	sched *scheduler.Scheduler
}

// New fetches the server version and starts background refresh when
// configured. It fails with *CapabilityUnsupportedError below Baseline and
// with *CacheRefreshError when the version cannot be fetched.
func New(ctx context.Context, cfg Config) (*Support, error) {
	s := &Support{
		cfg:     cfg,
		logger:  logging.Default(cfg.Logger).With("component", "server-version"),
		metrics: cfg.Metrics,
	}
	raw, v, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if !v.AtLeast(Baseline) {
		return nil, &CapabilityUnsupportedError{Version: raw, Minimum: Baseline.String()}
	}
	s.cur.Store(&state{raw: raw, v: v})
	s.logger.Info("server version", "version", raw)

	if cfg.RefreshInterval > 0 {
		if err := s.start(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Static returns a Support pinned to version with no refresh.
func Static(version string) (*Support, error) {
	v, err := ParseVersion(version)
	if err != nil {
		return nil, err
	}
	s := &Support{logger: logging.Discard()}
	s.cur.Store(&state{raw: version, v: v})
	return s, nil
}

func (s *Support) fetch(ctx context.Context) (string, Version, error) {
	var err error
	defer func() { s.metrics.VersionRefresh(err) }()

	if s.cfg.Info == nil {
		err = &CacheRefreshError{Op: "fetch", Err: ErrNoInfo}
		return "", Version{}, err
	}
	resp, rerr := s.cfg.Info.RequestInfo(ctx, CommandBuild)
	if rerr != nil {
		err = &CacheRefreshError{Op: "fetch", Err: rerr}
		return "", Version{}, err
	}
	raw, ok := resp[CommandBuild]
	if !ok {
		err = &CacheRefreshError{Op: "fetch", Err: ErrNoInfo}
		return "", Version{}, err
	}
	v, perr := ParseVersion(raw)
	if perr != nil {
		err = &CacheRefreshError{Op: "parse", Err: perr}
		return "", Version{}, err
	}
	return raw, v, nil
}

// Refresh re-fetches the version. On failure the cached version is kept.
func (s *Support) Refresh(ctx context.Context) error {
	raw, v, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("server version refresh failed, keeping cached version", "error", err)
		return err
	}
	prev := s.cur.Swap(&state{raw: raw, v: v})
	if prev == nil || prev.v != v {
		s.logger.Info("server version changed", "version", raw)
	}
	if !v.AtLeast(Baseline) {
		s.logger.Error("server version below supported baseline", "version", raw, "minimum", Baseline.String())
	}
	return nil
}

func (s *Support) start() error {
	sched, err := scheduler.New(scheduler.Config{Clock: s.cfg.Clock, Logger: s.cfg.Logger})
	if err != nil {
		return err
	}
	timeout := cmp.Or(s.cfg.RefreshTimeout, s.cfg.RefreshInterval)
	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = s.Refresh(ctx)
	}
	if err := sched.AddJob(refreshJob, s.cfg.RefreshInterval, task); err != nil {
		_ = sched.Stop()
		return err
	}
	sched.Start()

	s.mu.Lock()
	s.sched = sched
	s.mu.Unlock()
	return nil
}

// Close stops background refresh. Safe to call more than once.
func (s *Support) Close() error {
	s.mu.Lock()
	sched := s.sched
	s.sched = nil
	s.mu.Unlock()
	if sched == nil {
		return nil
	}
	return sched.Stop()
}

// ServerVersion returns the cached version string as reported by the server.
func (s *Support) ServerVersion() string {
	return s.cur.Load().raw
}

// Version returns the cached numeric version.
func (s *Support) Version() Version {
	return s.cur.Load().v
}

// IsServerVersionGtOrEq reports whether the cached version is at least
// version. Unparseable input is treated as 0.0.0.0.
func (s *Support) IsServerVersionGtOrEq(version string) bool {
	v, _ := ParseVersion(version)
	return s.atLeast(v)
}

func (s *Support) atLeast(v Version) bool {
	return s.cur.Load().v.AtLeast(v)
}

func (s *Support) IsBatchWriteSupported() bool        { return s.atLeast(BatchWrite) }
func (s *Support) IsSIndexCardinalitySupported() bool { return s.atLeast(SIndexCardinality) }
func (s *Support) IsCDTContextIndexSupported() bool   { return s.atLeast(CDTContextIndex) }
func (s *Support) IsDropCreateBehaviorUpdated() bool  { return s.atLeast(DropCreateBehaviorUpdated) }
func (s *Support) IsBlobIndexSupported() bool         { return s.atLeast(BlobIndex) }
func (s *Support) IsTransactionSupported() bool       { return s.atLeast(Transaction) }

// Capabilities lists every capability predicate by name, for diagnostics.
func (s *Support) Capabilities() map[string]bool {
	return map[string]bool{
		"batch-write":                  s.IsBatchWriteSupported(),
		"sindex-cardinality":           s.IsSIndexCardinalitySupported(),
		"cdt-context-index":            s.IsCDTContextIndexSupported(),
		"drop-create-behavior-updated": s.IsDropCreateBehaviorUpdated(),
		"blob-index":                   s.IsBlobIndexSupported(),
		"transaction":                  s.IsTransactionSupported(),
	}
}

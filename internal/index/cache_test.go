package index

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"aeroquery/internal/cdt"
	"aeroquery/internal/qualifier"
)

// fakeInfo answers info commands from a map guarded by a mutex.
type fakeInfo struct {
	mu    sync.Mutex
	resp  map[string]string
	err   error
	calls atomic.Int32
}

func (f *fakeInfo) set(cmd, resp string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resp == nil {
		f.resp = make(map[string]string)
	}
	f.resp[cmd] = resp
}

func (f *fakeInfo) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeInfo) RequestInfo(_ context.Context, commands ...string) (map[string]string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string, len(commands))
	for _, c := range commands {
		if v, ok := f.resp[c]; ok {
			out[c] = v
		}
	}
	return out, nil
}

type cardinality bool

func (c cardinality) IsSIndexCardinalitySupported() bool { return bool(c) }

const twoIndexes = "ns=test:indexname=idx_age:set=people:bin=age:type=numeric:indextype=default:context=NULL:state=RW;" +
	"ns=test:indexname=idx_name:set=NULL:bin=name:type=string:indextype=default:context=NULL:state=RW"

func TestRefreshPublishesSnapshot(t *testing.T) {
	info := &fakeInfo{}
	info.set(CommandList, twoIndexes)
	c := New(Config{Info: info})

	if c.Len() != 0 {
		t.Fatal("new cache must start empty")
	}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}

	md, ok := c.Lookup("test", "people", "age", nil)
	if !ok || md.Name != "idx_age" {
		t.Errorf("Lookup age = %+v, %v", md, ok)
	}
	if _, ok := c.Lookup("test", "other", "age", nil); ok {
		t.Error("age index is set-specific")
	}
}

func TestLookupFallsBackToNamespaceWideIndex(t *testing.T) {
	c := New(Config{})
	c.Replace([]Metadata{{Name: "idx_name", Namespace: "test", Bin: "name", Type: TypeString}})

	if !c.HasIndexFor(Key{Namespace: "test", Set: "people", Bin: "name", Type: TypeString}) {
		t.Error("namespace-wide index must serve any set")
	}
	if c.HasIndexFor(Key{Namespace: "prod", Set: "people", Bin: "name", Type: TypeString}) {
		t.Error("namespace must match")
	}
}

func TestFindMatchesTypeCollectionAndContext(t *testing.T) {
	ctx := cdt.Context{cdt.MapKeyStep("city")}
	c := New(Config{})
	c.Replace([]Metadata{
		{Name: "n", Namespace: "test", Set: "s", Bin: "b", Type: TypeNumeric},
		{Name: "l", Namespace: "test", Set: "s", Bin: "b", Type: TypeString, Collection: qualifier.CollectionList},
		{Name: "c", Namespace: "test", Set: "s", Bin: "addr", Type: TypeString, Context: ctx},
	})

	tests := []struct {
		name string
		key  Key
		want string
	}{
		{"numeric default", Key{Namespace: "test", Set: "s", Bin: "b", Type: TypeNumeric}, "n"},
		{"string list", Key{Namespace: "test", Set: "s", Bin: "b", Type: TypeString, Collection: qualifier.CollectionList}, "l"},
		{"string default missing", Key{Namespace: "test", Set: "s", Bin: "b", Type: TypeString}, ""},
		{"any type default", Key{Namespace: "test", Set: "s", Bin: "b"}, "n"},
		{"context", Key{Namespace: "test", Set: "s", Bin: "addr", Type: TypeString, Context: cdt.Context{cdt.MapKeyStep("city")}}, "c"},
		{"context required", Key{Namespace: "test", Set: "s", Bin: "addr", Type: TypeString}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, ok := c.Find(tt.key)
			if tt.want == "" {
				if ok {
					t.Errorf("unexpected match %+v", md)
				}
				return
			}
			if !ok || md.Name != tt.want {
				t.Errorf("Find = %+v, %v; want %s", md, ok, tt.want)
			}
		})
	}
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	info := &fakeInfo{}
	info.set(CommandList, twoIndexes)
	c := New(Config{Info: info})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("connection refused")
	info.fail(boom)
	err := c.Refresh(context.Background())

	var cre *CacheRefreshError
	if !errors.As(err, &cre) {
		t.Fatalf("error %v is not a *CacheRefreshError", err)
	}
	if !errors.Is(err, boom) {
		t.Error("CacheRefreshError must wrap the transport error")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d after failed refresh, want 2", c.Len())
	}
}

func TestRefreshWithoutInfo(t *testing.T) {
	c := New(Config{})
	if err := c.Refresh(context.Background()); !errors.Is(err, ErrNoInfo) {
		t.Errorf("error = %v, want ErrNoInfo", err)
	}
}

func TestRefreshFetchesCardinality(t *testing.T) {
	info := &fakeInfo{}
	info.set(CommandList, twoIndexes)
	info.set(StatCommand("test", "idx_age"), "keys=5;entries_per_bval=7")

	c := New(Config{Info: info, Capabilities: cardinality(true), FetchCardinality: true})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	md, _ := c.Lookup("test", "people", "age", nil)
	if md.CardinalityRatio != 7 {
		t.Errorf("CardinalityRatio = %d, want 7", md.CardinalityRatio)
	}
	md, _ = c.Lookup("test", "", "name", nil)
	if md.CardinalityRatio != 0 {
		t.Errorf("missing stat should leave ratio 0, got %d", md.CardinalityRatio)
	}

	// Servers without the capability never receive sindex-stat.
	info2 := &fakeInfo{}
	info2.set(CommandList, twoIndexes)
	c2 := New(Config{Info: info2, Capabilities: cardinality(false), FetchCardinality: true})
	if err := c2.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := info2.calls.Load(); n != 1 {
		t.Errorf("info calls = %d, want 1", n)
	}
}

func TestAllIsSortedCopy(t *testing.T) {
	c := New(Config{})
	c.Replace([]Metadata{
		{Name: "z", Namespace: "test", Set: "b", Bin: "x", Type: TypeNumeric},
		{Name: "a", Namespace: "test", Set: "a", Bin: "y", Type: TypeNumeric},
	})
	all := c.All()
	if all[0].Name != "a" || all[1].Name != "z" {
		t.Errorf("All not sorted: %v", all)
	}
	all[0].Name = "mutated"
	if c.All()[0].Name != "a" {
		t.Error("All exposes the snapshot")
	}
}

func TestMatch(t *testing.T) {
	c := New(Config{})
	c.Replace([]Metadata{
		{Name: "1", Namespace: "test", Set: "s", Bin: "user_age", Type: TypeNumeric},
		{Name: "2", Namespace: "test", Set: "s", Bin: "user_name", Type: TypeString},
		{Name: "3", Namespace: "test", Set: "t", Bin: "order_id", Type: TypeNumeric},
	})

	got, err := c.Match("test", "", "user_*")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("Match(user_*) = %v", got)
	}
	got, _ = c.Match("test", "t", "")
	if len(got) != 1 || got[0].Name != "3" {
		t.Errorf("Match(set t) = %v", got)
	}
	if _, err := c.Match("test", "", "[bad"); err == nil {
		t.Error("invalid pattern should fail")
	}
}

func TestStartRefreshesOnSchedule(t *testing.T) {
	info := &fakeInfo{}
	info.set(CommandList, twoIndexes)
	clock := clockwork.NewFakeClock()
	c := New(Config{Info: info, RefreshInterval: time.Minute, Clock: clock})
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute - time.Second)
	if n := info.calls.Load(); n != 0 || c.Len() != 0 {
		t.Fatalf("refreshed before the interval elapsed: %d calls, %d indexes", n, c.Len())
	}

	clock.Advance(time.Second)
	for c.Len() != 2 {
		if ctx.Err() != nil {
			t.Fatal("scheduled refresh never published the new snapshot")
		}
		time.Sleep(time.Millisecond)
	}
	if n := info.calls.Load(); n != 1 {
		t.Errorf("info called %d times after one tick", n)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestStartDisabledWithZeroInterval(t *testing.T) {
	info := &fakeInfo{}
	info.set(CommandList, twoIndexes)
	clock := clockwork.NewFakeClock()
	c := New(Config{Info: info, Clock: clock})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	clock.Advance(24 * time.Hour)
	if n := info.calls.Load(); n != 0 {
		t.Errorf("info called %d times with scheduling disabled", n)
	}
	if err := c.Close(); err != nil {
		t.Error(err)
	}
}

func TestConcurrentReadersDuringRefresh(t *testing.T) {
	info := &fakeInfo{}
	info.set(CommandList, twoIndexes)
	c := New(Config{Info: info})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Go(func() {
			for {
				select {
				case <-stop:
					return
				default:
				}
				// A snapshot is either empty or complete.
				if n := len(c.All()); n != 0 && n != 2 {
					t.Errorf("observed partial snapshot of %d", n)
					return
				}
			}
		})
	}
	for range 50 {
		if err := c.Refresh(context.Background()); err != nil {
			t.Error(err)
		}
		c.Replace(nil)
	}
	close(stop)
	wg.Wait()
}

func TestMetadataString(t *testing.T) {
	md := Metadata{Name: "i", Namespace: "test", Bin: "b", Type: TypeNumeric, Collection: qualifier.CollectionList}
	if got := md.String(); !strings.Contains(got, "test.-.b") || !strings.HasSuffix(got, "numeric/list") {
		t.Errorf("String = %q", got)
	}
}

// gatedInfo blocks every request until release is closed.
type gatedInfo struct {
	*fakeInfo
	entered chan struct{}
	release chan struct{}
}

func (g *gatedInfo) RequestInfo(ctx context.Context, commands ...string) (map[string]string, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.fakeInfo.RequestInfo(ctx, commands...)
}

func TestConcurrentRefreshesShareOneFetch(t *testing.T) {
	info := &gatedInfo{fakeInfo: &fakeInfo{}, entered: make(chan struct{}, 1), release: make(chan struct{})}
	info.set(CommandList, twoIndexes)
	c := New(Config{Info: info})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	wg.Go(func() { errs[0] = c.Refresh(context.Background()) })
	<-info.entered
	for i := 1; i < len(errs); i++ {
		wg.Go(func() { errs[i] = c.Refresh(context.Background()) })
	}
	time.Sleep(50 * time.Millisecond)
	close(info.release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("refresh %d: %v", i, err)
		}
	}
	if n := info.calls.Load(); n != 1 {
		t.Errorf("info requested %d times, want 1", n)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

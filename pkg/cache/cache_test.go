package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"

	"github.com/matzehuels/depscan/pkg/kv"
)

const testURL = "https://registry.npmjs.org/react"

type fetchCounter struct {
	calls int
	body  string
	err   error
}

func (f *fetchCounter) fetch(context.Context) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.body), nil
}

func newTestCache(store kv.Store, clock clockwork.Clock) *Cache {
	return New(store, WithClock(clock), WithLogger(log.New(io.Discard)))
}

func TestGetOrFetch_MissThenHit(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	clock := clockwork.NewFakeClock()
	c := newTestCache(store, clock)
	f := &fetchCounter{body: `{"name":"react","description":"UI library","dist-tags":{"latest":"18.2.0"}}`}

	got, err := c.GetOrFetch(ctx, testURL, false, f.fetch)
	if err != nil {
		t.Fatalf("GetOrFetch() error: %v", err)
	}
	if got.Hit {
		t.Error("first call should be a miss")
	}
	if got.Name != "react" || got.Description != "UI library" {
		t.Errorf("payload = %+v", got.Payload)
	}
	if !strings.Contains(string(got.Raw), "18.2.0") {
		t.Errorf("Raw should carry the full body, got %s", got.Raw)
	}

	clock.Advance(23 * time.Hour)
	got, err = c.GetOrFetch(ctx, testURL, false, f.fetch)
	if err != nil {
		t.Fatalf("GetOrFetch() error: %v", err)
	}
	if !got.Hit || got.Raw != nil {
		t.Errorf("second call = %+v, want hit without raw body", got)
	}
	if got.Description != "UI library" {
		t.Errorf("Description = %q", got.Description)
	}
	if f.calls != 1 {
		t.Errorf("fetch calls = %d, want 1", f.calls)
	}
}

func TestGetOrFetch_StoredShape(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	c := newTestCache(store, clock)
	f := &fetchCounter{body: `{"name":"lodash","description":"utils","versions":{"4.17.21":{}}}`}

	if _, err := c.GetOrFetch(ctx, "https://registry.npmjs.org/lodash", false, f.fetch); err != nil {
		t.Fatal(err)
	}

	data, ok, _ := store.Get(ctx, "fetch-with-cache:https://registry.npmjs.org/lodash")
	if !ok {
		t.Fatal("entry not stored under the prefixed URL")
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["timestamp"] != float64(1_700_000_000_000) {
		t.Errorf("timestamp = %v", raw["timestamp"])
	}
	inner, _ := raw["data"].(map[string]any)
	if len(inner) != 2 || inner["name"] != "lodash" || inner["description"] != "utils" {
		t.Errorf("data = %v, want only name and description", inner)
	}
}

func TestGetOrFetch_Expired(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	clock := clockwork.NewFakeClock()
	c := newTestCache(store, clock)
	f := &fetchCounter{body: `{"name":"react","description":"old"}`}

	if _, err := c.GetOrFetch(ctx, testURL, false, f.fetch); err != nil {
		t.Fatal(err)
	}

	clock.Advance(24 * time.Hour)
	f.body = `{"name":"react","description":"new"}`
	got, err := c.GetOrFetch(ctx, testURL, false, f.fetch)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hit || got.Description != "new" {
		t.Errorf("expired entry should be refetched, got %+v", got)
	}
	if f.calls != 2 {
		t.Errorf("fetch calls = %d, want 2", f.calls)
	}
}

func TestGetOrFetch_ExpiredEntryRemovedOnRead(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	clock := clockwork.NewFakeClock()
	c := newTestCache(store, clock)

	_, _ = c.GetOrFetch(ctx, testURL, false, (&fetchCounter{body: `{"name":"react"}`}).fetch)
	clock.Advance(25 * time.Hour)

	failing := &fetchCounter{err: errors.New("offline")}
	if _, err := c.GetOrFetch(ctx, testURL, false, failing.fetch); err == nil {
		t.Fatal("expected fetch error")
	}
	if store.Len() != 0 {
		t.Errorf("expired entry should have been deleted, store has %d keys", store.Len())
	}
}

func TestGetOrFetch_Force(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	clock := clockwork.NewFakeClock()
	c := newTestCache(store, clock)
	f := &fetchCounter{body: `{"name":"react","description":"v1"}`}

	_, _ = c.GetOrFetch(ctx, testURL, false, f.fetch)
	clock.Advance(time.Hour)

	f.body = `{"name":"react","description":"v2"}`
	got, err := c.GetOrFetch(ctx, testURL, true, f.fetch)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hit || got.Description != "v2" {
		t.Errorf("force should bypass the read, got %+v", got)
	}

	// The forced write refreshed the timestamp.
	clock.Advance(23*time.Hour + 30*time.Minute)
	got, _ = c.GetOrFetch(ctx, testURL, false, f.fetch)
	if !got.Hit || got.Description != "v2" {
		t.Errorf("entry should be fresh after forced write, got %+v", got)
	}
	if f.calls != 2 {
		t.Errorf("fetch calls = %d, want 2", f.calls)
	}
}

func TestGetOrFetch_FetchErrorNotStored(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	c := newTestCache(store, clockwork.NewFakeClock())
	wantErr := errors.New("boom")

	_, err := c.GetOrFetch(ctx, testURL, false, (&fetchCounter{err: wantErr}).fetch)
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
	if store.Len() != 0 {
		t.Error("failed fetch must not be cached")
	}
}

func TestGetOrFetch_InvalidBody(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	c := newTestCache(store, clockwork.NewFakeClock())

	if _, err := c.GetOrFetch(ctx, testURL, false, (&fetchCounter{body: "<html>"}).fetch); err == nil {
		t.Error("expected decode error")
	}
	if store.Len() != 0 {
		t.Error("undecodable body must not be cached")
	}
}

func TestGetOrFetch_NonStringFields(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(kv.NewMemory(), clockwork.NewFakeClock())

	for _, body := range []string{
		`{"name":7,"description":{"a":1}}`,
		`["react"]`,
		`"react"`,
	} {
		got, err := c.GetOrFetch(ctx, testURL, true, (&fetchCounter{body: body}).fetch)
		if err != nil {
			t.Fatalf("GetOrFetch(%s) error: %v", body, err)
		}
		if got.Name != "" || got.Description != "" {
			t.Errorf("GetOrFetch(%s) = %+v, want empty fields", body, got.Payload)
		}
	}
}

func TestGetOrFetch_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	c := newTestCache(store, clockwork.NewFakeClock())
	_ = store.Set(ctx, c.Key(testURL), []byte("not json"))

	f := &fetchCounter{body: `{"name":"react","description":"fixed"}`}
	got, err := c.GetOrFetch(ctx, testURL, false, f.fetch)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hit || got.Description != "fixed" || f.calls != 1 {
		t.Errorf("corrupt entry should be a miss, got %+v (calls=%d)", got, f.calls)
	}
}

type failingStore struct{ kv.Store }

func (failingStore) Set(context.Context, string, []byte) error { return errors.New("disk full") }

func TestGetOrFetch_StoreWriteFailure(t *testing.T) {
	c := newTestCache(failingStore{kv.NewMemory()}, clockwork.NewFakeClock())

	got, err := c.GetOrFetch(context.Background(), testURL, false, (&fetchCounter{body: `{"name":"react"}`}).fetch)
	if err != nil {
		t.Fatalf("store write failure should not fail the lookup: %v", err)
	}
	if got.Name != "react" {
		t.Errorf("Name = %q", got.Name)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	c := newTestCache(store, clockwork.NewFakeClock())
	_ = store.Set(ctx, "other:key", []byte("x"))

	for _, u := range []string{"https://r/a", "https://r/b"} {
		_, _ = c.GetOrFetch(ctx, u, false, (&fetchCounter{body: `{}`}).fetch)
	}

	n, err := c.Clear(ctx)
	if err != nil || n != 2 {
		t.Errorf("Clear() = %d, %v; want 2, nil", n, err)
	}
	if store.Len() != 1 {
		t.Errorf("Clear should only remove prefixed keys, %d left", store.Len())
	}
}

func TestEntryFresh(t *testing.T) {
	base := time.UnixMilli(1_000_000)
	e := Entry{Timestamp: base.UnixMilli()}

	tests := []struct {
		age  time.Duration
		want bool
	}{
		{0, true},
		{time.Hour, true},
		{DefaultTTL - time.Millisecond, true},
		{DefaultTTL, false},
		{DefaultTTL + time.Hour, false},
	}
	for _, tt := range tests {
		if got := e.Fresh(base.Add(tt.age), DefaultTTL); got != tt.want {
			t.Errorf("Fresh(age=%v) = %v, want %v", tt.age, got, tt.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New(nil)
	if c.TTL() != DefaultTTL {
		t.Errorf("TTL = %v", c.TTL())
	}
	if c.Key("u") != "fetch-with-cache:u" {
		t.Errorf("Key = %q", c.Key("u"))
	}
	if New(nil, WithTTL(-1)).TTL() != DefaultTTL {
		t.Error("non-positive TTL should be ignored")
	}
	if New(nil, WithPrefix("p:")).Key("u") != "p:u" {
		t.Error("WithPrefix not applied")
	}
}

package registry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"

	"github.com/matzehuels/depscan/pkg/cache"
	"github.com/matzehuels/depscan/pkg/errors"
	"github.com/matzehuels/depscan/pkg/kv"
	"github.com/matzehuels/depscan/pkg/manifest"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *kv.Memory) {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	store := kv.NewMemory()
	c := cache.New(store, cache.WithClock(clockwork.NewFakeClock()), cache.WithLogger(log.New(io.Discard)))
	return NewClient(c, WithBaseURL(server.URL), WithHTTPClient(server.Client())), store
}

func req(name string) manifest.Request {
	return manifest.Request{Name: name, Kind: manifest.KindDependency}
}

func TestLookup_Success(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/react" {
			t.Errorf("path = %q, want /react", r.URL.Path)
		}
		w.Write([]byte(`{"name":"react","description":"A JavaScript library","dist-tags":{"latest":"18.2.0"}}`))
	})

	info, err := client.Lookup(context.Background(), req("react"), true)
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if info.Description != "A JavaScript library" || info.Version != "18.2.0" || info.Cached {
		t.Errorf("Lookup() = %+v", info)
	}
}

func TestLookup_ScopedNameEscaped(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`{"name":"@types/node","dist-tags":{"latest":"20.0.0"}}`))
	})

	if _, err := client.Lookup(context.Background(), req("@types/node"), true); err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if gotPath != "/@types%2Fnode" {
		t.Errorf("request path = %q, want /@types%%2Fnode", gotPath)
	}
	if got := client.URL("@types/node"); !strings.HasSuffix(got, "/@types%2Fnode") {
		t.Errorf("URL() = %q", got)
	}
}

func TestLookup_NotFound(t *testing.T) {
	client, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Not found"}`))
	})

	_, err := client.Lookup(context.Background(), req("this-does-not-exist-xyz"), true)
	if !errors.Is(err, errors.ErrCodePackageNotFound) {
		t.Fatalf("error = %v, want PACKAGE_NOT_FOUND", err)
	}
	if !strings.Contains(errors.UserMessage(err), "this-does-not-exist-xyz") {
		t.Errorf("message %q should name the package", errors.UserMessage(err))
	}
	if store.Len() != 0 {
		t.Error("error responses must not be cached")
	}
}

func TestLookup_ServerErrorIsNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Lookup(context.Background(), req("react"), true)
	if !errors.Is(err, errors.ErrCodePackageNotFound) {
		t.Errorf("error = %v, want PACKAGE_NOT_FOUND for any non-200", err)
	}
}

func TestLookup_DefaultDescription(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"bare","dist-tags":{"latest":"1.0.0"}}`))
	})

	info, err := client.Lookup(context.Background(), req("bare"), true)
	if err != nil {
		t.Fatal(err)
	}
	if info.Description != DefaultDescription {
		t.Errorf("Description = %q, want %q", info.Description, DefaultDescription)
	}
}

func TestLookup_NonStringFieldsUseDefaults(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"numeric description", `{"name":"x","description":42,"dist-tags":{"latest":"1.0.0"}}`},
		{"object description", `{"name":"x","description":{"text":"hi"},"dist-tags":{"latest":"1.0.0"}}`},
		{"array name", `{"name":["x"],"description":null,"dist-tags":{"latest":"1.0.0"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			info, err := client.Lookup(context.Background(), req("x"), true)
			if err != nil {
				t.Fatalf("Lookup() error: %v", err)
			}
			if info.Description != DefaultDescription || info.Version != "1.0.0" {
				t.Errorf("Lookup() = %+v", info)
			}
			if store.Len() != 1 {
				t.Errorf("store has %d entries, want the response cached", store.Len())
			}
		})
	}
}

func TestLookup_CacheHitHasNoVersion(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"name":"lodash","description":"Lodash modular utilities.","dist-tags":{"latest":"4.17.21"}}`))
	})
	ctx := context.Background()

	first, err := client.Lookup(ctx, req("lodash"), true)
	if err != nil {
		t.Fatal(err)
	}
	second, err := client.Lookup(ctx, req("lodash"), true)
	if err != nil {
		t.Fatal(err)
	}

	if first.Version != "4.17.21" {
		t.Errorf("first Version = %q", first.Version)
	}
	if !second.Cached || second.Version != "" {
		t.Errorf("second = %+v, want cached without version", second)
	}
	if second.Description != first.Description {
		t.Errorf("cached description = %q, want %q", second.Description, first.Description)
	}
	if calls.Load() != 1 {
		t.Errorf("network calls = %d, want 1", calls.Load())
	}
}

func TestLookup_BypassCache(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"name":"react","dist-tags":{"latest":"18.2.0"}}`))
	})
	ctx := context.Background()

	for range 3 {
		info, err := client.Lookup(ctx, req("react"), false)
		if err != nil {
			t.Fatal(err)
		}
		if info.Cached || info.Version != "18.2.0" {
			t.Errorf("bypass lookup = %+v", info)
		}
	}
	if calls.Load() != 3 {
		t.Errorf("network calls = %d, want 3", calls.Load())
	}

	// The bypassed writes still refresh the cache.
	info, _ := client.Lookup(ctx, req("react"), true)
	if !info.Cached {
		t.Error("entry written by a bypassed lookup should be readable")
	}
}

func TestLookup_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := server.URL
	server.Close()

	client := NewClient(cache.New(kv.NewMemory()), WithBaseURL(base))
	_, err := client.Lookup(context.Background(), req("react"), true)
	if !errors.Is(err, errors.ErrCodeNetwork) {
		t.Fatalf("error = %v, want NETWORK_ERROR", err)
	}
	if !strings.Contains(errors.UserMessage(err), "react") {
		t.Errorf("message %q should name the package", errors.UserMessage(err))
	}
}

func TestLookup_InvalidJSON(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>oops</html>`))
	})

	_, err := client.Lookup(context.Background(), req("react"), true)
	if !errors.Is(err, errors.ErrCodeNetwork) {
		t.Errorf("error = %v, want NETWORK_ERROR", err)
	}
}

func TestLookup_InvalidName(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := client.Lookup(context.Background(), req("../etc/passwd"), true)
	if !errors.Is(err, errors.ErrCodePackageNotFound) {
		t.Errorf("error = %v, want PACKAGE_NOT_FOUND", err)
	}
	if calls.Load() != 0 {
		t.Error("invalid names should not reach the network")
	}
}

func TestLookup_Headers(t *testing.T) {
	var ua string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(cache.New(nil), WithBaseURL(server.URL+"/"), WithHeaders(map[string]string{"User-Agent": "depscan/test"}))
	if _, err := client.Lookup(context.Background(), req("x"), true); err != nil {
		t.Fatal(err)
	}
	if ua != "depscan/test" {
		t.Errorf("User-Agent = %q", ua)
	}
	if client.BaseURL() != server.URL {
		t.Errorf("BaseURL() = %q, trailing slash should be trimmed", client.BaseURL())
	}
}

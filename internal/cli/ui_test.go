package cli

import (
	"strings"
	"testing"

	"github.com/matzehuels/depscan/pkg/lookup"
	"github.com/matzehuels/depscan/pkg/manifest"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 0, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 6, "hello…"},
		{"héllo wörld", 4, "hél…"},
		{"abc", 1, "…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestStatusIcon(t *testing.T) {
	if got := statusIcon(lookup.Result{Status: lookup.StatusPending}); got != iconPending {
		t.Errorf("pending icon = %q", got)
	}
	if got := statusIcon(lookup.Result{Status: lookup.StatusError}); got != iconError {
		t.Errorf("error icon = %q", got)
	}
	if got := statusIcon(lookup.Result{Status: lookup.StatusLoaded}); got != iconSuccess {
		t.Errorf("loaded icon = %q", got)
	}
}

func TestSummaryLine(t *testing.T) {
	no := false
	results := []lookup.Result{
		{Name: "a", Status: lookup.StatusLoaded, Cached: true},
		{Name: "b", Status: lookup.StatusError},
		{Name: "c", Status: lookup.StatusLoaded, Satisfies: &no},
	}
	got := summaryLine(results)
	for _, want := range []string{"3 packages", "1 errors", "1 outside range", "1 cached"} {
		if !strings.Contains(got, want) {
			t.Errorf("summaryLine() = %q, missing %q", got, want)
		}
	}
	if got := summaryLine(results[2:]); !strings.Contains(got, iconFresh) {
		t.Errorf("summaryLine() without cache hits = %q, want %q", got, iconFresh)
	}
}

func TestResultsTable(t *testing.T) {
	results := []lookup.Result{
		{Name: "react", Kind: manifest.KindDependency, Specifier: "^18.2.0", Version: "18.2.0", Description: "UI library", Status: lookup.StatusLoaded},
		{Name: "vite", Kind: manifest.KindDevDependency, Description: lookup.LoadingDescription, Status: lookup.StatusPending},
	}
	out := resultsTable(results, 0, 0).Render()
	for _, want := range []string{"Package", "react", "^18.2.0", "devDependencies", "Loading...", "—"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

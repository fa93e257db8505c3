package lookup

import (
	"slices"

	"github.com/matzehuels/depscan/pkg/errors"
	"github.com/matzehuels/depscan/pkg/fuzzy"
	"github.com/matzehuels/depscan/pkg/manifest"
)

// Status is the lifecycle state of a single result row.
type Status string

const (
	StatusPending Status = "pending"
	StatusLoaded  Status = "loaded"
	StatusError   Status = "error"
)

// Phase is the lifecycle state of a submission.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhasePending    Phase = "pending"
	PhaseSettled    Phase = "settled"
)

// LoadingDescription is shown for rows whose lookup has not finished.
const LoadingDescription = "Loading..."

// Result is one row of the results table.
type Result struct {
	Name        string        `json:"name"`
	Kind        manifest.Kind `json:"kind"`
	Specifier   string        `json:"specifier,omitempty"`
	Description string        `json:"description"`
	Version     string        `json:"version,omitempty"`
	Status      Status        `json:"status"`
	Cached      bool          `json:"cached,omitempty"`
	Err         string        `json:"error,omitempty"`
	Code        errors.Code   `json:"code,omitempty"`
	// Satisfies reports whether Version is inside the Specifier range.
	// Nil when either is missing or unparsable.
	Satisfies *bool `json:"satisfies,omitempty"`
}

// SearchFields makes results filterable by name and description.
func (r Result) SearchFields() []string {
	return []string{r.Name, r.Description}
}

// Settled reports whether the lookup finished.
func (r Result) Settled() bool { return r.Status != StatusPending }

func pendingResult(req manifest.Request) Result {
	return Result{
		Name:        req.Name,
		Kind:        req.Kind,
		Specifier:   req.Specifier,
		Description: LoadingDescription,
		Status:      StatusPending,
	}
}

// Snapshot is a consistent copy of the orchestrator state.
type Snapshot struct {
	Input        string   `json:"input"`
	Loading      bool     `json:"loading"`
	Phase        Phase    `json:"phase"`
	Generation   uint64   `json:"generation"`
	SubmissionID string   `json:"submissionId,omitempty"`
	Results      []Result `json:"results"`
	Search       string   `json:"search"`
	UseCache     bool     `json:"useCache"`
	Err          string   `json:"error,omitempty"`

	// Revision increases with every state change.
	Revision uint64 `json:"revision"`
}

// Filtered applies the current search query to all results.
func (s Snapshot) Filtered() []Result {
	return fuzzy.Filter(s.Results, s.Search)
}

// FilteredKind applies the search query to the results of one kind. An
// empty kind means all results.
func (s Snapshot) FilteredKind(kind manifest.Kind) []Result {
	return fuzzy.Filter(s.ByKind(kind), s.Search)
}

// ByKind returns the results of one kind in submission order.
func (s Snapshot) ByKind(kind manifest.Kind) []Result {
	if kind == "" {
		return s.Results
	}
	var out []Result
	for _, r := range s.Results {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Counts tallies results for tab headers.
type Counts struct {
	All             int `json:"all"`
	Dependencies    int `json:"dependencies"`
	DevDependencies int `json:"devDependencies"`
	Pending         int `json:"pending"`
	Errors          int `json:"errors"`
}

// Counts tallies the results by kind and status.
func (s Snapshot) Counts() Counts {
	c := Counts{All: len(s.Results)}
	for _, r := range s.Results {
		switch r.Kind {
		case manifest.KindDevDependency:
			c.DevDependencies++
		default:
			c.Dependencies++
		}
		switch r.Status {
		case StatusPending:
			c.Pending++
		case StatusError:
			c.Errors++
		}
	}
	return c
}

func (s Snapshot) clone() Snapshot {
	s.Results = slices.Clone(s.Results)
	return s
}

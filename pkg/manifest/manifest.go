package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Kind tags a request with the manifest group it came from.
type Kind string

const (
	KindDependency    Kind = "dependency"
	KindDevDependency Kind = "devDependency"
)

// Label returns the human-readable group name used in tables and tabs.
func (k Kind) Label() string {
	switch k {
	case KindDevDependency:
		return "devDependencies"
	default:
		return "dependencies"
	}
}

// ParseKind accepts the names users type for a group. An empty string or
// "all" yields the empty Kind, meaning no filter.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return "", nil
	case "dependency", "dependencies", "dep", "deps", "prod":
		return KindDependency, nil
	case "devdependency", "devdependencies", "dev":
		return KindDevDependency, nil
	}
	return "", fmt.Errorf("unknown dependency kind %q (use all, dependency or devDependency)", s)
}

// Request is a normalized package name queued for registry lookup.
type Request struct {
	Name      string `json:"name"`
	Kind      Kind   `json:"kind"`
	Specifier string `json:"specifier,omitempty"` // version range from package.json; empty for free text
}

// Manifest is the tagged result of [Parse]. It is either a [Structured]
// package.json document or a [FreeText] list of names; callers that need
// the distinction use a type switch.
type Manifest interface {
	// Requests returns the ordered, de-duplicated lookup requests.
	Requests() []Request
	isManifest()
}

// Entry is one name → specifier pair from a structured manifest group.
type Entry struct {
	Name      string
	Specifier string
}

// Structured is a parsed package.json. Entries keep the key order of the
// source document.
type Structured struct {
	Name            string
	Version         string
	Dependencies    []Entry
	DevDependencies []Entry
}

func (Structured) isManifest() {}

// Requests emits dependencies first, then devDependencies.
func (s Structured) Requests() []Request {
	reqs := make([]Request, 0, len(s.Dependencies)+len(s.DevDependencies))
	for _, e := range s.Dependencies {
		reqs = append(reqs, Request{Name: e.Name, Kind: KindDependency, Specifier: e.Specifier})
	}
	for _, e := range s.DevDependencies {
		reqs = append(reqs, Request{Name: e.Name, Kind: KindDevDependency, Specifier: e.Specifier})
	}
	return dedupe(reqs)
}

// FreeText is a whitespace/comma separated list of package names.
type FreeText struct {
	Tokens []string
}

func (FreeText) isManifest() {}

// Requests emits one dependency request per token.
func (f FreeText) Requests() []Request {
	reqs := make([]Request, 0, len(f.Tokens))
	for _, t := range f.Tokens {
		reqs = append(reqs, Request{Name: t, Kind: KindDependency})
	}
	return dedupe(reqs)
}

// Parse classifies raw pasted text. A JSON object is read as a package.json.
// Any other JSON value (array, string, number, true, false, null) and text
// that opens like JSON ('{' or '[') but does not parse yield an empty
// [Structured] manifest. Everything else is tokenized as [FreeText].
// Parse never fails.
func Parse(text string) Manifest {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return FreeText{}
	}
	data := []byte(trimmed)
	if json.Valid(data) {
		if trimmed[0] != '{' {
			return Structured{}
		}
		s, err := parseStructured(data)
		if err != nil {
			return Structured{}
		}
		return s
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return Structured{}
	}
	return FreeText{Tokens: tokenize(trimmed)}
}

// Requests is shorthand for Parse(text).Requests().
func Requests(text string) []Request {
	return Parse(text).Requests()
}

func parseStructured(data []byte) (Structured, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Structured{}, err
	}

	var s Structured
	_ = json.Unmarshal(top["name"], &s.Name)
	_ = json.Unmarshal(top["version"], &s.Version)

	var err error
	if s.Dependencies, err = orderedEntries(top["dependencies"]); err != nil {
		return Structured{}, err
	}
	if s.DevDependencies, err = orderedEntries(top["devDependencies"]); err != nil {
		return Structured{}, err
	}
	return s, nil
}

// orderedEntries streams a JSON object so that entries keep document order,
// which a Go map would lose. Values that are not objects are ignored.
func orderedEntries(raw json.RawMessage) ([]Entry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil
	}

	var entries []Entry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)

		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, err
		}
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		entries = append(entries, Entry{Name: name, Specifier: specifier(val)})
	}
	return entries, nil
}

// specifier returns string values unquoted and anything else as its
// compact JSON literal (e.g. 1, true, {"a":1}).
func specifier(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(bytes.TrimSpace(raw))
	}
	return buf.String()
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

// dedupe keeps each name at the position of its first appearance while the
// last occurrence's kind and specifier win.
func dedupe(reqs []Request) []Request {
	index := make(map[string]int, len(reqs))
	out := make([]Request, 0, len(reqs))
	for _, r := range reqs {
		if i, ok := index[r.Name]; ok {
			out[i] = r
			continue
		}
		index[r.Name] = len(out)
		out = append(out, r)
	}
	return out
}

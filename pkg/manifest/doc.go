// Package manifest turns pasted text into an ordered list of package lookups.
//
// # Overview
//
// Input is either a package.json document or a free-form list of names:
//
//	{"dependencies": {"react": "^18.2.0"}, "devDependencies": {"vite": "^5.0.0"}}
//
//	react, react-dom lodash
//
// [Parse] returns a [Manifest], which is a [Structured] or a [FreeText]
// value. Both expose [Manifest.Requests], the list the lookup orchestrator
// dispatches.
//
// # Ordering
//
// Structured manifests emit dependencies before devDependencies, each group
// in document order. Free text keeps token order. Repeated names collapse to
// one request at the position of their first appearance; the last
// occurrence decides the kind and specifier.
//
// # Edge Cases
//
//   - Blank input and "{}" both produce zero requests.
//   - Arrays or malformed JSON produce zero requests instead of garbage names.
//   - Non-string version values are kept as their JSON literal.
package manifest

// Package pkg provides the core libraries for depscan.
//
// # Overview
//
// depscan takes a package.json (or any whitespace-separated list of npm
// package names), looks every package up in the registry concurrently and
// keeps a table of results that front ends render and filter.
//
// # Architecture
//
// The data flow through depscan:
//
//	package.json / free text
//	         ↓
//	    [manifest] (parse into lookup requests)
//	         ↓
//	    [lookup] (one concurrent lookup per request, generation-checked state)
//	         ↓
//	    [registry] (GET <registry>/<name>)
//	         ↓
//	    [cache] (24h TTL entries) on a [kv] store (file, memory, Redis, MongoDB)
//
// # Quick Start
//
//	store, _ := kv.NewFile(dir)
//	client := registry.NewClient(cache.New(store))
//	orch := lookup.New(client)
//
//	if err := orch.Submit(ctx, packageJSON); err != nil {
//	    // EMPTY_INPUT or NO_DEPENDENCIES_FOUND
//	}
//	for _, r := range orch.Filtered() {
//	    fmt.Println(r.Name, r.Version, r.Description)
//	}
//
// # Main Packages
//
// [manifest] - Input parsing. Valid JSON objects are read as package.json
// (dependencies and devDependencies in document order); anything else is
// split on whitespace.
//
// [lookup] - The orchestrator: submissions, per-row status, generation
// counter, search query and cache toggle. Observers receive a snapshot after
// every change.
//
// [registry] - npm registry client. Every failure is tied to a package name
// and classified as PACKAGE_NOT_FOUND or NETWORK_ERROR.
//
// [cache] - Fetch-with-cache on top of a [kv] store. Entries are keyed by URL
// and expire after [cache.DefaultTTL].
//
// [kv] - Byte-oriented key/value stores: File (CLI default), Memory, Redis,
// MongoDB and Null.
//
// [fuzzy] - Bitap approximate matching used to filter results by name and
// description.
//
// [config] - Settings from defaults, TOML file and DEPSCAN_* environment.
//
// [observability] - Hook interfaces for lookups, cache and HTTP events, with
// a Prometheus implementation.
//
// [errors] - Coded errors shared by all packages.
//
// # Testing
//
// Run tests:
//
//	go test ./...                        # All tests
//	go test -tags integration ./pkg/kv/  # Include Redis and MongoDB tests
package pkg

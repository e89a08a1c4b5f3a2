// Package dag loads step dependency definitions and builds the validated,
// immutable dependency graph the rest of the engine runs against.
//
// ARCHITECTURE:
//
// Definition loading:
// A definition document is a YAML file mapping step URIs to lists of
// dependency URIs, plus an optional include list naming further documents.
// Includes resolve relative to the including file and merge depth-first;
// each file is loaded once, include cycles are rejected. Dependency lists
// for a step declared in several files merge by union, so a later file can
// add dependencies to an existing step. A step key repeated within a single
// document is a conflicting redeclaration and fails loading.
//
// Document shape is checked against an embedded CUE schema before any
// semantic work, so malformed documents fail with positioned messages
// rather than partial graphs.
//
// Graph construction:
// Build parses every URI, resolves every dependency reference, rejects
// references to undeclared steps, auto-declares external-channel stubs,
// and rejects cycles with the full cycle path. The resulting Graph is
// immutable and safe for concurrent reads; there is no package-level
// graph, callers pass the value to whatever needs it.
//
// Determinism:
// All adjacency lists are sorted by step URI and the topological order
// breaks ties lexically, so the same definitions produce the same order
// in every process.
package dag

// Package arbor is an incremental build pipeline for languages defined by
// tree-sitter grammars and constraint-based analysis scripts.
//
// # Pipeline
//
// A [Builder] receives batches of resource changes. Each [Builder.Build]:
//
//  1. Classifies the changes: ignored directories are skipped, dialect
//     descriptors (*.dialect by default) register dialects of a base
//     language, and every other resource is identified by extension.
//  2. Parses the added and modified resources with tree-sitter into term
//     ASTs. Deleted resources become empty parse units so later stages can
//     evict their state.
//  3. Groups the parse units by analysis context. A context holds the
//     per-file analysis state of one language below one project location.
//  4. Per context, under the context's lock, runs the constraint-based
//     analyzer (Initial, Unit, Solve and Final phases, name resolution over
//     a scope graph, unification and an optional dataflow fixpoint) and then
//     transforms every successfully analyzed file.
//
// Failures stay local: a file that does not parse or analyze only fails
// that file, a broken context only that context. All of them end up as
// diagnostics in the [BuildOutput].
//
// # Usage
//
//	b, err := arbor.New(".arbor/arbor.db", "scripts")
//	if err != nil { ... }
//	defer b.Close()
//
//	changes, err := b.Sources(ctx, "path/to/project")
//	out, err := b.Build(ctx, "path/to/project", changes)
//	for _, m := range out.AllMessages() {
//		fmt.Println(m)
//	}
//
// Results, diagnostics and the build log are persisted in SQLite and can be
// read back with [Builder.Query].
//
// # Scripts
//
// Language-specific logic lives in Risor scripts under the scripts
// directory:
//
//   - analysis/{language}.risor: the Initial, Unit and Final actions
//   - analysis/{language}_custom.risor: optional custom actions
//   - flow/{language}.risor: optional dataflow transfer functions
//   - transform/{language}.risor: the transform backend
//
// Scripts return their result with emit(value). See the internal/runtime
// package for the globals exposed to scripts.
package arbor

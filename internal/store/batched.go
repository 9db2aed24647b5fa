package store

import (
	"database/sql"
	"sync"
)

// BatchedStore buffers cache writes in memory and applies them, in order,
// in a single transaction on CommitBatch. A context's analysis results are
// published this way so readers never observe half of a context's batch.
//
// Thread safety: the mutex protects the pending operation list.
type BatchedStore struct {
	store *Store
	mu    sync.Mutex
	ops   []func(tx *sql.Tx) error
}

// Compile-time check: *BatchedStore satisfies DataStore.
var _ DataStore = (*BatchedStore)(nil)

// NewBatchedStore creates a BatchedStore committing into s.
func NewBatchedStore(s *Store) *BatchedStore {
	return &BatchedStore{store: s}
}

func (b *BatchedStore) add(op func(tx *sql.Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, op)
	return nil
}

// Len returns the number of pending operations.
func (b *BatchedStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ops)
}

func (b *BatchedStore) PutParse(rec *ParseRecord) error {
	r := *rec
	return b.add(func(tx *sql.Tx) error { return putParseTx(tx, &r) })
}

func (b *BatchedStore) SetParseState(path string, state State, errText string) error {
	return b.add(func(tx *sql.Tx) error { return setStateTx(tx, "parse_results", path, state, errText) })
}

func (b *BatchedStore) RemoveParse(path string) error {
	return b.add(func(tx *sql.Tx) error { return removeResultTx(tx, "parse_results", path) })
}

func (b *BatchedStore) PutAnalysis(rec *AnalysisRecord) error {
	r := *rec
	return b.add(func(tx *sql.Tx) error { return putAnalysisTx(tx, &r) })
}

func (b *BatchedStore) SetAnalysisState(path string, state State, errText string) error {
	return b.add(func(tx *sql.Tx) error { return setStateTx(tx, "analysis_results", path, state, errText) })
}

func (b *BatchedStore) RemoveAnalysis(path string) error {
	return b.add(func(tx *sql.Tx) error { return removeResultTx(tx, "analysis_results", path) })
}

func (b *BatchedStore) ReplaceDiagnostics(path string, stage Stage, buildID string, ds []Diagnostic) error {
	cp := append([]Diagnostic(nil), ds...)
	return b.add(func(tx *sql.Tx) error { return replaceDiagnosticsTx(tx, path, stage, buildID, cp) })
}

func (b *BatchedStore) DeleteFileData(path string) error {
	return b.add(func(tx *sql.Tx) error { return deleteFileTx(tx, path) })
}

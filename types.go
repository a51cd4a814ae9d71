package impls

import "github.com/jward/impls/internal/store"

// Public type aliases for internal store types used in the QueryBuilder API.

type Store = store.Store
type File = store.File
type Directive = store.Directive
type Run = store.Run
type Verdict = store.Verdict
type Violation = store.Violation
type Failure = store.Failure
type HistoryEntry = store.HistoryEntry

// Directive kinds.
const (
	KindAssert = store.KindAssert
	KindConst  = store.KindConst
)

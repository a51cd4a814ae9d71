// Package impls decides whether a Go type satisfies a boolean expression
// over capabilities, where a capability is an interface type:
//
//	io.Reader & !io.Writer | (fmt.Stringer ^ Container[int])
//
// Precedence from tightest to loosest is "!", "&", "^", "|". Binary
// operators are left-associative and parentheses group.
//
// # Probing
//
// An expression is evaluated against one subject type through a [Prober].
// Two probers are provided:
//
//   - [Checker] resolves names with go/types inside a type-checked package,
//     at any position in its source. It answers at build time with the
//     compiler's own method-set rules.
//   - [Registry] probes a reflect.Type against interfaces registered by
//     name. [Implements] uses the [Default] registry:
//
//     ok, err := impls.Implements[*bytes.Buffer]("io.Reader & !io.Closer")
//
// # Directives
//
// Source files declare expectations in comments that the [Engine] indexes,
// evaluates and records:
//
//	//impls:assert *Cache: io.Closer & !io.Writer
//	//impls:const cacheIsStringer *Cache: fmt.Stringer
//
// An assert fails the check when it does not hold. A const makes
// [Engine.Generate] write "const cacheIsStringer = true" (or false) into
// the package's impls_gen.go.
//
// # Usage
//
//	e, err := impls.New(".impls/index.db")
//	if err != nil { ... }
//	defer e.Close()
//
//	report, err := e.Check(ctx, ".")
//	if err != nil { ... }
//	if !report.OK() { ... }
//
// [Engine.IndexDirectory] skips unchanged files via content hashing. Every
// check is stored as a run; [QueryBuilder] reads directives, verdicts,
// failures and rule violations back out of the index.
//
// # Rules
//
// Risor scripts in the rules directory run after each check. They can ask
// capability questions about any package under the root and report
// violations. See the internal/runtime package for the globals exposed to
// rules.
package impls

// Package rules holds the Risor library that rule scripts can import.
package rules

import "embed"

// FS contains policy.risor, importable from any rule script as
//
//	import policy
//
//go:embed *.risor
var FS embed.FS

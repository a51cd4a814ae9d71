package store

import (
	"crypto/sha256"
	"fmt"
)

// ComputeDirectiveHash computes a deterministic hash from a directive's
// semantic identity: package directory, kind, constant name, subject, and
// expression. Moving a directive within its package does NOT affect the
// hash, so verdict history follows it across re-indexing.
func ComputeDirectiveHash(packageDir, kind, name, subject, expr string) string {
	h := sha256.New()
	fmt.Fprintf(h, "package:%s\n", packageDir)
	fmt.Fprintf(h, "kind:%s\n", kind)
	fmt.Fprintf(h, "name:%s\n", name)
	fmt.Fprintf(h, "subject:%s\n", subject)
	fmt.Fprintf(h, "expr:%s\n", expr)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ContentHash returns the hex SHA-256 of content, used to skip unchanged files.
func ContentHash(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

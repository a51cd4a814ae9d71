package impls

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jward/impls/internal/logging"
)

// benchGoSource is a realistic Go file with interfaces, methods and a
// directive per type for exercising the extraction pipeline.
const benchGoSource = `package bench

import (
	"fmt"
	"io"
	"strings"
)

// Logger defines a logging interface.
type Logger interface {
	Log(msg string)
	Logf(format string, args ...interface{})
}

// Config holds application configuration.
//
//impls:assert *Config: fmt.Stringer & !Logger
type Config struct {
	Name     string
	Debug    bool
	MaxRetry int
	Tags     []string
}

// String returns a human-readable representation.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Name: %s, Debug: %v}", c.Name, c.Debug)
}

// StdoutLogger implements Logger by writing to stdout.
//
//impls:assert *StdoutLogger: Logger & !io.Writer
//impls:const stdoutIsStringer *StdoutLogger: fmt.Stringer
type StdoutLogger struct {
	Prefix string
}

// Log writes a plain message.
func (l *StdoutLogger) Log(msg string) {
	fmt.Printf("[%s] %s\n", l.Prefix, msg)
}

// Logf writes a formatted message.
func (l *StdoutLogger) Logf(format string, args ...interface{}) {
	l.Log(fmt.Sprintf(format, args...))
}

// CountWords returns the number of words in s.
func CountWords(s string) int {
	//impls:assert *strings.Builder: io.Writer & fmt.Stringer & !io.Closer
	return len(strings.Fields(s))
}
`

// BenchmarkIndexFiles measures extraction of a single file into a fresh
// index.
func BenchmarkIndexFiles(b *testing.B) {
	ctx := context.Background()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		dir := b.TempDir()
		e, err := New(filepath.Join(dir, "bench.db"), WithLogger(logging.NewNop()))
		if err != nil {
			b.Fatal(err)
		}
		srcPath := filepath.Join(dir, "bench.go")
		if err := os.WriteFile(srcPath, []byte(benchGoSource), 0o644); err != nil {
			e.Close()
			b.Fatal(err)
		}
		b.StartTimer()

		if err := e.IndexFiles(ctx, []string{srcPath}); err != nil {
			e.Close()
			b.Fatal(err)
		}

		b.StopTimer()
		e.Close()
		b.StartTimer()
	}
}

func BenchmarkParse(b *testing.B) {
	const src = "io.Reader & !io.Writer | (fmt.Stringer ^ Container[int, map[string]bool]) & !!io.Closer"
	for i := 0; i < b.N; i++ {
		if _, err := Parse(src); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRegistryEval(b *testing.B) {
	t := reflect.TypeFor[*bytes.Buffer]()
	const src = "io.Reader & io.Writer & !io.Closer | (fmt.Stringer ^ io.Seeker)"
	for i := 0; i < b.N; i++ {
		if _, err := Default.Eval(t, src); err != nil {
			b.Fatal(err)
		}
	}
}

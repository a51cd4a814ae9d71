package impls

import (
	"context"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"sort"
	"sync"
)

// Capability resolution errors. Probers wrap these so callers can tell an
// ill-formed reference from an unsatisfied one.
var (
	ErrUnknownCapability = errors.New("unknown capability")
	ErrNotInterface      = errors.New("capability is not an interface")
	ErrNotType           = errors.New("expression does not denote a type")
	ErrNotInstantiated   = errors.New("generic type used without type arguments")
)

// Registry maps capability references to interface types for probing
// reflect.Type values. It is the run-time counterpart of Checker for code
// that only holds a reflect.Type: answers are still decided by the Go
// method-set rules, but at program start instead of at build time.
//
// A Registry is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]reflect.Type
}

// NewRegistry returns an empty Registry. The built-in capabilities "any"
// and "comparable" are always available.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]reflect.Type)}
}

// Register binds name to the interface type iface. The name must parse as
// a single capability reference, e.g. "io.Reader" or "Set[int]".
func (r *Registry) Register(name string, iface reflect.Type) error {
	if iface == nil || iface.Kind() != reflect.Interface {
		return fmt.Errorf("impls: register %s: %w", name, ErrNotInterface)
	}
	key, err := canonicalCapName(name)
	if err != nil {
		return fmt.Errorf("impls: register %s: %w", name, err)
	}
	if key == "any" || key == "comparable" {
		return fmt.Errorf("impls: register %s: built-in capability", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.caps[key]; ok && prev != iface {
		return fmt.Errorf("impls: register %s: already bound to %s", name, prev)
	}
	r.caps[key] = iface
	return nil
}

// RegisterInterface registers the interface type I under name.
func RegisterInterface[I any](r *Registry, name string) error {
	return r.Register(name, reflect.TypeFor[I]())
}

// Lookup returns the interface bound to ref.
func (r *Registry) Lookup(ref CapRef) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.caps[ref.String()]
	return t, ok
}

// Names returns the registered capability names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prober returns a Prober with t as the subject type. A nil t yields a
// Prober that fails every probe.
func (r *Registry) Prober(t reflect.Type) Prober {
	return ProberFunc(func(ref CapRef) (bool, error) {
		if t == nil {
			return false, errNilSubject
		}
		if len(ref.Args) == 0 {
			switch ref.Name {
			case "any", "interface{}":
				return true, nil
			case "comparable":
				return t.Comparable(), nil
			}
		}
		iface, ok := r.Lookup(ref)
		if !ok {
			return false, fmt.Errorf("%s: %w", ref, ErrUnknownCapability)
		}
		return t.Implements(iface), nil
	})
}

var errNilSubject = errors.New("impls: nil subject type")

// Eval parses src and evaluates it with t as the subject type.
func (r *Registry) Eval(t reflect.Type, src string) (bool, error) {
	if t == nil {
		return false, errNilSubject
	}
	return Evaluate(Memo(r.Prober(t)), src)
}

// canonicalCapName normalises a capability name to the key used by Lookup.
func canonicalCapName(name string) (string, error) {
	e, err := Parse(name)
	if err != nil {
		return "", err
	}
	leaf, ok := e.(Leaf)
	if !ok {
		return "", fmt.Errorf("%q is an expression, not a capability name", name)
	}
	return leaf.Ref.String(), nil
}

// Default is the package-level Registry used by Implements. It knows the
// common standard library interfaces under their qualified names.
var Default = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	for name, t := range map[string]reflect.Type{
		"error":                      reflect.TypeFor[error](),
		"fmt.Stringer":               reflect.TypeFor[fmt.Stringer](),
		"fmt.GoStringer":             reflect.TypeFor[fmt.GoStringer](),
		"fmt.Formatter":              reflect.TypeFor[fmt.Formatter](),
		"io.Reader":                  reflect.TypeFor[io.Reader](),
		"io.Writer":                  reflect.TypeFor[io.Writer](),
		"io.Closer":                  reflect.TypeFor[io.Closer](),
		"io.ReadWriter":              reflect.TypeFor[io.ReadWriter](),
		"io.ReadCloser":              reflect.TypeFor[io.ReadCloser](),
		"io.WriteCloser":             reflect.TypeFor[io.WriteCloser](),
		"io.ReadWriteCloser":         reflect.TypeFor[io.ReadWriteCloser](),
		"io.ReaderAt":                reflect.TypeFor[io.ReaderAt](),
		"io.WriterTo":                reflect.TypeFor[io.WriterTo](),
		"io.ReaderFrom":              reflect.TypeFor[io.ReaderFrom](),
		"io.Seeker":                  reflect.TypeFor[io.Seeker](),
		"io.ByteReader":              reflect.TypeFor[io.ByteReader](),
		"io.ByteWriter":              reflect.TypeFor[io.ByteWriter](),
		"io.StringWriter":            reflect.TypeFor[io.StringWriter](),
		"encoding.TextMarshaler":     reflect.TypeFor[encoding.TextMarshaler](),
		"encoding.TextUnmarshaler":   reflect.TypeFor[encoding.TextUnmarshaler](),
		"encoding.BinaryMarshaler":   reflect.TypeFor[encoding.BinaryMarshaler](),
		"encoding.BinaryUnmarshaler": reflect.TypeFor[encoding.BinaryUnmarshaler](),
		"json.Marshaler":             reflect.TypeFor[json.Marshaler](),
		"json.Unmarshaler":           reflect.TypeFor[json.Unmarshaler](),
		"sort.Interface":             reflect.TypeFor[sort.Interface](),
		"context.Context":            reflect.TypeFor[context.Context](),
		"net.Conn":                   reflect.TypeFor[net.Conn](),
		"net.Error":                  reflect.TypeFor[net.Error](),
		"http.Handler":               reflect.TypeFor[http.Handler](),
		"http.ResponseWriter":        reflect.TypeFor[http.ResponseWriter](),
		"http.Flusher":               reflect.TypeFor[http.Flusher](),
	} {
		if err := r.Register(name, t); err != nil {
			panic(err)
		}
	}
	return r
}

// Implements reports whether T satisfies the capability expression src,
// resolving names against Default.
//
//	ok, err := impls.Implements[*bytes.Buffer]("io.Reader & io.Writer & !io.Closer")
func Implements[T any](src string) (bool, error) {
	return Default.Eval(reflect.TypeFor[T](), src)
}

// Must returns ok and panics if err is non-nil. It is meant for
// package-level variables:
//
//	var bufferIsCloser = impls.Must(impls.Implements[*bytes.Buffer]("io.Closer"))
func Must(ok bool, err error) bool {
	if err != nil {
		panic(err)
	}
	return ok
}

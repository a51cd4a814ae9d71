package generics

type Container[T any] interface {
	Get() T
}

//impls:assert Pair[int]: Container[int] & !Container[string]
//impls:assert Pair[string]: Container
type Pair[T any] struct {
	First  T
	Second T
}

func (p Pair[T]) Get() T {
	return p.First
}

func NewPair[T any](a, b T) Pair[T] {
	return Pair[T]{First: a, Second: b}
}

func Map[T any, U any](items []T, fn func(T) U) []U {
	//impls:assert T: any & !comparable
	result := make([]U, len(items))
	for i, v := range items {
		result[i] = fn(v)
	}
	return result
}

package embed

type Reader interface {
	Read(data string) int
}

type Writer interface {
	Write(data string) int
}

type ReadWriter interface {
	Reader
	Writer
}

//impls:assert *MyReader: Reader & !Writer
//impls:assert MyReader: !Reader
type MyReader struct {
	Name string
}

func (r *MyReader) Read(data string) int {
	return len(data)
}

// Read is promoted from the embedded MyReader, but only through a pointer.
//
//impls:assert *MyReadWriter: ReadWriter
//impls:assert MyReadWriter: !Reader & !Writer
//impls:assert *MyReadWriter: Reader ^ Writer
type MyReadWriter struct {
	MyReader
	Tag string
}

func (rw *MyReadWriter) Write(data string) int {
	return len(data)
}

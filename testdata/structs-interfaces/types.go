package types

import "io"

type Config struct {
	Host string
	Port int
}

type Handler interface {
	Handle(req string) (string, error)
	Close() error
}

//impls:assert *Server: Handler & io.Closer
//impls:assert Server: !Handler
//impls:assert Config: !Handler & !io.Closer
//impls:assert *Server: io.Reader
//impls:assert *Server: Config
type Server struct {
	Config
	Name string
}

func (s *Server) Handle(req string) (string, error) {
	return "ok", nil
}

func (s *Server) Close() error {
	return nil
}

func NewServer(name string) *Server {
	return &Server{Name: name}
}

var _ io.Closer = (*Server)(nil)

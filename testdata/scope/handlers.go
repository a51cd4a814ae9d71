package demo

type Response struct {
	Code int
}

func (r *Response) String() string {
	return "response"
}

func HandleA() string {
	type stringer interface{ String() string }
	//impls:assert *Response: stringer
	r := &Response{Code: 200}
	return r.String()
}

func HandleB() string {
	//impls:assert *Response: stringer
	r := &Response{Code: 404}
	return r.String()
}

//impls:assert Response: !interface{ String() string }
var _ = HandleA

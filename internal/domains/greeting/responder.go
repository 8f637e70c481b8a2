package greeting

import "net/http"

// HelloBody is the fixed payload returned for every request.
const HelloBody = "Hello, World!"

// Response is the outbound message built for a single request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Responder maps a request to a response and cannot fail.
type Responder interface {
	Respond(r *http.Request) Response
}

// FallibleResponder is the contract for handlers that can fail. The transport
// turns a returned error into a 500 response.
type FallibleResponder interface {
	Respond(r *http.Request) (Response, error)
}

// ResponderFunc adapts a plain function to Responder.
type ResponderFunc func(r *http.Request) Response

func (f ResponderFunc) Respond(r *http.Request) Response {
	return f(r)
}

// FallibleFunc adapts a plain function to FallibleResponder.
type FallibleFunc func(r *http.Request) (Response, error)

func (f FallibleFunc) Respond(r *http.Request) (Response, error) {
	return f(r)
}

// Infallible lifts a Responder into the fallible contract; the error is always nil.
func Infallible(r Responder) FallibleResponder {
	return FallibleFunc(func(req *http.Request) (Response, error) {
		return r.Respond(req), nil
	})
}

type hello struct{}

// Hello answers every request with 200 and HelloBody, ignoring method, path,
// headers and body.
func Hello() Responder {
	return hello{}
}

func (hello) Respond(_ *http.Request) Response {
	return Response{
		Status: http.StatusOK,
		Body:   []byte(HelloBody),
	}
}

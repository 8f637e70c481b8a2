package httpserver

import "fmt"

// BindError reports that the listener could not bind its address. It is the
// only condition that ends Serve before the accept loop starts.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

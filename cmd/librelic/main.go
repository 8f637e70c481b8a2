// Command librelic is built as a C shared library:
//
//	go build -buildmode=c-shared -o librelic.so ./cmd/librelic
//
// It exports a single symbol, void start_server(void), which starts the
// listener on 127.0.0.1:3000 on a dedicated thread and returns at once. The
// caller receives no handle and no status; probing the port is the only way
// to learn whether the listener came up.
package main

import "C"

import "relic/go-backend/internal/composition/embedded"

//export start_server
func start_server() {
	embedded.StartDetached()
}

// main is required by -buildmode=c-shared and never runs.
func main() {}

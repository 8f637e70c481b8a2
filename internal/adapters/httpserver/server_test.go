package httpserver

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/net/http2"

	"relic/go-backend/internal/domains/greeting"
	"relic/go-backend/internal/platform/metrics"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startOnLoopback serves s on an ephemeral loopback port. The test owns the
// socket and closes it on cleanup, which is what ends the accept loop.
func startOnLoopback(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- s.ServeListener(context.Background(), ln)
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("accept loop did not end after listener close")
		}
	})
	return ln.Addr().String()
}

func echoPath() greeting.Responder {
	return greeting.ResponderFunc(func(r *http.Request) greeting.Response {
		return greeting.Response{Status: http.StatusOK, Body: []byte(r.URL.Path)}
	})
}

func TestServeAnswersEveryRequestWithHello(t *testing.T) {
	addr := startOnLoopback(t, New(greeting.Hello(), Options{Logger: quietLogger()}))
	client := &http.Client{Timeout: 2 * time.Second}

	cases := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/", ""},
		{http.MethodPost, "/submit", "payload"},
		{http.MethodPut, "/x/y?z=1", strings.Repeat("a", 4096)},
		{http.MethodDelete, "/nope", ""},
		{http.MethodPatch, "/", "{}"},
		{http.MethodOptions, "/", ""},
	}
	for _, tc := range cases {
		req, err := http.NewRequest(tc.method, "http://"+addr+tc.path, strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		req.Header.Set("X-Custom", "ignored")
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status for %s %s: %d", tc.method, tc.path, resp.StatusCode)
		}
		if string(body) != greeting.HelloBody {
			t.Fatalf("unexpected body for %s %s: %q", tc.method, tc.path, body)
		}
	}
}

func TestServeHeadRequestHasNoBody(t *testing.T) {
	addr := startOnLoopback(t, New(greeting.Hello(), Options{Logger: quietLogger()}))
	resp, err := http.Head("http://" + addr + "/")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestPipelinedRequestsAnsweredInOrder(t *testing.T) {
	addr := startOnLoopback(t, New(echoPath(), Options{Logger: quietLogger()}))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	const n = 25
	var batch bytes.Buffer
	for i := 0; i < n; i++ {
		fmt.Fprintf(&batch, "GET /req-%d HTTP/1.1\r\nHost: test\r\n\r\n", i)
	}
	if _, err := conn.Write(batch.Bytes()); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	br := bufio.NewReader(conn)
	for i := 0; i < n; i++ {
		resp, err := http.ReadResponse(br, nil)
		if err != nil {
			t.Fatalf("read response %d: %v", i, err)
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if want := fmt.Sprintf("/req-%d", i); string(body) != want {
			t.Fatalf("response %d out of order: got %q want %q", i, body, want)
		}
	}
}

func TestPipelinedHelloReturnsOneResponsePerRequest(t *testing.T) {
	addr := startOnLoopback(t, New(greeting.Hello(), Options{Logger: quietLogger()}))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	const n = 5
	var batch bytes.Buffer
	for i := 0; i < n-1; i++ {
		batch.WriteString("POST / HTTP/1.1\r\nHost: test\r\nContent-Length: 3\r\n\r\nabc")
	}
	batch.WriteString("GET / HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n")
	if _, err := conn.Write(batch.Bytes()); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	br := bufio.NewReader(conn)
	for i := 0; i < n; i++ {
		resp, err := http.ReadResponse(br, nil)
		if err != nil {
			t.Fatalf("read response %d: %v", i, err)
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK || string(body) != greeting.HelloBody {
			t.Fatalf("unexpected response %d: %d %q", i, resp.StatusCode, body)
		}
	}
	if _, err := br.ReadByte(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected connection closed after last response, got %v", err)
	}
}

func TestConcurrentConnectionsDoNotInterfere(t *testing.T) {
	addr := startOnLoopback(t, New(echoPath(), Options{Logger: quietLogger()}))

	const m = 16
	var wg sync.WaitGroup
	errs := make(chan error, m)
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			// One transport per goroutine keeps each on its own connection.
			client := &http.Client{
				Timeout:   5 * time.Second,
				Transport: &http.Transport{MaxConnsPerHost: 1},
			}
			for j := 0; j < 3; j++ {
				want := fmt.Sprintf("/conn-%d/%d", id, j)
				resp, err := client.Get("http://" + addr + want)
				if err != nil {
					errs <- err
					return
				}
				body, _ := io.ReadAll(resp.Body)
				_ = resp.Body.Close()
				if string(body) != want {
					errs <- fmt.Errorf("conn %d got %q want %q", id, body, want)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestAbruptCloseMidRequestKeepsListenerAlive(t *testing.T) {
	addr := startOnLoopback(t, New(greeting.Hello(), Options{Logger: quietLogger()}))

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_, _ = conn.Write([]byte("POST /upload HTTP/1.1\r\nHost: test\r\nContent-Length: 1000\r\n\r\npartial"))
	_ = conn.Close()

	half, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_, _ = half.Write([]byte("GET / HT"))
	_ = half.Close()

	assertHello(t, addr)
}

func TestMalformedRequestIsIsolated(t *testing.T) {
	addr := startOnLoopback(t, New(greeting.Hello(), Options{Logger: quietLogger()}))

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	_, _ = conn.Write([]byte("\x00\x01garbage\r\n\r\n"))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err == nil {
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected transport-level 400, got %d", resp.StatusCode)
		}
	}

	assertHello(t, addr)
}

func TestServeReturnsBindErrorWhenAddressInUse(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer occupied.Close()

	m := metrics.NewListener(prometheus.NewRegistry())
	s := New(greeting.Hello(), Options{Logger: quietLogger(), Metrics: m})
	err = s.Serve(context.Background(), occupied.Addr().String())

	var bindErr *BindError
	if !errors.As(err, &bindErr) {
		t.Fatalf("expected *BindError, got %T %v", err, err)
	}
	if bindErr.Addr != occupied.Addr().String() {
		t.Fatalf("unexpected addr in error: %q", bindErr.Addr)
	}
	if bindErr.Unwrap() == nil {
		t.Fatal("expected wrapped OS error")
	}
	if got := testutil.ToFloat64(m.BindFailures); got != 1 {
		t.Fatalf("unexpected bind failure count: %v", got)
	}
}

func TestServeBindsAndServes(t *testing.T) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := probe.Addr().String()
	_ = probe.Close()

	s := New(greeting.Hello(), Options{Logger: quietLogger()})
	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background(), addr) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/")
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if string(body) != greeting.HelloBody {
				t.Fatalf("unexpected body: %q", body)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("listener never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	select {
	case err := <-done:
		t.Fatalf("serve returned unexpectedly: %v", err)
	default:
	}
}

func TestServeListenerReturnsWhenSocketClosed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New(greeting.Hello(), Options{Logger: quietLogger()})
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(context.Background(), ln) }()
	time.Sleep(20 * time.Millisecond)
	_ = ln.Close()

	select {
	case err := <-done:
		if !errors.Is(err, net.ErrClosed) {
			t.Fatalf("expected net.ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("accept loop did not end")
	}
}

func TestFallibleResponderErrorBecomes500(t *testing.T) {
	failing := greeting.FallibleFunc(func(*http.Request) (greeting.Response, error) {
		return greeting.Response{}, errors.New("backend unavailable")
	})
	m := metrics.NewListener(prometheus.NewRegistry())
	addr := startOnLoopback(t, NewFallible(failing, Options{Logger: quietLogger(), Metrics: m}))

	resp, err := http.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if string(body) != internalErrorBody {
		t.Fatalf("unexpected body: %q", body)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues("500")); got != 1 {
		t.Fatalf("unexpected 500 count: %v", got)
	}
	assertListenerStillUp(t, addr)
}

func TestResponderHeadersAreWritten(t *testing.T) {
	withHeader := greeting.ResponderFunc(func(*http.Request) greeting.Response {
		h := http.Header{}
		h.Set("X-Relic", "1")
		return greeting.Response{Header: h, Body: []byte("ok")}
	})
	addr := startOnLoopback(t, New(withHeader, Options{Logger: quietLogger()}))
	resp, err := http.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("zero status should default to 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Relic") != "1" {
		t.Fatalf("missing responder header: %v", resp.Header)
	}
}

func TestH2CPriorKnowledge(t *testing.T) {
	addr := startOnLoopback(t, New(greeting.Hello(), Options{Logger: quietLogger()}))
	client := &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
	resp, err := client.Get("http://" + addr + "/h2")
	if err != nil {
		t.Fatalf("h2c get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.ProtoMajor != 2 {
		t.Fatalf("expected HTTP/2, got %s", resp.Proto)
	}
	if resp.StatusCode != http.StatusOK || string(body) != greeting.HelloBody {
		t.Fatalf("unexpected response: %d %q", resp.StatusCode, body)
	}
}

func TestMetricsTrackConnectionsAndRequests(t *testing.T) {
	m := metrics.NewListener(prometheus.NewRegistry())
	addr := startOnLoopback(t, New(greeting.Hello(), Options{Logger: quietLogger(), Metrics: m}))

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	for i := 0; i < 3; i++ {
		resp, err := client.Get("http://" + addr + "/")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	if got := testutil.ToFloat64(m.Requests.WithLabelValues("200")); got != 3 {
		t.Fatalf("unexpected request count: %v", got)
	}
	if got := testutil.ToFloat64(m.ConnectionsAccepted); got != 3 {
		t.Fatalf("unexpected accepted count: %v", got)
	}
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(m.ConnectionsActive) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("active connections never drained: %v", testutil.ToFloat64(m.ConnectionsActive))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRequestsAreTraced(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	addr := startOnLoopback(t, New(greeting.Hello(), Options{Logger: quietLogger(), Tracer: tp.Tracer("test")}))

	resp, err := http.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.Ended()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no span recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if name := rec.Ended()[0].Name(); name != "relic.respond" {
		t.Fatalf("unexpected span name: %q", name)
	}
}

func assertHello(t *testing.T, addr string) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/after")
	if err != nil {
		t.Fatalf("listener unavailable: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != greeting.HelloBody {
		t.Fatalf("unexpected response: %d %q", resp.StatusCode, body)
	}
}

func assertListenerStillUp(t *testing.T, addr string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("listener down: %v", err)
	}
	_ = conn.Close()
}

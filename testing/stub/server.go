// Package stub provides a scripted upstream HTTP server for gateway tests.
//
// Each route replays a sequence of replies, one per hit, repeating the last one when the
// sequence runs out. Every request is recorded for later assertions.
//
//	srv := stub.New(t)
//	srv.On(http.MethodGet, "/objects",
//		stub.Reply{Status: 503},
//		stub.Reply{Status: 200, Body: `[{"id":"1"}]`},
//	)
package stub

import (
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

const contentTypeJSON = "application/json"

// Reply is one scripted response.
type Reply struct {
	// Status defaults to 200
	Status int
	Body   string
	// ContentType defaults to application/json when Body is set
	ContentType string
	Headers     map[string]string
	// Delay postpones the reply; the wait ends early if the client goes away
	Delay time.Duration
	// Hangup closes the connection without writing a response
	Hangup bool
}

// Recorded is a request received by the server.
type Recorded struct {
	Method   string
	Path     string
	RawQuery string
	Header   nethttp.Header
	Body     []byte
}

// Server is a scripted upstream backed by echo and httptest.
type Server struct {
	echo *echo.Echo
	srv  *httptest.Server

	mu       sync.Mutex
	routes   map[string][]Reply
	hits     map[string]int
	requests []Recorded
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		echo:   echo.New(),
		routes: make(map[string][]Reply),
		hits:   make(map[string]int),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Any("/*", s.handle)

	s.srv = httptest.NewServer(s.echo)
	t.Cleanup(s.Close)
	return s
}

// URL returns the base URL of the server, without a trailing slash.
func (s *Server) URL() string {
	return s.srv.URL
}

// On scripts the replies for method and path. Calling On again for the same route
// replaces the script and resets its hit count.
func (s *Server) On(method, path string, replies ...Reply) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := routeKey(method, path)
	s.routes[key] = replies
	s.hits[key] = 0
	return s
}

// Hits returns how many requests reached method and path.
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[routeKey(method, path)]
}

// Requests returns a copy of all recorded requests in arrival order.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Recorded, len(s.requests))
	copy(out, s.requests)
	return out
}

// Close shuts the server down. It is safe to call more than once.
func (s *Server) Close() {
	s.srv.CloseClientConnections()
	s.srv.Close()
}

func (s *Server) handle(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return c.String(nethttp.StatusBadRequest, err.Error())
	}

	key := routeKey(req.Method, req.URL.Path)

	s.mu.Lock()
	s.requests = append(s.requests, Recorded{
		Method:   req.Method,
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header.Clone(),
		Body:     body,
	})
	replies := s.routes[key]
	n := s.hits[key]
	s.hits[key] = n + 1
	s.mu.Unlock()

	if len(replies) == 0 {
		return c.String(nethttp.StatusNotFound, "no stub for "+key)
	}
	reply := replies[min(n, len(replies)-1)]

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-req.Context().Done():
			return nil
		}
	}
	if reply.Hangup {
		return hangup(c)
	}
	return write(c, reply)
}

func write(c echo.Context, reply Reply) error {
	status := reply.Status
	if status == 0 {
		status = nethttp.StatusOK
	}
	for k, v := range reply.Headers {
		c.Response().Header().Set(k, v)
	}
	if reply.Body == "" {
		return c.NoContent(status)
	}
	contentType := reply.ContentType
	if contentType == "" {
		contentType = contentTypeJSON
	}
	return c.Blob(status, contentType, []byte(reply.Body))
}

func hangup(c echo.Context) error {
	hj, ok := c.Response().Writer.(nethttp.Hijacker)
	if !ok {
		return c.NoContent(nethttp.StatusInternalServerError)
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return err
	}
	return conn.Close()
}

func routeKey(method, path string) string {
	return method + " " + path
}

// Package httpd handles a single accepted connection: it reads one request
// line, routes it, and writes back a static page.
//
// ServeConn is sequential; the server runs each call as a worker pool job.
package httpd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"
	"time"
)

// Status lines written by the handler.
const (
	StatusOK            = "HTTP/1.1 200 OK"
	StatusNotFound      = "HTTP/1.1 404 NOT FOUND"
	StatusInternalError = "HTTP/1.1 500 INTERNAL SERVER ERROR"
)

// Pages served from the document root.
const (
	PageHello    = "hello.html"
	PageNotFound = "404.html"
)

// ErrEmptyRequest is returned when the peer closes before sending a request line.
var ErrEmptyRequest = errors.New("httpd: empty request")

// Route is the outcome of matching a request line.
type Route struct {
	Status string
	Page   string
	Sleep  bool
}

// Resolve maps an exact request line to its route.
func Resolve(requestLine string) Route {
	switch requestLine {
	case "GET / HTTP/1.1":
		return Route{Status: StatusOK, Page: PageHello}
	case "GET /sleep HTTP/1.1":
		return Route{Status: StatusOK, Page: PageHello, Sleep: true}
	default:
		return Route{Status: StatusNotFound, Page: PageNotFound}
	}
}

// FormatResponse builds "<status>\r\nContent-Length: <n>\r\n\r\n<body>".
func FormatResponse(status string, body []byte) []byte {
	head := fmt.Sprintf("%s\r\nContent-Length: %d\r\n\r\n", status, len(body))
	return append([]byte(head), body...)
}

// ReadRequestLine reads the first line from r without its line terminator.
func ReadRequestLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", ErrEmptyRequest
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Handler serves one connection per ServeConn call.
type Handler struct {
	DocRoot    fs.FS
	SleepDelay time.Duration
}

// NewHandler creates a handler serving pages from the docRoot directory.
func NewHandler(docRoot string, sleepDelay time.Duration) *Handler {
	return &Handler{
		DocRoot:    os.DirFS(docRoot),
		SleepDelay: sleepDelay,
	}
}

// ServeConn reads a request line from conn, writes the response and closes conn.
//
// A page that cannot be read is answered with a 500 and reported as the
// returned error; it is the connection's own failure.
func (h *Handler) ServeConn(conn net.Conn) error {
	defer conn.Close()

	line, err := ReadRequestLine(conn)
	if err != nil {
		return fmt.Errorf("read request line: %w", err)
	}

	route := Resolve(line)
	if route.Sleep && h.SleepDelay > 0 {
		time.Sleep(h.SleepDelay)
	}

	body, err := fs.ReadFile(h.DocRoot, route.Page)
	if err != nil {
		_, _ = conn.Write(FormatResponse(StatusInternalError, nil))
		return fmt.Errorf("read page %s: %w", route.Page, err)
	}

	if _, err := conn.Write(FormatResponse(route.Status, body)); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

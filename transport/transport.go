// Package transport defines the request/response contract between the
// engines and the network. Requests are opaque to the engines beyond their
// status code.
package transport

import (
	"context"
	"net/http"
)

// Request is one HTTP exchange issued by an engine.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// Compress asks the client to gzip Body when it is large enough.
	Compress bool
}

// Response is the status, headers and fully read body of a completed request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Client executes requests. Execute returns an error only when no response
// was obtained (connection failure, timeout, unreadable body); every status
// code, including 4xx and 5xx, comes back as a Response.
type Client interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ClientFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

package valve

import (
	"bytes"
	"fmt"
	"net/http"
	"sync/atomic"
)

// Response is the internal response filled by a valve chain. Once
// dispatched, no further valve runs.
type Response struct {
	Status  int
	Reason  string
	Proto   string
	Header  http.Header
	Cookies []*http.Cookie

	body       bytes.Buffer
	dispatched atomic.Bool
}

// NewResponse returns an empty 200 response.
func NewResponse() *Response {
	return &Response{
		Status: http.StatusOK,
		Proto:  "HTTP/1.1",
		Header: make(http.Header),
	}
}

// Write appends to the body.
func (r *Response) Write(p []byte) (int, error) {
	return r.body.Write(p)
}

// WriteString appends to the body.
func (r *Response) WriteString(s string) (int, error) {
	return r.body.WriteString(s)
}

// Body returns the accumulated body.
func (r *Response) Body() []byte {
	return r.body.Bytes()
}

// ResetBody discards the accumulated body.
func (r *Response) ResetBody() {
	r.body.Reset()
}

// SetStatus sets the status code and clears any custom reason phrase.
func (r *Response) SetStatus(code int) {
	r.Status = code
	r.Reason = ""
}

// ReasonPhrase returns the custom reason or the standard text for Status.
func (r *Response) ReasonPhrase() string {
	if r.Reason != "" {
		return r.Reason
	}
	return http.StatusText(r.Status)
}

// StatusLine renders e.g. "HTTP/1.1 404 Not Found".
func (r *Response) StatusLine() string {
	return fmt.Sprintf("%s %d %s", r.Proto, r.Status, r.ReasonPhrase())
}

// SetCookie adds c, replacing a cookie with the same name, domain and path.
func (r *Response) SetCookie(c *http.Cookie) {
	if c == nil {
		return
	}
	for i, existing := range r.Cookies {
		if existing.Name == c.Name && existing.Domain == c.Domain && existing.Path == c.Path {
			r.Cookies[i] = c
			return
		}
	}
	r.Cookies = append(r.Cookies, c)
}

// Error replaces the response with a plain text error.
func (r *Response) Error(code int, msg string) {
	r.SetStatus(code)
	r.Header.Set("Content-Type", "text/plain; charset=utf-8")
	r.ResetBody()
	_, _ = r.body.WriteString(msg)
}

// Dispatch marks the response complete.
func (r *Response) Dispatch() {
	r.dispatched.Store(true)
}

// Dispatched reports whether the response is complete.
func (r *Response) Dispatched() bool {
	return r.dispatched.Load()
}

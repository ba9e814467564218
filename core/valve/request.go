package valve

import (
	"context"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/dmitrymomot/appserver/core/session"
)

// Part is one part of a multipart request body.
type Part struct {
	Name     string
	FileName string
	Header   textproto.MIMEHeader
	Data     []byte
}

// Request is the internal request handed to a valve chain. It is owned by a
// single worker for the duration of one activation.
type Request struct {
	Method     string
	Host       string // without port
	Path       string
	RawQuery   string
	Proto      string
	RemoteAddr string
	Header     http.Header
	Cookies    []*http.Cookie
	Body       []byte
	Parts      []Part
	Form       url.Values

	// App is the name of the application the request was routed to.
	App string
	// ContextPath is the application prefix of Path. It is empty when the
	// request was routed by virtual host.
	ContextPath string
	// ServletPath is Path with ContextPath removed.
	ServletPath string

	ctx     context.Context
	session *session.Session
	values  map[string]any
}

// NewRequest returns an empty request bound to ctx.
func NewRequest(ctx context.Context) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Request{
		ctx:    ctx,
		Header: make(http.Header),
		Form:   make(url.Values),
	}
}

// Context returns the request-scoped context.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// SetContext replaces the request-scoped context.
func (r *Request) SetContext(ctx context.Context) {
	if ctx != nil {
		r.ctx = ctx
	}
}

// Cookie returns the named cookie or http.ErrNoCookie.
func (r *Request) Cookie(name string) (*http.Cookie, error) {
	for _, c := range r.Cookies {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, http.ErrNoCookie
}

// Query parses RawQuery.
func (r *Request) Query() url.Values {
	q, _ := url.ParseQuery(r.RawQuery)
	return q
}

// Part returns the first multipart part with the given form name.
func (r *Request) Part(name string) (Part, bool) {
	for _, p := range r.Parts {
		if p.Name == name {
			return p, true
		}
	}
	return Part{}, false
}

// Session returns the session attached by the session valve, or nil.
func (r *Request) Session() *session.Session {
	return r.session
}

// SetSession attaches s to the request.
func (r *Request) SetSession(s *session.Session) {
	r.session = s
}

// Set stores a request-scoped value for later valves.
func (r *Request) Set(key string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	r.values[key] = v
}

// Value returns a value stored with Set.
func (r *Request) Value(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// SetContextPath sets ContextPath and derives ServletPath from Path.
func (r *Request) SetContextPath(contextPath string) {
	contextPath = strings.TrimSuffix(contextPath, "/")
	r.ContextPath = contextPath

	servlet := strings.TrimPrefix(r.Path, contextPath)
	if servlet == "" || servlet[0] != '/' {
		servlet = "/" + servlet
	}
	r.ServletPath = servlet
}

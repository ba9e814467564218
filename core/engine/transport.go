package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/dmitrymomot/appserver/core/app"
	"github.com/dmitrymomot/appserver/core/valve"
)

// TransportResponse is the response sink handed to Process by the transport.
// Once dispatched the transport must not run further processing stages.
type TransportResponse struct {
	Status  int
	Reason  string
	Proto   string
	Header  http.Header
	Cookies []*http.Cookie
	Body    []byte

	dispatched atomic.Bool
}

// NewTransportResponse returns an empty response sink.
func NewTransportResponse() *TransportResponse {
	return &TransportResponse{Header: make(http.Header)}
}

// Dispatched reports whether the engine completed the response.
func (t *TransportResponse) Dispatched() bool {
	return t.dispatched.Load()
}

// WriteTo writes the response to w.
func (t *TransportResponse) WriteTo(w http.ResponseWriter) error {
	dst := w.Header()
	for k, vs := range t.Header {
		dst[k] = append([]string(nil), vs...)
	}
	for _, c := range t.Cookies {
		http.SetCookie(w, c)
	}

	status := t.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if len(t.Body) == 0 {
		return nil
	}
	_, err := w.Write(t.Body)
	return err
}

// copyFrom takes over the internal response and marks t dispatched.
func (t *TransportResponse) copyFrom(resp *valve.Response) {
	t.Status = resp.Status
	t.Reason = resp.ReasonPhrase()
	t.Proto = resp.Proto
	t.Header = resp.Header.Clone()
	if t.Header == nil {
		t.Header = make(http.Header)
	}
	t.Cookies = append([]*http.Cookie(nil), resp.Cookies...)
	t.Body = bytes.Clone(resp.Body())
	t.dispatched.Store(true)
}

// translate builds the internal request from the transport request. The body
// is read when Content-Length is positive; multipart and url-encoded bodies
// are decoded.
func translate(r *http.Request, maxBody int64) (*valve.Request, error) {
	req := valve.NewRequest(r.Context())
	req.Method = r.Method
	req.Host = strings.ToLower(app.StripPort(r.Host))
	req.Path = r.URL.Path
	if req.Path == "" {
		req.Path = "/"
	}
	req.RawQuery = r.URL.RawQuery
	req.Proto = r.Proto
	req.RemoteAddr = r.RemoteAddr
	req.Header = r.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Cookies = r.Cookies()

	if r.ContentLength <= 0 || r.Body == nil {
		return req, nil
	}
	if maxBody > 0 && r.ContentLength > maxBody {
		return nil, fmt.Errorf("body of %d bytes exceeds limit of %d", r.ContentLength, maxBody)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, r.ContentLength))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	req.Body = body

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return req, nil
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		parts, form, err := readParts(body, params["boundary"])
		if err != nil {
			return nil, err
		}
		req.Parts = parts
		req.Form = form
	case mediaType == "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("failed to parse form: %w", err)
		}
		req.Form = form
	}
	return req, nil
}

func readParts(body []byte, boundary string) ([]valve.Part, url.Values, error) {
	if boundary == "" {
		return nil, nil, errors.New("multipart body without boundary")
	}

	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	form := make(url.Values)
	var parts []valve.Part
	for {
		p, err := mr.NextPart()
		// A bare io.EOF marks the final boundary; truncated bodies wrap it.
		if err == io.EOF { //nolint:errorlint
			return parts, form, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read multipart body: %w", err)
		}

		data, err := io.ReadAll(p)
		_ = p.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read multipart part: %w", err)
		}

		part := valve.Part{
			Name:     p.FormName(),
			FileName: p.FileName(),
			Header:   p.Header,
			Data:     data,
		}
		if part.FileName == "" && part.Name != "" {
			form.Add(part.Name, string(data))
		}
		parts = append(parts, part)
	}
}

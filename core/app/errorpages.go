package app

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"sync"

	"github.com/dmitrymomot/appserver/core/valve"
)

// ErrorPageData is passed to error page templates.
type ErrorPageData struct {
	Status  int
	Reason  string
	Message string
	App     string
	Path    string
}

// ErrorPages maps status codes ("404") and classes ("5xx") to templates.
// An exact status wins over its class.
type ErrorPages struct {
	mu    sync.RWMutex
	pages map[string]*template.Template
}

// NewErrorPages returns an empty mapping.
func NewErrorPages() *ErrorPages {
	return &ErrorPages{pages: make(map[string]*template.Template)}
}

// Set registers tmpl under pattern.
func (p *ErrorPages) Set(pattern string, tmpl *template.Template) error {
	if tmpl == nil || !validPattern(pattern) {
		return fmt.Errorf("%w: %q", ErrInvalidErrorPage, pattern)
	}

	p.mu.Lock()
	p.pages[pattern] = tmpl
	p.mu.Unlock()
	return nil
}

func validPattern(pattern string) bool {
	if len(pattern) != 3 || pattern[0] < '1' || pattern[0] > '5' {
		return false
	}
	if pattern[1:] == "xx" {
		return true
	}
	_, err := strconv.Atoi(pattern)
	return err == nil
}

// Lookup returns the template for status.
func (p *ErrorPages) Lookup(status int) (*template.Template, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if tmpl, ok := p.pages[strconv.Itoa(status)]; ok {
		return tmpl, true
	}
	if status >= 100 && status < 600 {
		if tmpl, ok := p.pages[strconv.Itoa(status/100)+"xx"]; ok {
			return tmpl, true
		}
	}
	return nil, false
}

// Render replaces the body of resp with the page registered for its status.
// The original body is passed to the template as Message. It returns false
// when no page matches; a template failure leaves resp untouched.
func (p *ErrorPages) Render(req *valve.Request, resp *valve.Response) (bool, error) {
	tmpl, ok := p.Lookup(resp.Status)
	if !ok {
		return false, nil
	}

	data := ErrorPageData{
		Status:  resp.Status,
		Reason:  resp.ReasonPhrase(),
		Message: string(resp.Body()),
		App:     req.App,
		Path:    req.Path,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return false, fmt.Errorf("failed to render error page %d: %w", resp.Status, err)
	}

	resp.ResetBody()
	_, _ = resp.Write(buf.Bytes())
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	return true, nil
}

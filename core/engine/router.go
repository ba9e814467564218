package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dmitrymomot/appserver/core/app"
)

type route struct {
	pattern *regexp.Regexp
	app     string
}

// Router maps host and path to an application name. It is built once and
// read-only afterwards.
type Router struct {
	routes []route
}

// NewRouter compiles, in application order, each application's virtual
// hosts followed by its context path pattern. The first match wins. An
// application mounted at the root only gets a context path pattern when it
// has no virtual hosts, otherwise it would capture every host.
func NewRouter(apps []*app.Application) (*Router, error) {
	r := &Router{}
	for _, a := range apps {
		for _, vh := range a.VirtualHosts() {
			if err := r.add(hostPattern(vh), a.Name()); err != nil {
				return nil, err
			}
		}
		if a.ContextPath() == "" && len(a.VirtualHosts()) > 0 {
			continue
		}
		if err := r.add(contextPattern(a.ContextPath()), a.Name()); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Router) add(expr, name string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("failed to compile route for %s: %w", name, err)
	}
	r.routes = append(r.routes, route{pattern: re, app: name})
	return nil
}

// hostPattern matches any path on host. "*." matches one subdomain label.
func hostPattern(host string) string {
	if suffix, ok := strings.CutPrefix(host, "*"); ok {
		return `^[^./]+` + regexp.QuoteMeta(suffix) + `(?:/.*)?$`
	}
	return `^` + regexp.QuoteMeta(host) + `(?:/.*)?$`
}

// contextPattern matches the context path on any host. An empty context
// path matches everything.
func contextPattern(contextPath string) string {
	if contextPath == "" {
		return `^[^/]*(?:/.*)?$`
	}
	return `^[^/]*` + regexp.QuoteMeta(contextPath) + `(?:/.*)?$`
}

// Match returns the application for host and path.
func (r *Router) Match(host, path string) (string, bool) {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	target := strings.ToLower(app.StripPort(host)) + path

	for _, rt := range r.routes {
		if rt.pattern.MatchString(target) {
			return rt.app, true
		}
	}
	return "", false
}

// Len returns the number of compiled patterns.
func (r *Router) Len() int {
	return len(r.routes)
}

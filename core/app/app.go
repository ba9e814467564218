package app

import (
	"fmt"
	"html/template"
	"net"
	"strings"
	"sync/atomic"

	"github.com/dmitrymomot/appserver/core/session"
	"github.com/dmitrymomot/appserver/core/valve"
)

// Application is one hosted tenant: its routing, its valve chain and its
// session parameters.
type Application struct {
	name         string
	contextPath  string
	virtualHosts []string
	sessions     session.Overrides
	valves       []valve.Valve
	errorPages   *ErrorPages

	connected atomic.Bool
}

// Option configures an Application.
type Option func(*Application) error

// WithContextPath mounts the application under path, e.g. "/admin".
func WithContextPath(path string) Option {
	return func(a *Application) error {
		if path == "" || path == "/" {
			a.contextPath = ""
			return nil
		}
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%w: %q", ErrInvalidContextPath, path)
		}
		a.contextPath = strings.TrimSuffix(path, "/")
		return nil
	}
}

// WithVirtualHosts routes requests for hosts to the application. A leading
// "*." matches exactly one subdomain label.
func WithVirtualHosts(hosts ...string) Option {
	return func(a *Application) error {
		for _, h := range hosts {
			h = strings.ToLower(strings.TrimSpace(h))
			if h == "" || strings.ContainsAny(h, "/ ") || strings.Contains(h[1:], "*") {
				return fmt.Errorf("%w: %q", ErrInvalidVirtualHost, h)
			}
			if strings.HasPrefix(h, "*") && !strings.HasPrefix(h, "*.") {
				return fmt.Errorf("%w: %q", ErrInvalidVirtualHost, h)
			}
			a.virtualHosts = append(a.virtualHosts, h)
		}
		return nil
	}
}

// WithValves appends valves to the chain.
func WithValves(valves ...valve.Valve) Option {
	return func(a *Application) error {
		a.valves = append(a.valves, valves...)
		return nil
	}
}

// WithSessionOverrides sets the application's session parameters.
func WithSessionOverrides(o session.Overrides) Option {
	return func(a *Application) error {
		a.sessions = o
		return nil
	}
}

// WithSessions appends a session valve backed by m with the application's
// overrides applied. Place it after WithSessionOverrides.
func WithSessions(m *session.Manager, opts ...valve.SessionOption) Option {
	return func(a *Application) error {
		a.valves = append(a.valves, valve.Session(m.WithOverrides(a.sessions), opts...))
		return nil
	}
}

// WithErrorPage registers tmpl for pattern, a status code ("404") or a
// class ("5xx").
func WithErrorPage(pattern string, tmpl *template.Template) Option {
	return func(a *Application) error {
		return a.errorPages.Set(pattern, tmpl)
	}
}

// WithConnected marks the application connected on creation.
func WithConnected() Option {
	return func(a *Application) error {
		a.connected.Store(true)
		return nil
	}
}

// New creates a disconnected application.
func New(name string, opts ...Option) (*Application, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	a := &Application{
		name:       name,
		errorPages: NewErrorPages(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("application %s: %w", name, err)
		}
	}
	return a, nil
}

// Name returns the application name.
func (a *Application) Name() string { return a.name }

// ContextPath returns the mount path, empty for the root.
func (a *Application) ContextPath() string { return a.contextPath }

// VirtualHosts returns the registered host names.
func (a *Application) VirtualHosts() []string {
	return append([]string(nil), a.virtualHosts...)
}

// Valves returns the valve chain.
func (a *Application) Valves() []valve.Valve { return a.valves }

// SessionOverrides returns the application's session parameters.
func (a *Application) SessionOverrides() session.Overrides { return a.sessions }

// ErrorPages returns the error page mapping.
func (a *Application) ErrorPages() *ErrorPages { return a.errorPages }

// Connect marks the application ready to receive requests.
func (a *Application) Connect() { a.connected.Store(true) }

// Disconnect stops routing requests to the application.
func (a *Application) Disconnect() { a.connected.Store(false) }

// Connected reports whether the application completed its connect phase.
func (a *Application) Connected() bool { return a.connected.Load() }

// IsVirtualHost reports whether host, with or without port, is one of the
// application's virtual hosts.
func (a *Application) IsVirtualHost(host string) bool {
	host = strings.ToLower(StripPort(host))
	for _, vh := range a.virtualHosts {
		if vh == host {
			return true
		}
		if suffix, ok := strings.CutPrefix(vh, "*"); ok {
			label, found := strings.CutSuffix(host, suffix)
			if found && label != "" && !strings.Contains(label, ".") {
				return true
			}
		}
	}
	return false
}

// StripPort removes a trailing port from host.
func StripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

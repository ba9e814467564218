package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/dmitrymomot/appserver/core/app"
	"github.com/dmitrymomot/appserver/core/engine"
	"github.com/dmitrymomot/appserver/core/session"
	"github.com/dmitrymomot/appserver/core/valve"
)

var notFoundPage = template.Must(template.New("404").Parse(
	`<!doctype html><title>{{.Status}} {{.Reason}}</title><h1>{{.Reason}}</h1><p>{{.Path}}</p>`))

var serverErrorPage = template.Must(template.New("5xx").Parse(
	`<!doctype html><title>{{.Status}} {{.Reason}}</title><h1>Something went wrong</h1><p>{{.Message}}</p>`))

// applications builds the registry served by this binary: a status
// application exposing engine statistics and a welcome application that
// counts visits in the session. status must be set before requests arrive.
func applications(cfg Config, sessions *session.Manager, status func() engine.Stats) (*app.Registry, error) {
	statusApp, err := app.New("status",
		app.WithContextPath(cfg.StatusContextPath),
		app.WithValves(valve.Func(func(req *valve.Request, resp *valve.Response) error {
			resp.Header.Set("Content-Type", "application/json")
			resp.Header.Set("Cache-Control", "no-store")
			if err := json.NewEncoder(resp).Encode(status()); err != nil {
				return fmt.Errorf("encode status: %w", err)
			}
			resp.Dispatch()
			return nil
		})),
		app.WithConnected(),
	)
	if err != nil {
		return nil, err
	}

	welcomeOpts := []app.Option{
		app.WithSessions(sessions),
		app.WithValves(valve.Func(welcome)),
		app.WithErrorPage("404", notFoundPage),
		app.WithErrorPage("5xx", serverErrorPage),
		app.WithConnected(),
	}
	if len(cfg.WelcomeVirtualHosts) > 0 {
		welcomeOpts = append(welcomeOpts, app.WithVirtualHosts(cfg.WelcomeVirtualHosts...))
	}
	welcomeApp, err := app.New("welcome", welcomeOpts...)
	if err != nil {
		return nil, err
	}

	return app.NewRegistry(statusApp, welcomeApp)
}

func welcome(req *valve.Request, resp *valve.Response) error {
	if req.ServletPath != "/" && req.ServletPath != "" {
		resp.SetStatus(http.StatusNotFound)
		resp.Dispatch()
		return nil
	}

	s := req.Session()
	if s == nil {
		return errors.New("welcome: no session on request")
	}

	var visits int
	if err := s.Get("visits", &visits); err != nil && !errors.Is(err, session.ErrKeyNotFound) {
		return err
	}
	visits++
	if err := s.Set("visits", visits); err != nil {
		return err
	}

	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(resp, "Welcome! You have visited %d time(s).\n", visits)
	resp.Dispatch()
	return nil
}

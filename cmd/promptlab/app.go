package main

import (
	"github.com/rs/zerolog"

	"github.com/germanamz/promptlab/cmd/promptlab/internal/httpapi"
	"github.com/germanamz/promptlab/pkg/abtest"
	"github.com/germanamz/promptlab/pkg/catalog"
	"github.com/germanamz/promptlab/pkg/client"
	"github.com/germanamz/promptlab/pkg/mcpserver"
	"github.com/germanamz/promptlab/pkg/optimizer"
	"github.com/germanamz/promptlab/pkg/providers/provider"
	"github.com/germanamz/promptlab/pkg/session"
	"github.com/germanamz/promptlab/pkg/settings"
	"github.com/germanamz/promptlab/pkg/templates"
)

// app wires the services every command shares.
type app struct {
	settings  settings.Settings
	log       zerolog.Logger
	client    *client.Client
	gen       client.Generator
	templates *templates.Store
	optimizer *optimizer.Service
	abtest    *abtest.Service
	session   *session.Session
	metrics   *httpapi.Metrics
}

// newApp builds the client stack from resolved settings. Model calls go
// through a retrying generator and are observed by the metrics collectors.
func newApp(s settings.Settings, log zerolog.Logger, opts ...client.Option) (*app, error) {
	a := &app{
		settings: s,
		log:      log,
		metrics:  httpapi.NewMetrics(),
		session:  session.New(""),
	}

	copts := []client.Option{
		client.WithLogger(log.With().Str("component", "client").Logger()),
		client.WithObserver(a.metrics.ObserveModel),
	}
	if s.CatalogFile != "" {
		extra, err := catalog.LoadFile(s.CatalogFile)
		if err != nil {
			return nil, err
		}
		copts = append(copts, client.WithCatalog(catalog.Builtin().Merge(extra)))
	}

	c, err := client.New(s, append(copts, opts...)...)
	if err != nil {
		return nil, err
	}
	a.client = c

	a.gen = client.NewRetrying(c, client.RetryOpts{
		MaxRetries: s.Retry.MaxRetries,
		BaseDelay:  s.Retry.Delay(),
		RPM:        s.Retry.RequestsPerMinute,
	})

	store, err := templates.New()
	if err != nil {
		return nil, err
	}
	a.templates = store

	a.optimizer = optimizer.New(a.gen, store,
		optimizer.WithLogger(log.With().Str("component", "optimizer").Logger()),
		optimizer.WithMaxPromptLength(s.MaxPromptLength),
	)
	a.abtest = abtest.New(a.gen,
		abtest.WithLogger(log.With().Str("component", "abtest").Logger()),
		abtest.WithMaxTestLength(s.MaxTestLength),
	)

	return a, nil
}

// target resolves optional provider and model names against the client's
// defaults.
func (a *app) target(p, model string) (client.Target, error) {
	var t client.Target
	if p != "" {
		id, err := provider.Parse(p)
		if err != nil {
			return client.Target{}, err
		}
		t.Provider = id
	}
	t.Model = model
	return a.client.Resolve(t)
}

func (a *app) lab() mcpserver.Lab {
	return mcpserver.Lab{
		Client:    a.client,
		Gen:       a.gen,
		Optimizer: a.optimizer,
		ABTest:    a.abtest,
		Session:   a.session,
	}
}

func (a *app) httpDeps() httpapi.Deps {
	return httpapi.Deps{
		Client:      a.client,
		Gen:         a.gen,
		Optimizer:   a.optimizer,
		ABTest:      a.abtest,
		Templates:   a.templates,
		Session:     a.session,
		Metrics:     a.metrics,
		Logger:      a.log.With().Str("component", "http").Logger(),
		CORSOrigins: a.settings.CORSOrigins,
	}
}

// Package agent assembles the controller, links, analysis, relay and local
// API into one long-running process.
package agent

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/voltlink/internal/controller"
	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/pkg/log"
)

// Server is a component that runs until ctx ends.
type Server interface {
	Start(ctx context.Context) error
}

type Agent struct {
	controller *controller.Controller
	servers    []Server

	connectKind    core.TransportKind
	connectTarget  string
	connectTimeout time.Duration

	logger log.Logger
}

// Controller returns the connection controller.
func (a *Agent) Controller() *controller.Controller {
	return a.controller
}

// Run starts every server and blocks until ctx ends or one of them fails.
// The controller is closed on the way out.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Starting voltlink agent", "servers", len(a.servers))

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range a.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Agent shutting down...")
		a.controller.Close()
		return nil
	})

	if a.connectKind != "" && a.connectKind != core.KindNone {
		go a.autoConnect(ctx)
	}

	return g.Wait()
}

func (a *Agent) autoConnect(ctx context.Context) {
	if a.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.connectTimeout)
		defer cancel()
	}

	endpoint, err := a.controller.Connect(ctx, a.connectKind, a.connectTarget)
	if err != nil {
		a.logger.Error(err, "Auto-connect failed", "kind", a.connectKind, "target", a.connectTarget)
		return
	}
	a.logger.Info("Auto-connect succeeded", "kind", a.connectKind, "endpoint", endpoint)
}

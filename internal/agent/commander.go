package agent

import (
	"context"

	"github.com/autopeer-io/voltlink/internal/controller"
	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/relay"
)

type commander struct {
	ctrl func() *controller.Controller
}

// lazyCommander resolves the controller on first use, after NewAgent has
// built it.
func lazyCommander(ctrl func() *controller.Controller) relay.Commander {
	return commander{ctrl: ctrl}
}

func (c commander) Connect(ctx context.Context, kind core.TransportKind, target string) (string, error) {
	return c.ctrl().Connect(ctx, kind, target)
}

func (c commander) Disconnect() {
	c.ctrl().Disconnect()
}

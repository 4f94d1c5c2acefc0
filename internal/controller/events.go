package controller

import (
	"sync/atomic"

	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/telemetry"
)

var _ core.Events = (*sessionEvents)(nil)

// sessionEvents binds transport callbacks to one connect attempt. Once the
// attempt fails or its link is torn down it goes stale and ignores
// everything.
type sessionEvents struct {
	c     *Controller
	id    string
	kind  core.TransportKind
	stale atomic.Bool
	// lost records a link drop reported before the handshake completed.
	lost atomic.Pointer[error]
}

func (e *sessionEvents) OnRecord(r telemetry.Record) {
	e.c.ingest(e, r)
}

func (e *sessionEvents) OnFailure(err error) {
	e.c.drop(e, err)
}

func (e *sessionEvents) OnDisconnect(reason error) {
	if e.stale.Load() {
		return
	}
	if reason == nil {
		reason = core.ErrUnsolicitedDisconnect
	}
	e.lost.CompareAndSwap(nil, &reason)
	e.c.teardown(e, reason)
}

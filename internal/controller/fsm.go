package controller

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/voltlink/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/voltlink/internal/pkg/util/fsm"
	"github.com/autopeer-io/voltlink/pkg/log"
)

const (
	// EventConnect starts a connect attempt.
	EventConnect = "connect"
	// EventEstablish completes a successful handshake.
	EventEstablish = "establish"
	// EventFail abandons a failed attempt.
	EventFail = "fail"
	// EventDisconnect tears down an established link, locally or not.
	EventDisconnect = "disconnect"
)

var errClosed = errors.New("controller is closed")

type connectionFSM struct {
	*fsm.FSM
	logger log.Logger
	// closed is read by the connect guard. It is only written with the
	// controller lock held, as is every Event call.
	closed bool
}

func newConnectionFSM(logger log.Logger) *connectionFSM {
	f := &connectionFSM{logger: logger}

	events := fsm.Events{
		{Name: EventConnect, Src: []string{string(StateDisconnected)}, Dst: string(StateConnecting)},
		{Name: EventEstablish, Src: []string{string(StateConnecting)}, Dst: string(StateConnected)},
		{Name: EventFail, Src: []string{string(StateConnecting)}, Dst: string(StateDisconnected)},
		{Name: EventDisconnect, Src: []string{string(StateConnected)}, Dst: string(StateDisconnected)},
	}

	callbacks := fsm.Callbacks{
		"before_" + EventConnect: fsmutil.Guard(f.GuardOpen),
		"enter_state":            fsmutil.WrapEvent(f.ActionEnterState),
	}

	f.FSM = fsm.NewFSM(string(StateDisconnected), events, callbacks)
	metrics.ConnectionState.Set(stateValue(StateDisconnected))
	return f
}

func (f *connectionFSM) State() State {
	return State(f.Current())
}

// fire runs event and logs anything other than a refused transition.
func (f *connectionFSM) fire(event string) error {
	err := f.Event(context.Background(), event)
	if fsmutil.IsRealError(err) {
		f.logger.Error(err, "Unexpected state transition failure", "event", event, "state", f.Current())
	}
	return err
}

// GuardOpen refuses new attempts once the controller is closed.
func (f *connectionFSM) GuardOpen(ctx context.Context, e *fsm.Event) error {
	if f.closed {
		return errClosed
	}
	return nil
}

// ActionEnterState publishes the new state.
func (f *connectionFSM) ActionEnterState(ctx context.Context, e *fsm.Event) error {
	metrics.ConnectionState.Set(stateValue(State(e.Dst)))
	f.logger.Info("Connection state changed", "event", e.Event, "from", e.Src, "to", e.Dst)
	return nil
}

func stateValue(s State) float64 {
	switch s {
	case StateConnecting:
		return 1
	case StateConnected:
		return 2
	}
	return 0
}

package controller

import (
	"time"

	"github.com/autopeer-io/voltlink/internal/core"
)

// State is the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Status is a consistent snapshot of the connection.
type Status struct {
	State    State              `json:"state"`
	Kind     core.TransportKind `json:"kind"`
	Endpoint string             `json:"endpoint,omitempty"`
	// Session identifies one connect attempt.
	Session string    `json:"session,omitempty"`
	Since   time.Time `json:"since"`

	// LastError is the classified failure of the most recent attempt. It is
	// cleared by the next attempt.
	LastError error          `json:"-"`
	ErrorKind core.ErrorKind `json:"errorKind,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Notification is delivered to listeners on every state change.
type Notification struct {
	Status Status
	// Reason is set when the link dropped without a local Disconnect.
	Reason error
}

// Listener receives notifications. It must not block.
type Listener func(Notification)

// Scheduler is the periodic analysis task owned by the connection.
type Scheduler interface {
	Start()
	Stop()
}

type nopScheduler struct{}

func (nopScheduler) Start() {}
func (nopScheduler) Stop()  {}

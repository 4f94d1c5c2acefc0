package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/history"
	"github.com/autopeer-io/voltlink/internal/telemetry"
	"github.com/autopeer-io/voltlink/internal/telemetry/codec"
)

type fakeTransport struct {
	kind     core.TransportKind
	endpoint string
	err      error
	// release, when set, holds Connect until closed.
	release chan struct{}
	entered chan struct{}
	// during runs inside Connect with the session's events.
	during func(core.Events)

	mu          sync.Mutex
	events      core.Events
	disconnects int
}

func (f *fakeTransport) Kind() core.TransportKind { return f.kind }

func (f *fakeTransport) Connect(ctx context.Context, _ string, events core.Events) (string, error) {
	f.mu.Lock()
	f.events = events
	f.mu.Unlock()

	if f.entered != nil {
		close(f.entered)
	}
	if f.release != nil {
		<-f.release
	}
	if f.during != nil {
		f.during(events)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.endpoint, nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) sink() core.Events {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func (f *fakeTransport) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

type fakeScheduler struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (s *fakeScheduler) Start() { s.starts.Add(1) }
func (s *fakeScheduler) Stop()  { s.stops.Add(1) }

type harness struct {
	c         *Controller
	clock     *testingclock.FakeClock
	scheduler *fakeScheduler
	built     []*fakeTransport
	next      func() *fakeTransport

	mu    sync.Mutex
	notes []Notification
	sunk  []telemetry.Record
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:     testingclock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		scheduler: &fakeScheduler{},
	}
	h.next = func() *fakeTransport { return &fakeTransport{kind: core.LinkB, endpoint: "ws://esp32.local:81"} }

	factory := func() core.Transport {
		tr := h.next()
		h.mu.Lock()
		h.built = append(h.built, tr)
		h.mu.Unlock()
		return tr
	}

	h.c = New(Config{
		Factories: map[core.TransportKind]core.TransportFactory{
			core.LinkA: factory,
			core.LinkB: factory,
		},
		History:   history.New(3),
		Scheduler: h.scheduler,
		Clock:     h.clock,
		RecordSink: func(r telemetry.Record) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sunk = append(h.sunk, r)
		},
	})
	h.c.Subscribe(func(n Notification) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.notes = append(h.notes, n)
	})
	return h
}

func (h *harness) last() *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.built[len(h.built)-1]
}

func (h *harness) transports() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.built)
}

func (h *harness) notifications() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Notification(nil), h.notes...)
}

func (h *harness) connect(t *testing.T) string {
	t.Helper()
	endpoint, err := h.c.Connect(context.Background(), core.LinkB, "ws://esp32.local:81")
	require.NoError(t, err)
	require.Equal(t, StateConnected, h.c.Status().State)
	return endpoint
}

func reading(speed int) telemetry.Record {
	return telemetry.Record{
		Battery: telemetry.Battery{Voltage: 401.2, SoC: 88},
		Vehicle: telemetry.Vehicle{Speed: speed},
	}
}

func speeds(rs []telemetry.Record) []int {
	out := make([]int, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Vehicle.Speed)
	}
	return out
}

func TestInitialState(t *testing.T) {
	h := newHarness(t)

	st := h.c.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.Equal(t, core.KindNone, st.Kind)
	assert.Empty(t, st.Endpoint)
	assert.NoError(t, st.LastError)

	assert.False(t, h.c.Latest().HasData())
	require.Len(t, h.c.History(), 1)
	assert.False(t, h.c.History()[0].HasData())
}

func TestConnectSuccess(t *testing.T) {
	h := newHarness(t)

	endpoint := h.connect(t)
	assert.Equal(t, "ws://esp32.local:81", endpoint)

	st := h.c.Status()
	assert.Equal(t, core.LinkB, st.Kind)
	assert.Equal(t, endpoint, st.Endpoint)
	assert.NotEmpty(t, st.Session)
	assert.NoError(t, st.LastError)
	assert.Equal(t, int32(1), h.scheduler.starts.Load())

	notes := h.notifications()
	require.Len(t, notes, 2)
	assert.Equal(t, StateConnecting, notes[0].Status.State)
	assert.Equal(t, StateConnected, notes[1].Status.State)
}

func TestConnectWhileConnectedIsNoop(t *testing.T) {
	h := newHarness(t)
	endpoint := h.connect(t)

	got, err := h.c.Connect(context.Background(), core.LinkA, "ESP32")
	require.NoError(t, err)
	assert.Equal(t, endpoint, got)
	assert.Equal(t, 1, h.transports())
	assert.Equal(t, core.LinkB, h.c.Status().Kind)
}

func TestConnectWhileConnectingIsNoop(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	entered := make(chan struct{})
	h.next = func() *fakeTransport {
		return &fakeTransport{kind: core.LinkA, endpoint: "ESP32-Telemetry", release: release, entered: entered}
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.c.Connect(context.Background(), core.LinkA, "")
		done <- err
	}()
	<-entered

	// State stays readable while the handshake is pending.
	assert.Equal(t, StateConnecting, h.c.Status().State)

	got, err := h.c.Connect(context.Background(), core.LinkA, "")
	assert.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, h.transports())

	h.c.Disconnect()
	assert.Equal(t, StateConnecting, h.c.Status().State, "disconnect is a no-op while connecting")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateConnected, h.c.Status().State)
}

func TestConnectFailure(t *testing.T) {
	h := newHarness(t)
	cancelled := core.Errorf(core.KindDeviceSelectionCancelled, "ble.connect", "Device selection was cancelled.")
	h.next = func() *fakeTransport { return &fakeTransport{kind: core.LinkA, err: cancelled} }

	_, err := h.c.Connect(context.Background(), core.LinkA, "")
	require.ErrorIs(t, err, core.ErrDeviceSelectionCancelled)

	st := h.c.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.Equal(t, core.KindNone, st.Kind)
	assert.Empty(t, st.Session)
	assert.ErrorIs(t, st.LastError, core.ErrDeviceSelectionCancelled)
	assert.Equal(t, core.KindDeviceSelectionCancelled, st.ErrorKind)
	assert.Equal(t, 1, h.last().disconnectCount(), "failed attempts release the transport")
	assert.Zero(t, h.scheduler.starts.Load())
}

func TestConnectUnclassifiedFailure(t *testing.T) {
	h := newHarness(t)
	h.next = func() *fakeTransport { return &fakeTransport{kind: core.LinkB, err: errors.New("dial tcp: refused")} }

	_, err := h.c.Connect(context.Background(), core.LinkB, "ws://nowhere:81")
	assert.ErrorIs(t, err, core.ErrHandshakeFailure)
}

func TestConnectUnknownKind(t *testing.T) {
	h := newHarness(t)

	_, err := h.c.Connect(context.Background(), core.TransportKind("serial"), "/dev/ttyUSB0")
	require.ErrorIs(t, err, core.ErrTransportUnavailable)
	assert.Equal(t, StateDisconnected, h.c.Status().State)
	assert.Zero(t, h.transports())

	notes := h.notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, StateDisconnected, notes[0].Status.State)
	assert.Equal(t, core.KindTransportUnavailable, notes[0].Status.ErrorKind)
}

func TestNewAttemptClearsLastError(t *testing.T) {
	h := newHarness(t)
	h.next = func() *fakeTransport { return &fakeTransport{kind: core.LinkB, err: errors.New("boom")} }
	_, err := h.c.Connect(context.Background(), core.LinkB, "ws://x:81")
	require.Error(t, err)
	require.Error(t, h.c.Status().LastError)

	h.next = func() *fakeTransport { return &fakeTransport{kind: core.LinkB, endpoint: "ws://x:81"} }
	h.connect(t)
	st := h.c.Status()
	assert.NoError(t, st.LastError)
	assert.Empty(t, st.Error)
}

func TestIngestion(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	events := h.last().sink()

	for i := 1; i <= 5; i++ {
		h.clock.Step(time.Second)
		events.OnRecord(reading(i))
	}

	assert.Equal(t, 5, h.c.Latest().Vehicle.Speed)
	assert.Equal(t, h.clock.Now(), h.c.Latest().CapturedAt)
	assert.Equal(t, []int{3, 4, 5}, speeds(h.c.History()))
	assert.Equal(t, StateConnected, h.c.Status().State)

	h.mu.Lock()
	assert.Len(t, h.sunk, 5)
	h.mu.Unlock()
}

func TestIngestionStampsNeverGoBackwards(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	events := h.last().sink()

	h.clock.Step(time.Minute)
	events.OnRecord(reading(1))
	first := h.c.Latest().CapturedAt

	h.clock.SetTime(first.Add(-30 * time.Second))
	events.OnRecord(reading(2))

	hist := h.c.History()
	require.Len(t, hist, 3)
	assert.Equal(t, first, hist[2].CapturedAt)
	assert.False(t, hist[2].CapturedAt.Before(hist[1].CapturedAt))
}

func TestDecodeFailuresKeepConnection(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	events := h.last().sink()
	events.OnRecord(reading(1))
	before := h.c.History()

	_, err := codec.DecodePacket([]byte{0x01, 0x02})
	require.Error(t, err)
	events.OnFailure(err)

	_, err = codec.DecodeMessage([]byte(`{"battery":{"voltage":401.2}}`))
	require.ErrorIs(t, err, core.ErrSchemaViolation)
	events.OnFailure(err)

	assert.Equal(t, StateConnected, h.c.Status().State)
	assert.NoError(t, h.c.Status().LastError)
	assert.Equal(t, before, h.c.History())
	assert.Equal(t, 1, h.c.Latest().Vehicle.Speed)
}

func TestDisconnectResetsData(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	tr := h.last()
	tr.sink().OnRecord(reading(7))

	h.c.Disconnect()

	st := h.c.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.Equal(t, core.KindNone, st.Kind)
	assert.Empty(t, st.Endpoint)
	assert.NoError(t, st.LastError)

	require.Len(t, h.c.History(), 1)
	assert.False(t, h.c.History()[0].HasData())
	assert.False(t, h.c.Latest().HasData())
	assert.Equal(t, int32(1), h.scheduler.stops.Load())
	assert.Equal(t, 1, tr.disconnectCount())

	notes := h.notifications()
	last := notes[len(notes)-1]
	assert.Equal(t, StateDisconnected, last.Status.State)
	assert.NoError(t, last.Reason)
}

func TestDisconnectWhenDisconnectedIsNoop(t *testing.T) {
	h := newHarness(t)
	h.c.Disconnect()

	assert.Equal(t, StateDisconnected, h.c.Status().State)
	assert.Zero(t, h.scheduler.stops.Load())
	assert.Empty(t, h.notifications())
}

func TestUnsolicitedDisconnect(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	tr := h.last()
	tr.sink().OnRecord(reading(7))

	tr.sink().OnDisconnect(core.Errorf(core.KindUnsolicitedDisconnect, "ws.read", "connection closed by remote"))

	st := h.c.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.NoError(t, st.LastError, "an unsolicited disconnect is a notification, not an error")
	require.Len(t, h.c.History(), 1)
	assert.Equal(t, int32(1), h.scheduler.stops.Load())

	notes := h.notifications()
	assert.ErrorIs(t, notes[len(notes)-1].Reason, core.ErrUnsolicitedDisconnect)
}

func TestStaleCallbacksIgnored(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	old := h.last().sink()

	h.c.Disconnect()
	h.connect(t)
	current := h.last().sink()
	current.OnRecord(reading(2))

	old.OnRecord(reading(99))
	old.OnDisconnect(errors.New("late"))

	assert.Equal(t, StateConnected, h.c.Status().State)
	assert.Equal(t, 2, h.c.Latest().Vehicle.Speed)
	assert.Equal(t, []int{0, 2}, speeds(h.c.History()))
}

func TestLinkDroppedDuringHandshake(t *testing.T) {
	h := newHarness(t)
	h.next = func() *fakeTransport {
		return &fakeTransport{kind: core.LinkA, endpoint: "ESP32", during: func(e core.Events) {
			e.OnDisconnect(errors.New("peripheral gone"))
		}}
	}

	_, err := h.c.Connect(context.Background(), core.LinkA, "")
	require.ErrorIs(t, err, core.ErrHandshakeFailure)
	assert.Equal(t, StateDisconnected, h.c.Status().State)
}

func TestFailedAttemptDiscardsItsRecords(t *testing.T) {
	h := newHarness(t)
	h.next = func() *fakeTransport {
		return &fakeTransport{kind: core.LinkA, endpoint: "ESP32", during: func(e core.Events) {
			e.OnRecord(reading(42))
			e.OnDisconnect(errors.New("peripheral gone"))
		}}
	}

	_, err := h.c.Connect(context.Background(), core.LinkA, "")
	require.ErrorIs(t, err, core.ErrHandshakeFailure)
	assert.Equal(t, StateDisconnected, h.c.Status().State)
	assert.False(t, h.c.Latest().HasData())
	assert.Equal(t, []int{0}, speeds(h.c.History()))

	h.next = func() *fakeTransport {
		return &fakeTransport{kind: core.LinkB, err: errors.New("dial tcp: refused"), during: func(e core.Events) {
			e.OnRecord(reading(7))
		}}
	}
	_, err = h.c.Connect(context.Background(), core.LinkB, "ws://esp32.local:81")
	require.ErrorIs(t, err, core.ErrHandshakeFailure)
	assert.False(t, h.c.Latest().HasData())
	assert.Equal(t, []int{0}, speeds(h.c.History()))
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.c.Close()
	assert.Equal(t, StateDisconnected, h.c.Status().State)

	_, err := h.c.Connect(context.Background(), core.LinkB, "ws://esp32.local:81")
	assert.ErrorIs(t, err, core.ErrTransportUnavailable)
	assert.Equal(t, StateDisconnected, h.c.Status().State)
}

func TestConcurrentReadsDuringIngestion(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	events := h.last().sink()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			events.OnRecord(reading(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			hist := h.c.History()
			assert.NotEmpty(t, hist)
			assert.LessOrEqual(t, len(hist), 3)
			_ = h.c.Latest()
			_ = h.c.Status()
		}
	}()
	wg.Wait()

	assert.Equal(t, 499, h.c.Latest().Vehicle.Speed)
}

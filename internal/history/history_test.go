package history

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/voltlink/internal/telemetry"
)

func record(speed int) telemetry.Record {
	return telemetry.Record{
		Battery:    telemetry.Battery{Voltage: 400},
		Vehicle:    telemetry.Vehicle{Speed: speed},
		CapturedAt: time.Unix(int64(speed), 0),
	}
}

func speeds(rs []telemetry.Record) []int {
	out := make([]int, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Vehicle.Speed)
	}
	return out
}

func TestNewDefaults(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
	assert.Equal(t, DefaultCapacity, New(-3).Cap())
	assert.Equal(t, 7, New(7).Cap())
	assert.Empty(t, New(7).Snapshot())
}

func TestAppendBelowCapacity(t *testing.T) {
	b := New(5)
	for i := 1; i <= 3; i++ {
		b.Append(record(i))
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []int{1, 2, 3}, speeds(b.Snapshot()))

	latest, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, 3, latest.Vehicle.Speed)
}

func TestAppendEvictsOldest(t *testing.T) {
	b := New(3)
	for i := 1; i <= 7; i++ {
		b.Append(record(i))
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []int{5, 6, 7}, speeds(b.Snapshot()))
}

func TestHundredAndOneRecords(t *testing.T) {
	b := New(DefaultCapacity)
	for i := 0; i <= DefaultCapacity; i++ {
		b.Append(record(i))
	}

	snap := b.Snapshot()
	require.Len(t, snap, DefaultCapacity)
	assert.Equal(t, 1, snap[0].Vehicle.Speed)
	assert.Equal(t, DefaultCapacity, snap[len(snap)-1].Vehicle.Speed)
}

func TestSnapshotIsACopy(t *testing.T) {
	b := New(3)
	b.Append(record(1))

	snap := b.Snapshot()
	snap[0].Vehicle.Speed = 99

	assert.Equal(t, []int{1}, speeds(b.Snapshot()))
}

func TestReset(t *testing.T) {
	b := New(3)
	for i := 1; i <= 5; i++ {
		b.Append(record(i))
	}

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b.Reset(at)

	snap := b.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, snap[0].HasData())
	assert.Equal(t, at, snap[0].CapturedAt)

	b.Append(record(8))
	b.Append(record(9))
	b.Append(record(10))
	assert.Equal(t, []int{8, 9, 10}, speeds(b.Snapshot()))
}

func TestLatestEmpty(t *testing.T) {
	_, ok := New(2).Latest()
	assert.False(t, ok)
}

func TestConcurrentAppendAndSnapshot(t *testing.T) {
	b := New(10)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b.Append(record(i))
				assert.LessOrEqual(t, len(b.Snapshot()), 10)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, b.Len())
}

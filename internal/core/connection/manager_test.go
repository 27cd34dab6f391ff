package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/shopwire/internal/core/transport/memtransport"
	"github.com/colonyops/shopwire/internal/core/wire"
)

const waitFor = 2 * time.Second

func testOptions() Options {
	opts := DefaultOptions()
	opts.ReconnectDelay = time.Millisecond
	opts.MaxReconnectDelay = 5 * time.Millisecond
	opts.Backoff = BackoffLinear
	opts.HeartbeatInterval = 0
	return opts
}

func newManager(t *testing.T, opts Options) (*Manager, *memtransport.Transport) {
	t.Helper()
	tr := memtransport.New()
	m := New(tr, opts)
	t.Cleanup(func() {
		m.Disconnect()
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = m.Wait(ctx)
	})
	return m, tr
}

func waitStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Status() == want }, waitFor, time.Millisecond,
		"status never became %s (now %s)", want, m.Status())
}

type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) add(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorLog) any(target error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, err := range l.errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	m, tr := newManager(t, testOptions())

	var connected []string
	var mu sync.Mutex
	m.OnConnected(func(id string) {
		mu.Lock()
		connected = append(connected, id)
		mu.Unlock()
	})

	m.Connect()
	m.Connect()
	waitStatus(t, m, StatusConnected)
	m.Connect()

	assert.Equal(t, 1, tr.Dials())
	snap := m.Snapshot()
	assert.Equal(t, "mem-1", snap.SessionID)
	assert.Zero(t, snap.Attempts)
	assert.False(t, snap.LastHeartbeatAt.IsZero())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(connected) == 1
	}, waitFor, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"mem-1"}, connected)
}

func TestManager_ReconnectBound(t *testing.T) {
	m, tr := newManager(t, testOptions())
	tr.FailDials(-1)

	errs := &errorLog{}
	m.OnError(errs.add)

	m.Connect()
	require.Eventually(t, func() bool { return errs.any(ErrReconnectExhausted) }, waitFor, time.Millisecond)

	assert.Equal(t, StatusDisconnected, m.Status())
	assert.Equal(t, 6, tr.Dials(), "initial open plus five reconnects")
	assert.Equal(t, 5, m.Snapshot().Attempts)
	assert.ErrorIs(t, m.Snapshot().LastError, ErrReconnectExhausted)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 6, tr.Dials(), "no attempts after giving up")
}

func TestManager_ReconnectAfterExhaustion(t *testing.T) {
	m, tr := newManager(t, testOptions())
	tr.FailDials(6)

	m.Connect()
	require.Eventually(t, func() bool { return tr.Dials() == 6 && m.Status() == StatusDisconnected }, waitFor, time.Millisecond)

	m.Connect()
	waitStatus(t, m, StatusConnected)
	assert.Zero(t, m.Snapshot().Attempts)
}

func TestManager_RepeatedDropsWithinStableWindow(t *testing.T) {
	m, tr := newManager(t, testOptions())

	m.Connect()
	for i := 1; i <= 6; i++ {
		conn := tr.WaitForConn(i, waitFor)
		require.NotNil(t, conn, "open %d", i)
		waitStatus(t, m, StatusConnected)
		conn.Drop()
	}

	waitStatus(t, m, StatusDisconnected)
	assert.Equal(t, 6, tr.Dials())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 6, tr.Dials())
}

func TestManager_SuccessfulOpenResetsAttempts(t *testing.T) {
	opts := testOptions()
	opts.StableAfter = 0
	m, tr := newManager(t, opts)

	var drops int
	var mu sync.Mutex
	m.OnDisconnected(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			drops++
		}
	})

	m.Connect()
	for i := 1; i <= 7; i++ {
		conn := tr.WaitForConn(i, waitFor)
		require.NotNil(t, conn)
		waitStatus(t, m, StatusConnected)
		conn.Drop()
	}

	require.NotNil(t, tr.WaitForConn(8, waitFor))
	waitStatus(t, m, StatusConnected)
	assert.Zero(t, m.Snapshot().Attempts)
	assert.Equal(t, "mem-8", m.Snapshot().SessionID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 7, drops)
}

func TestManager_DisconnectSuppressesReconnect(t *testing.T) {
	m, tr := newManager(t, testOptions())

	var reasons []error
	var mu sync.Mutex
	m.OnDisconnected(func(err error) {
		mu.Lock()
		reasons = append(reasons, err)
		mu.Unlock()
	})

	m.Connect()
	waitStatus(t, m, StatusConnected)
	conn := tr.Current()

	m.Disconnect()
	m.Disconnect()

	snap := m.Snapshot()
	assert.Equal(t, StatusDisconnected, snap.Status)
	assert.Empty(t, snap.SessionID)
	assert.True(t, conn.Closed())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, tr.Dials())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reasons, 1)
	assert.NoError(t, reasons[0])
}

func TestManager_HeartbeatTimeout(t *testing.T) {
	opts := testOptions()
	opts.HeartbeatInterval = 5 * time.Millisecond
	opts.HeartbeatTimeout = 20 * time.Millisecond
	m, tr := newManager(t, opts)

	errs := &errorLog{}
	m.OnError(errs.add)

	m.Connect()
	first := tr.WaitForConn(1, waitFor)
	require.NotNil(t, first)

	require.Eventually(t, func() bool { return errs.any(ErrHeartbeatTimeout) }, waitFor, time.Millisecond)
	assert.NotEmpty(t, first.WrittenAction(wire.ActionPing))
	assert.True(t, first.Closed())
	assert.NotNil(t, tr.WaitForConn(2, waitFor), "reconnects after a silent session")
}

func TestManager_InboundFramesKeepSessionAlive(t *testing.T) {
	opts := testOptions()
	opts.HeartbeatInterval = 5 * time.Millisecond
	opts.HeartbeatTimeout = 30 * time.Millisecond
	m, tr := newManager(t, opts)

	m.Connect()
	waitStatus(t, m, StatusConnected)
	conn := tr.Current()

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		conn.Push(`{"type":"pong"}`)
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, StatusConnected, m.Status())
	assert.Equal(t, 1, tr.Dials())
}

func TestManager_HeartbeatFramesAreIntercepted(t *testing.T) {
	m, tr := newManager(t, testOptions())

	var mu sync.Mutex
	var frames []string
	var beats int
	m.SetFrameHandler(func(raw []byte) {
		mu.Lock()
		frames = append(frames, string(raw))
		mu.Unlock()
	})
	m.OnHeartbeat(func(time.Time) {
		mu.Lock()
		beats++
		mu.Unlock()
	})

	m.Connect()
	waitStatus(t, m, StatusConnected)
	conn := tr.Current()
	conn.Push(`{"type":"heartbeat"}`)
	conn.Push(`{"type":"sale_created","data":{"id":1}}`)
	conn.Push(`{"type":"pong"}`)
	conn.Push(`{"type":"sale_created","data":{"id":2}}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 2 && beats == 2
	}, waitFor, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		`{"type":"sale_created","data":{"id":1}}`,
		`{"type":"sale_created","data":{"id":2}}`,
	}, frames)
}

func TestManager_Send(t *testing.T) {
	m, tr := newManager(t, testOptions())

	err := m.Send(context.Background(), wire.Subscribe("sales"))
	require.ErrorIs(t, err, ErrNotConnected)

	m.Connect()
	waitStatus(t, m, StatusConnected)
	require.NoError(t, m.Send(context.Background(), wire.Subscribe("sales")))
	assert.Equal(t, []string{"sales"}, tr.Current().WrittenAction(wire.ActionSubscribe))
}

func TestManager_SignalListenerPanicIsContained(t *testing.T) {
	m, _ := newManager(t, testOptions())

	called := make(chan string, 1)
	m.OnConnected(func(string) { panic("boom") })
	m.OnConnected(func(id string) { called <- id })

	m.Connect()
	select {
	case id := <-called:
		assert.Equal(t, "mem-1", id)
	case <-time.After(waitFor):
		t.Fatal("second listener never ran")
	}
}

func TestManager_CancelRemovesListener(t *testing.T) {
	m, _ := newManager(t, testOptions())

	var mu sync.Mutex
	var seen []Status
	cancel := m.OnStatus(func(_, to Status) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	})

	m.Connect()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, waitFor, time.Millisecond)
	cancel()
	cancel()
	m.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, seen)
}

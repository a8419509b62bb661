package poller

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mined-project/mined/internal/command"
	"github.com/mined-project/mined/internal/history"
	"github.com/mined-project/mined/internal/hub"
	"github.com/mined-project/mined/internal/protocol"
	"github.com/mined-project/mined/internal/registry"
	"github.com/mined-project/mined/internal/server"
)

type fakeSource struct {
	mu     sync.Mutex
	states map[int]server.Status
}

func (f *fakeSource) set(id int, st server.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = st
}

func (f *fakeSource) QueryStatus(id int) server.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[id]; ok {
		return st
	}
	return server.StatusStopped
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPoller(t *testing.T, n int) (*Poller, *registry.Registry, *fakeSource, chan []byte) {
	t.Helper()
	specs := make([]server.Spec, n)
	for i := range specs {
		specs[i] = server.Spec{Name: "srv", Command: "sleep 100"}
	}
	reg := registry.New(specs)
	src := &fakeSource{states: make(map[int]server.Status)}
	h := hub.New(discardLogger())
	t.Cleanup(h.Close)
	sub := make(chan []byte, 64)
	h.Register(sub)
	p := New(reg, src, h, time.Hour, discardLogger())
	return p, reg, src, sub
}

func decodeEvent(t *testing.T, b []byte) command.CommandResponse {
	t.Helper()
	var resp command.CommandResponse
	require.NoError(t, protocol.Unmarshal(b, &resp))
	return resp
}

func waitEvent(t *testing.T, sub chan []byte) command.CommandResponse {
	t.Helper()
	select {
	case b := <-sub:
		return decodeEvent(t, b)
	case <-time.After(2 * time.Second):
		t.Fatal("no event broadcast")
		return command.CommandResponse{}
	}
}

func TestPollOnceBroadcastsTransition(t *testing.T) {
	p, reg, src, sub := testPoller(t, 2)
	src.set(1, server.StatusRunning)

	p.PollOnce(context.Background())

	resp := waitEvent(t, sub)
	require.Equal(t, command.RespUpdateServer, resp.Type)
	require.Equal(t, 1, resp.ID)
	require.Equal(t, server.StatusRunning, resp.Server.Status)

	d, err := reg.Get(1)
	require.NoError(t, err)
	require.Equal(t, server.StatusRunning, d.Status)
}

func TestPollOnceQuietWhenNothingChanged(t *testing.T) {
	p, _, _, sub := testPoller(t, 3)

	p.PollOnce(context.Background())
	select {
	case b := <-sub:
		t.Fatalf("unexpected event %v", decodeEvent(t, b))
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPollOnceReplacesOptimisticState(t *testing.T) {
	p, reg, src, sub := testPoller(t, 1)

	// A start command marked the server starting; the process is now up.
	_, _, err := reg.SetStatus(0, server.StatusStarting)
	require.NoError(t, err)
	src.set(0, server.StatusRunning)

	p.PollOnce(context.Background())
	resp := waitEvent(t, sub)
	require.Equal(t, server.StatusRunning, resp.Server.Status)
}

func TestPollOnceDetectsCrash(t *testing.T) {
	p, reg, src, sub := testPoller(t, 1)
	src.set(0, server.StatusRunning)
	p.PollOnce(context.Background())
	waitEvent(t, sub)

	src.set(0, server.StatusStopped)
	p.PollOnce(context.Background())
	resp := waitEvent(t, sub)
	require.Equal(t, server.StatusStopped, resp.Server.Status)

	d, err := reg.Get(0)
	require.NoError(t, err)
	require.Equal(t, server.StatusStopped, d.Status)
}

type memorySink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memorySink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func TestHistoryGetsOneEventPerTransition(t *testing.T) {
	p, _, src, sub := testPoller(t, 1)
	sink := &memorySink{}
	p.SetHistorySink(sink)

	src.set(0, server.StatusRunning)
	p.PollOnce(context.Background())
	waitEvent(t, sub)
	// A second sweep with no change records nothing new.
	p.PollOnce(context.Background())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1)
	require.Equal(t, server.StatusStopped, sink.events[0].From)
	require.Equal(t, server.StatusRunning, sink.events[0].To)
}

func TestRunStopsOnStop(t *testing.T) {
	p, _, _, _ := testPoller(t, 1)
	go p.Run(context.Background())
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStopBeforeRunReturns(t *testing.T) {
	p, _, _, _ := testPoller(t, 1)
	done := make(chan struct{})
	go func() {
		p.Stop()
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked without a running loop")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	p, _, _, _ := testPoller(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(finished)
	}()
	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunTicks(t *testing.T) {
	specs := []server.Spec{{Name: "srv", Command: "sleep 100"}}
	reg := registry.New(specs)
	src := &fakeSource{states: map[int]server.Status{0: server.StatusRunning}}
	h := hub.New(discardLogger())
	t.Cleanup(h.Close)
	sub := make(chan []byte, 64)
	h.Register(sub)

	p := New(reg, src, h, 20*time.Millisecond, discardLogger())
	go p.Run(context.Background())
	defer p.Stop()

	resp := waitEvent(t, sub)
	require.Equal(t, command.RespUpdateServer, resp.Type)
	require.Equal(t, server.StatusRunning, resp.Server.Status)
}

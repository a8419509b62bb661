package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mined-project/mined/internal/server"
)

func testSpecs(n int) []server.Spec {
	specs := make([]server.Spec, n)
	for i := range specs {
		specs[i] = server.Spec{
			Name:    fmt.Sprintf("srv-%d", i),
			Command: "sleep 100",
			Port:    25565 + i,
		}
	}
	return specs
}

func TestNewAllStopped(t *testing.T) {
	r := New(testSpecs(3))
	require.Equal(t, 3, r.Len())
	for _, d := range r.List() {
		require.Equal(t, server.StatusStopped, d.Status)
		require.False(t, d.UpdatedAt.IsZero())
	}
}

func TestGetBounds(t *testing.T) {
	r := New(testSpecs(3))

	d, err := r.Get(0)
	require.NoError(t, err)
	require.Equal(t, 0, d.ID)
	require.Equal(t, "srv-0", d.Spec.Name)

	for _, id := range []int{-1, 3, 100} {
		_, err := r.Get(id)
		var nf NotFoundError
		require.ErrorAs(t, err, &nf)
		require.Equal(t, id, nf.ID)
	}
}

func TestListOrderAndIsolation(t *testing.T) {
	r := New(testSpecs(4))
	list := r.List()
	require.Len(t, list, 4)
	for i, d := range list {
		require.Equal(t, i, d.ID)
	}

	// Mutating a returned snapshot must not leak into the registry.
	list[1].Status = server.StatusRunning
	d, err := r.Get(1)
	require.NoError(t, err)
	require.Equal(t, server.StatusStopped, d.Status)
}

func TestSetStatusReturnsPrevAndSnapshot(t *testing.T) {
	r := New(testSpecs(2))

	prev, snap, err := r.SetStatus(1, server.StatusStarting)
	require.NoError(t, err)
	require.Equal(t, server.StatusStopped, prev)
	require.Equal(t, server.StatusStarting, snap.Status)
	require.Equal(t, 1, snap.ID)

	prev, snap, err = r.SetStatus(1, server.StatusRunning)
	require.NoError(t, err)
	require.Equal(t, server.StatusStarting, prev)
	require.Equal(t, server.StatusRunning, snap.Status)
}

func TestSetStatusNoopKeepsTimestamp(t *testing.T) {
	r := New(testSpecs(1))
	_, first, err := r.SetStatus(0, server.StatusRunning)
	require.NoError(t, err)

	prev, second, err := r.SetStatus(0, server.StatusRunning)
	require.NoError(t, err)
	require.Equal(t, server.StatusRunning, prev)
	require.True(t, second.UpdatedAt.Equal(first.UpdatedAt))
}

func TestSetStatusUnknownID(t *testing.T) {
	r := New(testSpecs(1))
	_, _, err := r.SetStatus(5, server.StatusRunning)
	var nf NotFoundError
	require.True(t, errors.As(err, &nf))
	require.Equal(t, 5, nf.ID)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	r := New(testSpecs(4))
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			states := []server.Status{
				server.StatusStarting, server.StatusRunning,
				server.StatusStopping, server.StatusStopped,
			}
			for i := 0; i < 200; i++ {
				_, _, err := r.SetStatus(id, states[i%len(states)])
				require.NoError(t, err)
			}
		}(w)
	}
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				for _, d := range r.List() {
					require.True(t, d.Status.Valid())
				}
			}
		}()
	}
	wg.Wait()
}

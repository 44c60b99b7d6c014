package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/orbiter/pkg/clock"
	"github.com/cuemby/orbiter/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_DispatchesEveryCandidateOnce(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	d := New(store, fake, 4)

	var mu sync.Mutex
	seen := make(map[string]int)

	d.Register(&Task{
		Name:      "widgets",
		Interval:  10 * time.Millisecond,
		BatchSize: 10,
		Candidates: func() ([]string, error) {
			return []string{"a", "b", "c"}, nil
		},
		Handle: func(id string) error {
			mu.Lock()
			defer mu.Unlock()
			seen[id]++
			return nil
		},
	})

	d.tick(d.tasks[0])

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen["a"])
	assert.Equal(t, 1, seen["b"])
	assert.Equal(t, 1, seen["c"])
}

func TestDispatcher_SkipsAlreadyLeasedEntities(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	d := New(store, fake, 4)

	var calls int32
	task := &Task{
		Name:      "instances",
		Interval:  time.Second,
		BatchSize: 10,
		Candidates: func() ([]string, error) {
			return []string{"x"}, nil
		},
		Handle: func(id string) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	}
	d.Register(task)

	// Manually hold the lease, as if another tick were mid-flight.
	_, err := store.LeaseBatch("instances", []string{"x"}, fake.Now(), fake.Now().Add(time.Minute), 1)
	require.NoError(t, err)

	d.tick(d.tasks[0])

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestDispatcher_BatchSizeCapsConcurrentLeases(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	d := New(store, fake, 4)

	var mu sync.Mutex
	var processed []string

	d.Register(&Task{
		Name:      "jobs",
		Interval:  time.Second,
		BatchSize: 2,
		Candidates: func() ([]string, error) {
			return []string{"1", "2", "3", "4"}, nil
		},
		Handle: func(id string) error {
			mu.Lock()
			defer mu.Unlock()
			processed = append(processed, id)
			return nil
		},
	})

	d.tick(d.tasks[0])

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, processed, 2)
}

func TestDispatcher_HandlerErrorDoesNotStopOtherEntities(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	d := New(store, fake, 4)

	var mu sync.Mutex
	processed := make(map[string]bool)

	d.Register(&Task{
		Name:      "runs",
		Interval:  time.Second,
		BatchSize: 10,
		Candidates: func() ([]string, error) {
			return []string{"good", "bad"}, nil
		},
		Handle: func(id string) error {
			mu.Lock()
			defer mu.Unlock()
			processed[id] = true
			if id == "bad" {
				return assertError{}
			}
			return nil
		},
	})

	d.tick(d.tasks[0])

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, processed["good"])
	assert.True(t, processed["bad"])
}

func TestDispatcher_HandlerPanicIsRecovered(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	d := New(store, fake, 4)

	d.Register(&Task{
		Name:      "fleets",
		Interval:  time.Second,
		BatchSize: 10,
		Candidates: func() ([]string, error) {
			return []string{"panicker"}, nil
		},
		Handle: func(id string) error {
			panic("boom")
		},
	})

	assert.NotPanics(t, func() {
		d.tick(d.tasks[0])
	})
}

func TestDefaultWorkerCap_Positive(t *testing.T) {
	assert.Greater(t, DefaultWorkerCap(), 0)
}

type assertError struct{}

func (assertError) Error() string { return "handler failed" }

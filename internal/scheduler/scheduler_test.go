package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panelcal/internal/card"
	"panelcal/internal/config"
)

type fakeCard struct {
	mu       sync.Mutex
	triggers []card.Trigger
	sweeps   int
	polls    int
}

func (f *fakeCard) Async(_ context.Context, t card.Trigger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, t)
}

func (f *fakeCard) Sweep() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0
}

func (f *fakeCard) StateChanged(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return false, nil
}

func TestWireRegistersCardJobs(t *testing.T) {
	s := New(time.UTC)
	c := &fakeCard{}
	cfg := config.DefaultConfig()

	require.NoError(t, s.Wire(context.Background(), c, cfg))

	assert.True(t, s.Run("refresh"))
	assert.True(t, s.Run("sweep"))
	assert.True(t, s.Run("poll"))
	assert.False(t, s.Run("missing"))

	assert.Equal(t, []card.Trigger{card.TriggerTimerTick}, c.triggers)
	assert.Equal(t, 1, c.sweeps)
	assert.Equal(t, 1, c.polls)
}

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(time.UTC)
	err := s.Add("refresh", "every so often", func() {})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "refresh")
}

func TestAddReplacesByName(t *testing.T) {
	s := New(time.UTC)
	var runs []string
	require.NoError(t, s.Add("job", "*/5 * * * *", func() { runs = append(runs, "old") }))
	require.NoError(t, s.Add("job", "*/10 * * * *", func() { runs = append(runs, "new") }))

	s.Run("job")
	assert.Equal(t, []string{"new"}, runs)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestPanickingJobIsRecovered(t *testing.T) {
	s := New(time.UTC)
	require.NoError(t, s.Add("boom", "@hourly", func() { panic("boom") }))
	assert.NotPanics(t, func() { s.Run("boom") })
}

func TestStartComputesNextRun(t *testing.T) {
	s := New(time.UTC)
	require.NoError(t, s.Add("sweep", SweepSpec, func() {}))
	assert.True(t, s.Next("sweep").IsZero())

	s.Start()
	defer s.Stop(context.Background())
	assert.Eventually(t, func() bool {
		next := s.Next("sweep")
		return !next.IsZero() && next.Minute() == 0
	}, time.Second, 10*time.Millisecond)
}

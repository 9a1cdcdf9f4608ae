package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsJobs(t *testing.T) {
	s := NewScheduler(nil)
	var runs atomic.Int32
	require.NoError(t, s.Every(time.Second, "tick", func(ctx context.Context) {
		runs.Add(1)
	}))
	require.NoError(t, s.Every(time.Second, "panics", func(context.Context) { panic("boom") }))

	s.Start()
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduleExpiryCheck(t *testing.T) {
	h := newHarness(t)
	s := NewScheduler(nil)
	assert.NoError(t, ScheduleExpiryCheck(s, h.sessions()))
	assert.Len(t, s.cron.Entries(), 1)
}

package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobEventRelayPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	sink := func(e JobEvent) {
		mu.Lock()
		got = append(got, e.Event)
		mu.Unlock()
	}

	relay := NewJobEventRelay(16, sink)
	go relay.Start()

	tr, _ := newTestTracker(t)
	tr.SetNotifier(relay.Notify)
	ctx := context.Background()
	job, err := tr.CreateJob(ctx, JobReboot, 1, nil)
	require.NoError(t, err)
	_, err = tr.UpdateProgress(ctx, job.ID, 1, 0)
	require.NoError(t, err)
	_, err = tr.CompleteJob(ctx, job.ID)
	require.NoError(t, err)

	relay.Stop()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"created", "progress", "completed"}, got)
}

func TestJobEventRelayDropsWhenFull(t *testing.T) {
	relay := NewJobEventRelay(1)
	relay.Notify(JobEvent{Event: "a"})
	relay.Notify(JobEvent{Event: "b"})
	assert.Equal(t, int64(1), relay.Dropped())

	go relay.Start()
	relay.Stop()
}

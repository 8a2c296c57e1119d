package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_RunNowIsSynchronous(t *testing.T) {
	var runs int32
	task := NewTask("flush", 0, func(ctx context.Context) { atomic.AddInt32(&runs, 1) })

	task.RunNow(context.Background())
	task.RunNow(context.Background())
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))

	// interval 0 never starts a loop
	task.Start(context.Background())
	assert.False(t, task.Running())
}

func TestTask_StartStop(t *testing.T) {
	var runs int32
	task := NewTask("tick", 5*time.Millisecond, func(ctx context.Context) { atomic.AddInt32(&runs, 1) })

	task.Start(context.Background())
	require.True(t, task.Running())
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 2 }, time.Second, 5*time.Millisecond)

	task.Stop()
	assert.False(t, task.Running())
	after := atomic.LoadInt32(&runs)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&runs))

	// stopping twice is safe
	task.Stop()
}

func TestTask_RecoversPanics(t *testing.T) {
	task := NewTask("boom", 0, func(ctx context.Context) { panic("bad cycle") })
	assert.NotPanics(t, func() { task.RunNow(context.Background()) })
}

func TestCron_AddValidatesSpec(t *testing.T) {
	c := NewCron(context.Background())
	require.NoError(t, c.Add("@daily", "audit-cleanup", func(ctx context.Context) {}))
	assert.Error(t, c.Add("not a spec", "broken", func(ctx context.Context) {}))
	assert.Equal(t, 1, c.Len())

	c.Start()
	c.Stop()
}

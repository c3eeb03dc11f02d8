package ticker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskStop(t *testing.T) {
	assert := assert.New(t)

	var runs atomic.Int64
	task := Start(context.Background(), time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	assert.Eventually(func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)

	task.Stop()
	task.Stop()
	assert.NoError(task.Err())
	after := runs.Load()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(after, runs.Load())
}

func TestTaskError(t *testing.T) {
	assert := assert.New(t)

	boom := errors.New("boom")
	task := Start(context.Background(), time.Millisecond, func(ctx context.Context) error {
		return boom
	})
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not exit")
	}
	assert.ErrorIs(task.Err(), boom)
	task.Stop()
}

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterJob(t *testing.T) {
	s := New()
	job := &FuncJob{JobName: "verify", Fn: func(context.Context) error { return nil }}

	require.NoError(t, s.RegisterJob(job, JobConfig{Cron: "@every 1m", Enabled: true}))
	assert.Error(t, s.RegisterJob(job, JobConfig{Cron: "@every 1m", Enabled: true}))

	bad := &FuncJob{JobName: "bad", Fn: func(context.Context) error { return nil }}
	assert.Error(t, s.RegisterJob(bad, JobConfig{Cron: "not a cron", Enabled: true}))
	// 注册失败后可以重新注册
	assert.NoError(t, s.RegisterJob(bad, JobConfig{Enabled: false}))

	assert.Error(t, s.TriggerJob("missing"))
}

func TestTriggerJob_SkipsOverlap(t *testing.T) {
	s := New()
	var runs atomic.Int32
	release := make(chan struct{})
	job := &FuncJob{JobName: "sweep", JobTimeout: time.Second, Fn: func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return errors.New("history unavailable")
	}}
	require.NoError(t, s.RegisterJob(job, JobConfig{Enabled: false}))

	require.NoError(t, s.TriggerJob("sweep"))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	// 上一次未结束, 本次跳过
	s.executeJob(job)
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	s.Stop()

	s.executeJob(job)
	assert.Equal(t, int32(1), runs.Load())
}

func TestJobTimeout(t *testing.T) {
	s := New()
	defer s.Stop()
	done := make(chan error, 1)
	job := &FuncJob{JobName: "slow", JobTimeout: 20 * time.Millisecond, Fn: func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}}
	s.executeJob(job)
	assert.ErrorIs(t, <-done, context.DeadlineExceeded)

	assert.Equal(t, time.Minute, (&FuncJob{}).Timeout())
}

package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/worker"
)

type countingJob struct {
	runs     chan struct{}
	checkErr error
	ok       bool
	checks   atomic.Int32
}

func newCountingJob(ok bool) *countingJob {
	return &countingJob{runs: make(chan struct{}, 16), ok: ok}
}

func (j *countingJob) Run(context.Context) *worker.RefreshResult {
	j.runs <- struct{}{}
	if !j.ok {
		return &worker.RefreshResult{Errors: []worker.RefreshError{{Step: worker.StepAggregate, Error: "boom"}}}
	}
	return &worker.RefreshResult{Aggregate: &airquality.AggregationResult{ValidCount: 3}}
}

func (j *countingJob) Check(context.Context) error {
	j.checks.Add(1)
	return j.checkErr
}

func waitRun(t *testing.T, runs <-chan struct{}) {
	t.Helper()
	select {
	case <-runs:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestScheduler_InitialDelayThenInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	job := newCountingJob(true)
	s := worker.NewScheduler(worker.SchedulerConfig{
		Job:          job,
		Logger:       zerolog.Nop(),
		Interval:     10 * time.Minute,
		InitialDelay: 30 * time.Second,
		Clock:        clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	blockCtx, blockCancel := context.WithTimeout(ctx, 2*time.Second)
	defer blockCancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 2))

	clock.Advance(29 * time.Second)
	assert.Empty(t, job.runs)

	clock.Advance(time.Second)
	waitRun(t, job.runs)

	clock.Advance(10*time.Minute - 30*time.Second)
	waitRun(t, job.runs)

	clock.Advance(10 * time.Minute)
	waitRun(t, job.runs)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestNewScheduler_Defaults(t *testing.T) {
	clock := clockwork.NewFakeClock()
	job := newCountingJob(true)
	s := worker.NewScheduler(worker.SchedulerConfig{Job: job, Logger: zerolog.Nop(), Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Start(ctx) }()

	blockCtx, blockCancel := context.WithTimeout(ctx, 2*time.Second)
	defer blockCancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 2))

	clock.Advance(30 * time.Second)
	waitRun(t, job.runs)
}

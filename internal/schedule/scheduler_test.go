package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	block chan struct{}
	err   error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		<-j.block
	}
	return j.err
}

func TestAddJob(t *testing.T) {
	s := NewCronScheduler()
	require.NoError(t, s.AddJob(&countingJob{name: "b"}, "*/5 * * * *"))
	require.NoError(t, s.AddJob(&countingJob{name: "a"}, "0 3 * * *"))
	require.Error(t, s.AddJob(&countingJob{name: "a"}, "0 4 * * *"))
	require.Error(t, s.AddJob(&countingJob{name: "c"}, "not a spec"))
	require.Equal(t, []string{"a", "b"}, s.Jobs())
}

func TestWrapSkipsOverlappingRuns(t *testing.T) {
	s := NewCronScheduler()
	job := &countingJob{name: "slow", block: make(chan struct{})}
	fn := s.wrap(job, "* * * * *")

	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	fn()
	require.Equal(t, int32(1), job.runs.Load())

	close(job.block)
	<-done
	job.block = nil
	fn()
	require.Equal(t, int32(2), job.runs.Load())
}

func TestRunJob(t *testing.T) {
	boom := errors.New("boom")
	require.ErrorIs(t, RunJob(context.Background(), &countingJob{name: "x", err: boom}), boom)
	require.NoError(t, RunJob(context.Background(), &countingJob{name: "y"}))
}

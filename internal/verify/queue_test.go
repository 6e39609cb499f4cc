package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptedJob returns a scripted sequence of outcomes and records its runs.
type scriptedJob struct {
	name     string
	outcomes []Outcome
	err      error
	runs     int
	next     Job
	done     chan struct{}
}

func (j *scriptedJob) Name() string { return j.name }
func (j *scriptedJob) Next() Job    { return j.next }

func (j *scriptedJob) Run(context.Context) (Outcome, error) {
	j.runs++
	if j.err != nil {
		return Stop, j.err
	}
	outcome := j.outcomes[0]
	if len(j.outcomes) > 1 {
		j.outcomes = j.outcomes[1:]
	}
	if outcome == Stop && j.done != nil {
		close(j.done)
	}
	return outcome, nil
}

func TestRunChain_RepeatThenAdvance(t *testing.T) {
	second := &scriptedJob{name: "second", outcomes: []Outcome{Stop}}
	first := &scriptedJob{name: "first", outcomes: []Outcome{Repeat, Repeat, Advance}, next: second}

	require.NoError(t, RunChain(context.Background(), first))
	require.Equal(t, 3, first.runs)
	require.Equal(t, 1, second.runs)
}

func TestRunChain_AdvanceWithoutNextStops(t *testing.T) {
	job := &scriptedJob{name: "solo", outcomes: []Outcome{Advance}}
	require.NoError(t, RunChain(context.Background(), job))
	require.Equal(t, 1, job.runs)
}

func TestRunChain_ErrorAborts(t *testing.T) {
	second := &scriptedJob{name: "second", outcomes: []Outcome{Stop}}
	first := &scriptedJob{name: "first", err: errors.New("boom"), next: second}

	require.Error(t, RunChain(context.Background(), first))
	require.Zero(t, second.runs)
}

func TestQueue_DrivesChain(t *testing.T) {
	done := make(chan struct{})
	second := &scriptedJob{name: "second", outcomes: []Outcome{Stop}, done: done}
	first := &scriptedJob{name: "first", outcomes: []Outcome{Repeat, Advance}, next: second}

	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue(4)
	q.Start(ctx)

	require.True(t, q.Enqueue(first))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("chain did not complete")
	}

	cancel()
	q.Stop()

	require.Equal(t, 2, first.runs)
	require.Equal(t, 1, second.runs)
}

func TestQueue_FullBacklogDropsEnqueue(t *testing.T) {
	q := NewQueue(1)
	job := &scriptedJob{name: "job", outcomes: []Outcome{Stop}}

	// Worker not started, so the single slot fills and stays full.
	require.True(t, q.Enqueue(job))
	require.False(t, q.Enqueue(job))
}

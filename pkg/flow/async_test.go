package flow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func TestAsyncFlow_RunMatchesSyncContract(t *testing.T) {
	tr := &trace{}
	af := NewAsync("async", WithLogger(quietLogger()), WithPoolSize(2))
	defer af.Close()
	require.NoError(t, af.Chain(NewStep("A", tracedNode(tr, "A")), NewStep("B", tracedNode(tr, "B"))))

	shared, err := af.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"A.prepare", "A.execute", "A.finalize",
		"B.prepare", "B.execute", "B.finalize",
	}, tr.calls)
	v, _ := shared.Get("B")
	assert.Equal(t, "B-done", v)
}

func TestAsyncFlow_RetryAndExhaustion(t *testing.T) {
	var executes atomic.Int32
	af := NewAsync("async-retry", WithLogger(quietLogger()))
	defer af.Close()
	require.NoError(t, af.Start(NewStep("call", Funcs[int, int]{
		ExecuteFunc: func(ctx context.Context, in int) (int, error) {
			executes.Add(1)
			return 0, errors.New("timeout talking to provider")
		},
	}, WithMaxAttempts(2))))

	_, err := af.Run(context.Background(), nil)
	assert.ErrorIs(t, err, schema.ErrExecutionFailed)
	assert.Equal(t, int32(2), executes.Load())
}

func TestAsyncFlow_StartReturnsImmediately(t *testing.T) {
	release := make(chan struct{})
	af := NewAsync("async-start", WithLogger(quietLogger()))
	defer af.Close()
	require.NoError(t, af.Start(NewStep("wait", Funcs[int, int]{
		ExecuteFunc: func(ctx context.Context, in int) (int, error) {
			<-release
			return 1, nil
		},
	})))

	exec := af.Submit(context.Background(), nil)
	assert.NotEmpty(t, exec.RunID())
	assert.NoError(t, exec.Err())

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := exec.Wait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "giving up on Wait does not stop the run")
	assert.Equal(t, schema.RunStateRunning, exec.State())

	close(release)
	shared, err := exec.Wait(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, shared)
	assert.Equal(t, schema.RunStateSucceeded, exec.State())

	select {
	case <-exec.Done():
	default:
		t.Fatal("done channel must be closed")
	}
}

func TestAsyncFlow_CancelDoesNotWaitForStuckNode(t *testing.T) {
	stuck := make(chan struct{})
	defer close(stuck)

	af := NewAsync("async-cancel", WithLogger(quietLogger()))
	require.NoError(t, af.Start(NewStep("stuck", Funcs[int, int]{
		// Ignores ctx on purpose.
		ExecuteFunc: func(_ context.Context, in int) (int, error) {
			<-stuck
			return 0, nil
		},
	}, WithMaxAttempts(3))))

	exec := af.Submit(context.Background(), nil)
	time.Sleep(20 * time.Millisecond)
	exec.Cancel()

	select {
	case <-exec.Done():
	case <-time.After(time.Second):
		t.Fatal("cancelled run did not finish")
	}
	assert.ErrorIs(t, exec.Err(), schema.ErrCancelled)
	assert.Equal(t, schema.RunStateFailed, exec.State())
}

func TestAsyncFlow_ConcurrentRuns(t *testing.T) {
	var inflight, peak atomic.Int32
	af := NewAsync("async-many", WithLogger(quietLogger()), WithPoolSize(3))
	defer af.Close()
	require.NoError(t, af.Start(NewStep("work", Funcs[int, int]{
		PrepareFunc: func(ctx context.Context, s *Shared) (int, error) {
			return Require[int](s, "n")
		},
		ExecuteFunc: func(ctx context.Context, in int) (int, error) {
			c := inflight.Add(1)
			for {
				p := peak.Load()
				if c <= p || peak.CompareAndSwap(p, c) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			inflight.Add(-1)
			return in * in, nil
		},
		FinalizeFunc: func(ctx context.Context, s *Shared, in, out int) (schema.Action, error) {
			s.Set("square", out)
			return "", nil
		},
	})))

	var execs []*Execution
	for i := 0; i < 8; i++ {
		execs = append(execs, af.Submit(context.Background(), NewShared(map[string]any{"n": i})))
	}
	for i, ex := range execs {
		shared, err := ex.Wait(context.Background())
		require.NoError(t, err)
		v, _ := shared.Get("square")
		assert.Equal(t, i*i, v)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestAsyncFlow_NoEntry(t *testing.T) {
	af := NewAsync("async-empty", WithLogger(quietLogger()))
	defer af.Close()
	exec := af.Submit(context.Background(), nil)
	<-exec.Done()
	assert.ErrorIs(t, exec.Err(), schema.ErrNoEntryNode)
	assert.Equal(t, schema.RunStateFailed, exec.State())
}

func TestAsyncFlow_AfterClose(t *testing.T) {
	af := NewAsync("async-closed", WithLogger(quietLogger()))
	require.NoError(t, af.Start(NewStep("a", Funcs[int, int]{}, WithMaxAttempts(3))))
	af.Close()

	_, err := af.Run(context.Background(), nil)
	assert.ErrorIs(t, err, schema.ErrExecutionFailed)
	fe, _ := schema.AsFlowError(err)
	assert.Equal(t, 1, fe.Attempts)
}

func TestAsyncFlow_DoWaits(t *testing.T) {
	a := NewAsync("do", WithLogger(quietLogger()))
	defer a.Close()
	require.NoError(t, a.Start(NewStep("a", tracedNode(&trace{}, "a"))))

	ex := a.Do(context.Background(), nil)
	select {
	case <-ex.Done():
	default:
		t.Fatal("Do returned before the run finished")
	}
	require.NoError(t, ex.Err())
	assert.True(t, ex.Shared().Has("a"))
}

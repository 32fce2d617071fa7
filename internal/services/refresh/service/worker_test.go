package service

import (
	"context"
	"testing"
	"time"

	perr "curator/internal/platform/errors"
	"curator/internal/services/refresh/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcess_SuccessClearsRunning(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	job := domain.Job{EntityKey: "github:account:alice", Depth: 2, Priority: 3}

	f.runner.fn = func(ctx context.Context, j domain.Job) (domain.Result, error) {
		d, ok, err := f.q.Running(ctx, j.EntityKey)
		require.NoError(t, err)
		assert.True(t, ok, "job is marked running while it executes")
		assert.Equal(t, 2, d)
		return domain.Result{Phase: domain.PhaseDone}, nil
	}
	f.svc.process(ctx, job)

	_, ok, err := f.q.Running(ctx, job.EntityKey)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, f.runner.calls())
}

func TestProcess_TransientRequeuesAtLowestPriority(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.runner.fn = func(context.Context, domain.Job) (domain.Result, error) {
		return domain.Result{}, perr.Unavailablef("upstream down")
	}
	job := domain.Job{EntityKey: "github:account:alice", Depth: 1, Priority: 4, RequestedBy: "ops"}

	f.svc.process(ctx, job)

	p, ok, err := f.q.Pending(ctx, job.EntityKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, p)
	got, err := f.q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.Job{EntityKey: job.EntityKey, Depth: 1, Priority: 0, RequestedBy: "ops"}, got)

	n, err := f.sink.Recent(ctx, "ops", 10)
	require.NoError(t, err)
	assert.Empty(t, n, "a requeued job is not reported yet")
}

func TestProcess_RateLimitedRequeues(t *testing.T) {
	f := newFixture(t, Config{})
	f.runner.fn = func(context.Context, domain.Job) (domain.Result, error) {
		return domain.Result{}, &domain.RateLimitError{Reset: t0.Add(time.Hour), Err: perr.TooManyRequestsf("slow down")}
	}
	f.svc.process(context.Background(), domain.Job{EntityKey: "github:account:alice", Priority: 2})

	_, ok, err := f.q.Pending(context.Background(), "github:account:alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcess_PermissionDeniedRetriesThenGivesUp(t *testing.T) {
	f := newFixture(t, Config{MaxCredentialRetries: 2})
	ctx := context.Background()
	f.runner.fn = func(context.Context, domain.Job) (domain.Result, error) {
		return domain.Result{}, perr.Unauthorizedf("bad credentials")
	}
	f.svc.process(ctx, domain.Job{EntityKey: "github:account:alice", RequestedBy: "Ops"})

	assert.Equal(t, 3, f.runner.calls())
	_, ok, err := f.q.Pending(ctx, "github:account:alice")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := f.sink.Recent(ctx, "ops", 10)
	require.NoError(t, err)
	require.Len(t, n, 1)
	assert.Equal(t, domain.OutcomeError, n[0].Outcome)
	assert.Contains(t, n[0].Detail, "bad credentials")
}

func TestProcess_PermissionDeniedRecoversOnRetry(t *testing.T) {
	f := newFixture(t, Config{MaxCredentialRetries: 3})
	calls := 0
	f.runner.fn = func(context.Context, domain.Job) (domain.Result, error) {
		calls++
		if calls == 1 {
			return domain.Result{}, perr.Forbiddenf("revoked")
		}
		return domain.Result{Phase: domain.PhaseDone}, nil
	}
	f.svc.process(context.Background(), domain.Job{EntityKey: "github:account:alice"})
	assert.Equal(t, 2, calls)
}

func TestProcess_ConfigurationDrops(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.runner.fn = func(context.Context, domain.Job) (domain.Result, error) {
		return domain.Result{}, perr.Configurationf("no provider")
	}
	f.svc.process(ctx, domain.Job{EntityKey: "gitlab:account:alice", RequestedBy: "ops"})

	assert.Equal(t, 1, f.runner.calls())
	_, ok, err := f.q.Pending(ctx, "gitlab:account:alice")
	require.NoError(t, err)
	assert.False(t, ok)
	n, _ := f.sink.Recent(ctx, "ops", 10)
	assert.Len(t, n, 1)
}

func TestProcess_AggregateIsNotRequeued(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.runner.fn = func(context.Context, domain.Job) (domain.Result, error) {
		return domain.Result{Phase: domain.PhaseDone}, &domain.AggregateError{
			EntityKey: "github:account:alice",
			Failures:  []domain.CollectionError{{Collection: "followers", Err: perr.Unavailablef("timeout")}},
		}
	}
	f.svc.process(ctx, domain.Job{EntityKey: "github:account:alice", RequestedBy: "ops"})

	_, ok, err := f.q.Pending(ctx, "github:account:alice")
	require.NoError(t, err)
	assert.False(t, ok)
	n, _ := f.sink.Recent(ctx, "ops", 10)
	assert.Empty(t, n, "the orchestrator already reported the partial failure")
}

func TestProcess_PanicIsContained(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.runner.fn = func(context.Context, domain.Job) (domain.Result, error) {
		panic("boom")
	}
	require.NotPanics(t, func() {
		f.svc.process(ctx, domain.Job{EntityKey: "github:account:alice", RequestedBy: "ops"})
	})

	_, ok, err := f.q.Running(ctx, "github:account:alice")
	require.NoError(t, err)
	assert.False(t, ok)
	n, _ := f.sink.Recent(ctx, "ops", 10)
	require.Len(t, n, 1)
	assert.Contains(t, n[0].Detail, "boom")
}

func TestRun_WorkersDrainQueueAndStop(t *testing.T) {
	f := newFixture(t, Config{Concurrency: 3})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, k := range []string{"github:account:a", "github:account:b", "github:account:c", "github:account:d"} {
		_, err := f.q.Enqueue(ctx, domain.Job{EntityKey: k, Priority: 1})
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()

	require.Eventually(t, func() bool { return f.runner.calls() == 4 }, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestRun_RequiresOrchestrator(t *testing.T) {
	f := newFixture(t, Config{})
	f.svc.d.Orchestrator = nil
	err := f.svc.Run(context.Background())
	assert.True(t, perr.IsCode(err, perr.ErrorCodeConfiguration))
}

func TestBackendOf(t *testing.T) {
	assert.Equal(t, "github", backendOf("github:account:alice"))
	assert.Equal(t, "", backendOf(""))
}

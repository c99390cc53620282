package dispatch

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"roadcall/internal/job"
)

func TestConcurrentAcceptHasExactlyOneWinner(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		f.addProvider(fmt.Sprintf("p%02d", i), job.RoleTowTruck, north(pickup, float64(i)+0.5))
	}
	ctx := context.Background()

	out, err := f.svc.Create(ctx, "cust-1", towJob(""))
	require.NoError(t, err)
	offered := append([]string(nil), out.Job.BroadcastedTo...)
	require.Len(t, offered, 10)

	results := make([]error, len(offered))
	start := make(chan struct{})
	var g errgroup.Group
	for i, pid := range offered {
		g.Go(func() error {
			<-start
			_, err := f.svc.Accept(ctx, pid, out.Job.ID)
			results[i] = err
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	winner := ""
	for i, err := range results {
		if err == nil {
			require.Empty(t, winner, "second winner %s", offered[i])
			winner = offered[i]
			continue
		}
		assert.ErrorIs(t, err, job.ErrAssignmentConflict)
	}
	require.NotEmpty(t, winner)

	got, err := f.store.Get(ctx, out.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusAssigned, got.Status)
	assert.Equal(t, winner, got.Assignee())
	assert.NotNil(t, got.LockedAt)
	assert.Len(t, got.DispatchAttempts, 10)
	assert.ElementsMatch(t, offered, []string(got.BroadcastedTo))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.accepts.WithLabelValues("assigned")))
	assert.Equal(t, 9.0, testutil.ToFloat64(f.metrics.accepts.WithLabelValues("conflict")))
}

func TestTwoProvidersAcceptSameJob(t *testing.T) {
	f := newFixture(t)
	f.addProvider("A", job.RoleTowTruck, north(pickup, 2))
	f.addProvider("B", job.RoleTowTruck, north(pickup, 3))
	ctx := context.Background()

	out, err := f.svc.Create(ctx, "cust-1", towJob(""))
	require.NoError(t, err)

	pids := []string{"A", "B"}
	results := make([]error, len(pids))
	var g errgroup.Group
	for i, pid := range pids {
		g.Go(func() error {
			_, results[i] = f.svc.Accept(ctx, pid, out.Job.ID)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, job.ErrAssignmentConflict)
		}
	}
	assert.Equal(t, 1, wins)

	got, err := f.store.Get(ctx, out.Job.ID)
	require.NoError(t, err)
	ids := []string{got.DispatchAttempts[0].ProviderID, got.DispatchAttempts[1].ProviderID}
	assert.ElementsMatch(t, []string{"A", "B"}, ids)
}

func TestAcceptRequiresLiveOffer(t *testing.T) {
	f := newFixture(t)
	f.addProvider("A", job.RoleTowTruck, north(pickup, 2))
	f.addProvider("outsider", job.RoleMechanic, north(pickup, 1))
	ctx := context.Background()

	out, err := f.svc.Create(ctx, "cust-1", towJob(""))
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, "outsider", out.Job.ID)
	assert.ErrorIs(t, err, job.ErrAssignmentConflict)

	_, err = f.svc.Accept(ctx, "A", "no-such-job")
	assert.ErrorIs(t, err, job.ErrNotFound)

	j, err := f.svc.Accept(ctx, "A", out.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", j.Assignee())

	_, err = f.svc.Accept(ctx, "A", out.Job.ID)
	assert.ErrorIs(t, err, job.ErrAssignmentConflict, "second accept by the winner")
}

func TestAcceptAfterCustomerCancelLoses(t *testing.T) {
	f := newFixture(t)
	f.addProvider("A", job.RoleTowTruck, north(pickup, 2))
	ctx := context.Background()

	out, err := f.svc.Create(ctx, "cust-1", towJob(""))
	require.NoError(t, err)
	_, err = f.svc.CustomerCancel(ctx, "cust-1", out.Job.ID, "found help")
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, "A", out.Job.ID)
	assert.ErrorIs(t, err, job.ErrAssignmentConflict)
}

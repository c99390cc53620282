package dispatch

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadcall/internal/geo"
	"roadcall/internal/job"
)

func TestCreateRefusesWhenNobodyCanServe(t *testing.T) {
	f := newFixture(t)
	f.addProvider("mech", job.RoleMechanic, north(pickup, 1))
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "cust-1", towJob(""))
	assert.ErrorIs(t, err, job.ErrNoProviders)

	jobs, err := f.svc.ListForCustomer(ctx, "cust-1", 0)
	require.NoError(t, err)
	assert.Empty(t, jobs, "nothing persisted")
}

func TestCreateValidates(t *testing.T) {
	f := newFixture(t)
	f.addProvider("A", job.RoleTowTruck, north(pickup, 1))

	noDropoff := &job.Job{RoleNeeded: job.RoleTowTruck, Pickup: pickup}
	_, err := f.svc.Create(context.Background(), "cust-1", noDropoff)
	var ve *job.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "dropoff", ve.Field)

	badPickup := &job.Job{RoleNeeded: job.RoleMechanic, Pickup: geo.Point{Lat: 95, Lng: 28}}
	_, err = f.svc.Create(context.Background(), "cust-1", badPickup)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "pickup", ve.Field)
}

func TestMechanicJobNeedsNoDropoff(t *testing.T) {
	f := newFixture(t)
	f.addProvider("M", job.RoleMechanic, north(pickup, 1))

	out, err := f.svc.Create(context.Background(), "cust-1", &job.Job{
		RoleNeeded:  job.RoleMechanic,
		Pickup:      pickup,
		VehicleType: "Sedan",
	})
	require.NoError(t, err)
	_, hasDropoff := out.Job.Dropoff()
	assert.False(t, hasDropoff)
	assert.Equal(t, []string{"M"}, []string(out.Job.BroadcastedTo))
	assert.Equal(t, "cust-1", out.Job.CustomerID)
	assert.NotEmpty(t, out.Job.ID)
}

func TestDispatchChecksOwnershipAndOutstandingOffers(t *testing.T) {
	f := newFixture(t)
	f.addProvider("A", job.RoleTowTruck, north(pickup, 1))
	ctx := context.Background()

	out, err := f.svc.Create(ctx, "cust-1", towJob(""))
	require.NoError(t, err)

	_, err = f.svc.Dispatch(ctx, "cust-2", out.Job.ID)
	assert.ErrorIs(t, err, job.ErrForbidden)

	again, err := f.svc.Dispatch(ctx, "cust-1", out.Job.ID)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, 1, again.Job.BroadcastRounds)
}

func TestJobRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	f.addProvider("A", job.RoleTowTruck, north(pickup, 1))
	ctx := context.Background()
	a := job.Actor{ID: "A", Kind: job.ActorProvider}

	out, err := f.svc.Create(ctx, "cust-1", towJob(""))
	require.NoError(t, err)
	id := out.Job.ID

	_, err = f.svc.UpdateStatus(ctx, a, id, job.StatusInProgress)
	assert.ErrorIs(t, err, job.ErrNotAssigned, "cannot start before accepting")

	_, err = f.svc.Accept(ctx, "A", id)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, a, id, job.StatusCompleted)
	var ite *job.IllegalTransitionError
	require.ErrorAs(t, err, &ite, "ASSIGNED cannot skip to COMPLETED")
	assert.Equal(t, job.StatusAssigned, ite.Current)

	j, err := f.svc.UpdateStatus(ctx, a, id, job.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, job.StatusInProgress, j.Status)
	assert.Equal(t, f.clock, *j.StartedAt)

	j, err = f.svc.UpdateStatus(ctx, a, id, job.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, j.Status)
	assert.NotNil(t, j.CompletedAt)

	_, err = f.svc.CustomerCancel(ctx, "cust-1", id, "too late")
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, job.StatusCompleted, ite.Current)

	_, err = f.svc.UpdateStatus(ctx, job.Actor{ID: "cust-1", Kind: job.ActorCustomer}, id, job.StatusCancelled)
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, job.StatusCompleted, ite.Current)
}

func TestUpdateStatusRoutesByActor(t *testing.T) {
	f := newFixture(t)
	f.addProvider("A", job.RoleTowTruck, north(pickup, 1))
	ctx := context.Background()

	out, err := f.svc.Create(ctx, "cust-1", towJob(""))
	require.NoError(t, err)
	id := out.Job.ID
	_, err = f.svc.Accept(ctx, "A", id)
	require.NoError(t, err)

	var ite *job.IllegalTransitionError
	_, err = f.svc.UpdateStatus(ctx, job.Actor{ID: "A", Kind: job.ActorProvider}, id, job.StatusCancelled)
	require.ErrorAs(t, err, &ite, "providers release through the cancel path")
	assert.Equal(t, job.StatusAssigned, ite.Current)

	_, err = f.svc.UpdateStatus(ctx, job.Actor{ID: "cust-1", Kind: job.ActorCustomer}, id, job.StatusInProgress)
	require.ErrorAs(t, err, &ite)

	_, err = f.svc.UpdateStatus(ctx, job.Actor{ID: "A", Kind: job.ActorProvider}, id, job.StatusInProgress)
	require.NoError(t, err)

	j, err := f.svc.UpdateStatus(ctx, job.Actor{ID: "ops", Kind: job.ActorAdmin}, id, job.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, j.Status)
}

func TestCustomerCancelIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.addProvider("A", job.RoleTowTruck, north(pickup, 1))
	ctx := context.Background()

	out, err := f.svc.Create(ctx, "cust-1", towJob(""))
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, "A", out.Job.ID)
	require.NoError(t, err)

	_, err = f.svc.CustomerCancel(ctx, "cust-2", out.Job.ID, "")
	assert.ErrorIs(t, err, job.ErrForbidden)

	j, err := f.svc.CustomerCancel(ctx, "cust-1", out.Job.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, j.Status)
	assert.Nil(t, j.AssignedTo)
	require.NotNil(t, j.CancelledBy)
	assert.Equal(t, "cust-1", *j.CancelledBy)
	assert.Equal(t, "changed my mind", *j.CancelReason)
	assert.Equal(t, 1, j.BroadcastRounds, "no rebroadcast")

	_, err = f.svc.Dispatch(ctx, "cust-1", out.Job.ID)
	var ite *job.IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, job.StatusCancelled, ite.Current)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.cancellations.WithLabelValues("customer")))
}

func TestGetEnforcesVisibility(t *testing.T) {
	f := newFixture(t)
	f.addProvider("A", job.RoleTowTruck, north(pickup, 1))
	f.addProvider("B", job.RoleMechanic, north(pickup, 1))
	ctx := context.Background()

	out, err := f.svc.Create(ctx, "cust-1", towJob(""))
	require.NoError(t, err)
	id := out.Job.ID

	for _, a := range []job.Actor{
		{ID: "cust-1", Kind: job.ActorCustomer},
		{ID: "A", Kind: job.ActorProvider},
		{ID: "ops", Kind: job.ActorAdmin},
	} {
		_, err := f.svc.Get(ctx, a, id)
		assert.NoError(t, err, a.ID)
	}
	for _, a := range []job.Actor{
		{ID: "cust-2", Kind: job.ActorCustomer},
		{ID: "B", Kind: job.ActorProvider},
	} {
		_, err := f.svc.Get(ctx, a, id)
		assert.ErrorIs(t, err, job.ErrForbidden, a.ID)
	}

	_, err = f.svc.Get(ctx, job.Actor{ID: "cust-1", Kind: job.ActorCustomer}, "missing")
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestAvailableListsLiveOffers(t *testing.T) {
	f := newFixture(t)
	f.addProvider("A", job.RoleTowTruck, north(pickup, 1))
	ctx := context.Background()

	first, err := f.svc.Create(ctx, "cust-1", towJob(""))
	require.NoError(t, err)
	f.tick(1)
	second, err := f.svc.Create(ctx, "cust-2", towJob(""))
	require.NoError(t, err)

	jobs, err := f.svc.Available(ctx, "A")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, first.Job.ID, jobs[0].ID)

	_, err = f.svc.Accept(ctx, "A", second.Job.ID)
	require.NoError(t, err)
	jobs, err = f.svc.Available(ctx, "A")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, first.Job.ID, jobs[0].ID)
}

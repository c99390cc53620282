package memory

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"roadcall/internal/auth"
	"roadcall/internal/geo"
	"roadcall/internal/job"
	"roadcall/internal/provider"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newJob(t *testing.T, s *Store, id string) *job.Job {
	t.Helper()
	j := &job.Job{ID: id, CustomerID: "c1", RoleNeeded: job.RoleMechanic, Pickup: geo.Point{Lat: -26.2, Lng: 28}}
	require.NoError(t, s.Create(context.Background(), j))
	return j
}

func TestCreateRejectsDuplicateIDs(t *testing.T) {
	s := New()
	newJob(t, s, "j1")
	err := s.Create(context.Background(), &job.Job{ID: "j1"})
	assert.ErrorIs(t, err, job.ErrStaleState)

	_, err = s.Get(context.Background(), "j2")
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestGetReturnsCopies(t *testing.T) {
	s := New()
	newJob(t, s, "j1")
	ctx := context.Background()
	_, err := s.RecordBroadcast(ctx, "j1", []string{"p1"}, t0)
	require.NoError(t, err)

	a, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	a.BroadcastedTo[0] = "mutated"
	a.Status = job.StatusCancelled

	b, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, []string(b.BroadcastedTo))
	assert.Equal(t, job.StatusBroadcasted, b.Status)
}

func TestConcurrentAccept(t *testing.T) {
	s := New()
	newJob(t, s, "j1")
	ctx := context.Background()

	pids := make([]string, 50)
	for i := range pids {
		pids[i] = fmt.Sprintf("p%d", i)
	}
	_, err := s.RecordBroadcast(ctx, "j1", pids, t0)
	require.NoError(t, err)

	var wins atomic.Int32
	var g errgroup.Group
	for _, pid := range pids {
		g.Go(func() error {
			_, err := s.Accept(ctx, "j1", pid, t0)
			switch {
			case err == nil:
				wins.Add(1)
				return nil
			case err == job.ErrStaleState:
				return nil
			default:
				return err
			}
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
}

func TestReleaseExcludesOnce(t *testing.T) {
	s := New()
	newJob(t, s, "j1")
	ctx := context.Background()

	for round := 0; round < 2; round++ {
		_, err := s.RecordBroadcast(ctx, "j1", []string{"p1"}, t0)
		require.NoError(t, err)
		_, err = s.Accept(ctx, "j1", "p1", t0)
		require.NoError(t, err)
		j, err := s.Release(ctx, "j1", "p1", "breakdown", t0)
		require.NoError(t, err)
		assert.Equal(t, []string{"p1"}, []string(j.ExcludedProviders))
		assert.Equal(t, job.StatusBroadcasted, j.Status)
		assert.Nil(t, j.AssignedTo)
		assert.Empty(t, j.BroadcastedTo)
	}

	_, err := s.Release(ctx, "j1", "p1", "", t0)
	assert.ErrorIs(t, err, job.ErrStaleState)
}

func TestCancelConditions(t *testing.T) {
	s := New()
	ctx := context.Background()
	newJob(t, s, "j1")
	_, err := s.RecordBroadcast(ctx, "j1", []string{"p1"}, t0)
	require.NoError(t, err)

	_, err = s.Cancel(ctx, "j1", job.Cancellation{CustomerID: "someone", By: "someone", At: t0})
	assert.ErrorIs(t, err, job.ErrStaleState)

	_, err = s.Cancel(ctx, "j1", job.Cancellation{By: "system", At: t0, NoOffers: true})
	assert.ErrorIs(t, err, job.ErrStaleState, "offers outstanding")

	j, err := s.Cancel(ctx, "j1", job.Cancellation{CustomerID: "c1", By: "c1", Reason: "nvm", At: t0})
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, j.Status)
	assert.Equal(t, "c1", *j.CancelledBy)

	_, err = s.Cancel(ctx, "j1", job.Cancellation{CustomerID: "c1", By: "c1", At: t0})
	assert.ErrorIs(t, err, job.ErrStaleState)
}

func ids(jobs []job.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

func TestListStarved(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []string{"created", "starved", "older", "offered", "recent"} {
		require.NoError(t, s.Create(ctx, &job.Job{ID: id, CustomerID: "c1", RoleNeeded: job.RoleMechanic, CreatedAt: t0}))
	}

	_, err := s.RecordBroadcast(ctx, "older", nil, t0.Add(-time.Minute))
	require.NoError(t, err)
	_, err = s.RecordBroadcast(ctx, "starved", nil, t0)
	require.NoError(t, err)
	_, err = s.RecordBroadcast(ctx, "offered", []string{"p1"}, t0)
	require.NoError(t, err)
	_, err = s.RecordBroadcast(ctx, "recent", nil, t0.Add(time.Minute))
	require.NoError(t, err)

	q := job.StarvedQuery{Now: t0.Add(30 * time.Second), MaxBackoff: 5 * time.Minute, TTL: 30 * time.Minute}
	got, err := s.ListStarved(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"older", "starved"}, ids(got))

	q.Limit = 1
	got, err = s.ListStarved(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"older"}, ids(got))

	// Past the TTL even the job that is still backing off is listed.
	q = job.StarvedQuery{Now: t0.Add(30 * time.Minute), MaxBackoff: time.Hour, TTL: 30 * time.Minute}
	_, err = s.RecordBroadcast(ctx, "recent", nil, t0.Add(30*time.Minute-time.Second))
	require.NoError(t, err)
	got, err = s.ListStarved(ctx, q)
	require.NoError(t, err)
	assert.Contains(t, ids(got), "recent")
}

func TestListUndispatchedPages(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []string{"d", "b", "a", "c"} {
		require.NoError(t, s.Create(ctx, &job.Job{ID: id, CustomerID: "c1", RoleNeeded: job.RoleMechanic, CreatedAt: t0}))
	}
	require.NoError(t, s.Create(ctx, &job.Job{ID: "0-late", CustomerID: "c1", RoleNeeded: job.RoleMechanic, CreatedAt: t0.Add(time.Second)}))
	_, err := s.RecordBroadcast(ctx, "c", nil, t0)
	require.NoError(t, err)

	page, err := s.ListUndispatched(ctx, job.Cursor{}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(page))

	page, err = s.ListUndispatched(ctx, job.CursorOf(&page[1]), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "0-late"}, ids(page))

	page, err = s.ListUndispatched(ctx, job.CursorOf(&page[1]), 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestReleaseStampsReleaseTime(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &job.Job{ID: "j1", CustomerID: "c1", RoleNeeded: job.RoleMechanic, CreatedAt: t0}))
	_, err := s.RecordBroadcast(ctx, "j1", []string{"p1"}, t0)
	require.NoError(t, err)
	_, err = s.Accept(ctx, "j1", "p1", t0)
	require.NoError(t, err)

	j, err := s.Release(ctx, "j1", "p1", "flat tyre", t0.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, j.LastReleasedAt)
	assert.Equal(t, t0.Add(time.Hour), *j.LastReleasedAt)
	assert.Equal(t, t0.Add(time.Hour), j.StarvedSince())
}

func TestNearbyAndPresence(t *testing.T) {
	s := New()
	ctx := context.Background()
	here := geo.Point{Lat: -26.2, Lng: 28}
	far := geo.Point{Lat: -25.0, Lng: 28}
	s.PutProvider(provider.Provider{ID: "near", Role: job.RoleMechanic, IsOnline: true, VerificationStatus: provider.VerificationApproved, Location: &here})
	s.PutProvider(provider.Provider{ID: "far", Role: job.RoleMechanic, IsOnline: true, VerificationStatus: provider.VerificationApproved, Location: &far})
	s.PutProvider(provider.Provider{ID: "off", Role: job.RoleMechanic, VerificationStatus: provider.VerificationApproved})

	q := provider.Query{Role: job.RoleMechanic, Center: here, RadiusKm: 20}
	got, err := s.Nearby(ctx, q)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].ID)

	require.NoError(t, s.UpdatePresence(ctx, "off", provider.Presence{IsOnline: true, Location: &here, At: t0}))
	got, err = s.Nearby(ctx, q)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	err = s.UpdatePresence(ctx, "ghost", provider.Presence{IsOnline: true})
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestAutoApproveProviders(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.AutoApprove("Driver@Example.com")

	users := []auth.User{
		{ID: "u1", Email: "driver@example.com", Role: auth.RoleTowTruck},
		{ID: "u2", Email: "other@example.com", Role: auth.RoleMechanic},
		{ID: "u3", Email: "cust@example.com", Role: auth.RoleCustomer},
	}
	for i := range users {
		require.NoError(t, s.CreateUser(ctx, &users[i]))
	}

	assert.Equal(t, provider.VerificationApproved, s.providers["u1"].VerificationStatus)
	assert.Equal(t, auth.VerificationPending, s.providers["u2"].VerificationStatus)
	assert.Equal(t, auth.VerificationPending, users[2].VerificationStatus)

	s.AutoApprove("*")
	u := auth.User{ID: "u4", Email: "late@example.com", Role: auth.RoleMechanic}
	require.NoError(t, s.CreateUser(ctx, &u))
	assert.Equal(t, provider.VerificationApproved, s.providers["u4"].VerificationStatus)
}

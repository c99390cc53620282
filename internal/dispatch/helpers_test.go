package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"roadcall/internal/geo"
	"roadcall/internal/job"
	"roadcall/internal/notify"
	"roadcall/internal/payment"
	"roadcall/internal/provider"
	"roadcall/internal/store/memory"
)

var (
	pickup  = geo.Point{Lat: -26.2, Lng: 28.0}
	dropoff = geo.Point{Lat: -26.3, Lng: 28.1}
)

// north returns the point km kilometres due north of p.
func north(p geo.Point, km float64) geo.Point {
	return geo.Point{Lat: p.Lat + km/111.195, Lng: p.Lng}
}

type fixture struct {
	store   *memory.Store
	rec     *notify.Recorder
	async   *notify.Async
	reg     *prometheus.Registry
	metrics *Metrics
	paid    map[string]bool
	gateOn  bool
	svc     *Service
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		rec:   &notify.Recorder{},
		reg:   prometheus.NewRegistry(),
		paid:  map[string]bool{},
		clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	var err error
	f.metrics, err = NewMetrics(f.reg)
	require.NoError(t, err)
	f.async = notify.NewAsync(f.rec, zerolog.Nop(), time.Second)

	f.svc = New(Deps{
		Jobs:      f.store,
		Providers: f.store,
		Gate: payment.Func(func(_ context.Context, jobID string) (bool, error) {
			return !f.gateOn || f.paid[jobID], nil
		}),
		Offers:  f.async,
		Metrics: f.metrics,
		Log:     zerolog.Nop(),
		Now:     func() time.Time { return f.clock },
	})
	return f
}

func (f *fixture) tick(d time.Duration) { f.clock = f.clock.Add(d) }

func (f *fixture) addProvider(id string, role job.Role, at geo.Point, tow ...string) provider.Provider {
	p := provider.Provider{
		ID:                 id,
		Role:               role,
		IsOnline:           true,
		VerificationStatus: provider.VerificationApproved,
		Location:           &at,
		TowTruckTypes:      provider.CapabilitySet(tow),
	}
	f.store.PutProvider(p)
	return p
}

// hold stores a job already held by providerID in the given status.
func (f *fixture) hold(t *testing.T, providerID string, status job.Status, drop *geo.Point) *job.Job {
	t.Helper()
	pid := providerID
	j := &job.Job{
		ID:         "held-" + providerID + "-" + string(status),
		CustomerID: "someone-else",
		RoleNeeded: job.RoleTowTruck,
		Pickup:     north(pickup, 30),
		Status:     status,
		AssignedTo: &pid,
	}
	if drop != nil {
		j.SetDropoff(*drop)
	}
	require.NoError(t, f.store.Create(context.Background(), j))
	return j
}

func towJob(towType string) *job.Job {
	j := &job.Job{
		RoleNeeded:         job.RoleTowTruck,
		Pickup:             pickup,
		PickupAddress:      "Main Reef Rd",
		DropoffAddress:     "Workshop, Fordsburg",
		TowTruckTypeNeeded: towType,
		PayoutEstimate:     650,
	}
	j.SetDropoff(dropoff)
	return j
}

func providerIDs(cands []Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Provider.ID)
	}
	return out
}

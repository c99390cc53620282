package dispatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"roadcall/internal/geo"
	"roadcall/internal/job"
	"roadcall/internal/provider"
)

// ActiveJobLister is the slice of job.Store the matcher reads.
type ActiveJobLister interface {
	ListActive(ctx context.Context, providerIDs []string) ([]job.Job, error)
}

// Candidate is an eligible provider and their distance to the pickup.
type Candidate struct {
	Provider   provider.Provider
	DistanceKm float64
}

// Matcher finds providers who may be offered a job. It is read-only and
// recomputes everything on each call.
type Matcher struct {
	Providers provider.Directory
	Jobs      ActiveJobLister
	Capacity  CapacityFilter
	Log       zerolog.Logger
}

// FindEligible returns up to limit providers, nearest first, that match req,
// are not in excluded, are within maxDistanceKm of the pickup and pass the
// capacity filter.
func (m *Matcher) FindEligible(ctx context.Context, req job.Requirements, excluded []string, maxDistanceKm float64, limit int) ([]Candidate, error) {
	if maxDistanceKm <= 0 {
		maxDistanceKm = DefaultMaxDistanceKm
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	pool, err := m.Providers.Nearby(ctx, provider.Query{Role: req.Role, Center: req.Pickup, RadiusKm: maxDistanceKm})
	if err != nil {
		return nil, fmt.Errorf("dispatch: load providers: %w", err)
	}

	skip := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		skip[id] = struct{}{}
	}

	var cands []Candidate
	for _, p := range pool {
		if !p.Dispatchable(req.Role) {
			continue
		}
		if _, ok := skip[p.ID]; ok {
			continue
		}
		if !capable(p, req) {
			continue
		}
		d := geo.DistanceKm(req.Pickup, *p.Location)
		if d > maxDistanceKm {
			continue
		}
		cands = append(cands, Candidate{Provider: p, DistanceKm: d})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].DistanceKm != cands[j].DistanceKm {
			return cands[i].DistanceKm < cands[j].DistanceKm
		}
		return cands[i].Provider.ID < cands[j].Provider.ID
	})
	if len(cands) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.Provider.ID)
	}
	active, err := m.Jobs.ListActive(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("dispatch: load active jobs: %w", err)
	}
	load := make(map[string][]job.Job, len(active))
	for _, a := range active {
		load[a.Assignee()] = append(load[a.Assignee()], a)
	}

	out := make([]Candidate, 0, limit)
	for _, c := range cands {
		if reason := m.Capacity.Admit(c.Provider, load[c.Provider.ID]); reason != "" {
			m.Log.Debug().Str("provider_id", c.Provider.ID).Str("reason", reason).Msg("provider over capacity")
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func capable(p provider.Provider, req job.Requirements) bool {
	if req.TowTruckType != "" && !p.TowTruckTypes.Contains(req.TowTruckType) {
		return false
	}
	if req.VehicleType != "" && !p.CarTypesSupported.Supports(req.VehicleType) {
		return false
	}
	return true
}

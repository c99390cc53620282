package dispatch

import (
	"roadcall/internal/geo"
	"roadcall/internal/job"
	"roadcall/internal/provider"
)

// Reasons a provider is refused by the capacity filter.
const (
	ReasonAtCapacity          = "at_capacity"
	ReasonUnstartedAssignment = "unstarted_assignment"
	ReasonNoDropoff           = "in_progress_without_dropoff"
	ReasonNotNearCompletion   = "not_near_completion"
)

// CapacityFilter decides whether a provider may be offered one more job
// given the jobs they currently hold.
type CapacityFilter struct {
	MaxActiveJobs    int
	NearCompletionKm float64
}

// Admit evaluates p against active, the provider's ASSIGNED and IN_PROGRESS
// jobs. It returns "" when the provider is eligible, otherwise the reason.
func (f CapacityFilter) Admit(p provider.Provider, active []job.Job) string {
	if len(active) == 0 {
		return ""
	}
	maxActive, nearKm := f.MaxActiveJobs, f.NearCompletionKm
	if maxActive <= 0 {
		maxActive = DefaultMaxActiveJobs
	}
	if nearKm <= 0 {
		nearKm = DefaultNearCompletionKm
	}
	if len(active) >= maxActive {
		return ReasonAtCapacity
	}
	for i := range active {
		a := &active[i]
		if a.Status == job.StatusAssigned {
			return ReasonUnstartedAssignment
		}
		dropoff, ok := a.Dropoff()
		if !ok {
			return ReasonNoDropoff
		}
		if p.Location == nil || geo.DistanceKm(*p.Location, dropoff) > nearKm {
			return ReasonNotNearCompletion
		}
	}
	return ""
}

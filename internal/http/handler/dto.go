package handler

import (
	"time"

	"roadcall/internal/dispatch"
	"roadcall/internal/geo"
	"roadcall/internal/job"
)

type createJobReq struct {
	RoleNeeded         string     `json:"role_needed"`
	Pickup             geo.Point  `json:"pickup"`
	PickupAddress      string     `json:"pickup_address"`
	Dropoff            *geo.Point `json:"dropoff"`
	DropoffAddress     string     `json:"dropoff_address"`
	TowTruckTypeNeeded string     `json:"tow_truck_type_needed"`
	VehicleType        string     `json:"vehicle_type"`
	PayoutEstimate     float64    `json:"payout_estimate"`
}

func (req createJobReq) toJob() *job.Job {
	j := &job.Job{
		RoleNeeded:         job.Role(req.RoleNeeded),
		Pickup:             req.Pickup,
		PickupAddress:      req.PickupAddress,
		DropoffAddress:     req.DropoffAddress,
		TowTruckTypeNeeded: req.TowTruckTypeNeeded,
		VehicleType:        req.VehicleType,
		PayoutEstimate:     req.PayoutEstimate,
	}
	if req.Dropoff != nil {
		j.SetDropoff(*req.Dropoff)
	}
	return j
}

type attemptResp struct {
	ProviderID string    `json:"provider_id"`
	Round      int       `json:"round"`
	OfferedAt  time.Time `json:"offered_at"`
}

type releaseResp struct {
	ProviderID string    `json:"provider_id"`
	Reason     string    `json:"reason"`
	ReleasedAt time.Time `json:"released_at"`
}

type jobResp struct {
	ID                 string        `json:"id"`
	CustomerID         string        `json:"customer_id"`
	RoleNeeded         string        `json:"role_needed"`
	Pickup             geo.Point     `json:"pickup"`
	PickupAddress      string        `json:"pickup_address"`
	Dropoff            *geo.Point    `json:"dropoff,omitempty"`
	DropoffAddress     string        `json:"dropoff_address,omitempty"`
	TowTruckTypeNeeded string        `json:"tow_truck_type_needed,omitempty"`
	VehicleType        string        `json:"vehicle_type,omitempty"`
	PayoutEstimate     float64       `json:"payout_estimate"`
	Status             string        `json:"status"`
	BroadcastedTo      []string      `json:"broadcasted_to"`
	ExcludedProviders  []string      `json:"excluded_providers"`
	AssignedTo         *string       `json:"assigned_to"`
	LockedAt           *time.Time    `json:"locked_at,omitempty"`
	BroadcastRounds    int           `json:"broadcast_rounds"`
	LastBroadcastAt    *time.Time    `json:"last_broadcast_at,omitempty"`
	StartedAt          *time.Time    `json:"started_at,omitempty"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	CancelledBy        *string       `json:"cancelled_by,omitempty"`
	CancelReason       *string       `json:"cancel_reason,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	DispatchAttempts   []attemptResp `json:"dispatch_attempts,omitempty"`
	Releases           []releaseResp `json:"releases,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

func toJobResp(j *job.Job) jobResp {
	out := jobResp{
		ID:                 j.ID,
		CustomerID:         j.CustomerID,
		RoleNeeded:         string(j.RoleNeeded),
		Pickup:             j.Pickup,
		PickupAddress:      j.PickupAddress,
		DropoffAddress:     j.DropoffAddress,
		TowTruckTypeNeeded: j.TowTruckTypeNeeded,
		VehicleType:        j.VehicleType,
		PayoutEstimate:     j.PayoutEstimate,
		Status:             string(j.Status),
		BroadcastedTo:      append([]string{}, j.BroadcastedTo...),
		ExcludedProviders:  append([]string{}, j.ExcludedProviders...),
		AssignedTo:         j.AssignedTo,
		LockedAt:           j.LockedAt,
		BroadcastRounds:    j.BroadcastRounds,
		LastBroadcastAt:    j.LastBroadcastAt,
		StartedAt:          j.StartedAt,
		CompletedAt:        j.CompletedAt,
		CancelledBy:        j.CancelledBy,
		CancelReason:       j.CancelReason,
		CancelledAt:        j.CancelledAt,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
	}
	if d, ok := j.Dropoff(); ok {
		out.Dropoff = &d
	}
	for _, a := range j.DispatchAttempts {
		out.DispatchAttempts = append(out.DispatchAttempts, attemptResp{ProviderID: a.ProviderID, Round: a.Round, OfferedAt: a.OfferedAt})
	}
	for _, rel := range j.Releases {
		out.Releases = append(out.Releases, releaseResp{ProviderID: rel.ProviderID, Reason: rel.Reason, ReleasedAt: rel.ReleasedAt})
	}
	return out
}

func toJobList(jobs []job.Job) []jobResp {
	out := make([]jobResp, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResp(&jobs[i]))
	}
	return out
}

type broadcastResp struct {
	Round     int      `json:"round"`
	Providers []string `json:"providers"`
	Skipped   bool     `json:"skipped"`
	Reason    string   `json:"reason,omitempty"`
}

type outcomeResp struct {
	Job       jobResp       `json:"job"`
	Broadcast broadcastResp `json:"broadcast"`
}

func toOutcomeResp(o *dispatch.Outcome) outcomeResp {
	b := broadcastResp{
		Round:     o.Job.BroadcastRounds,
		Providers: make([]string, 0, len(o.Providers)),
		Skipped:   o.Skipped,
		Reason:    o.Reason,
	}
	for _, c := range o.Providers {
		b.Providers = append(b.Providers, c.Provider.ID)
	}
	return outcomeResp{Job: toJobResp(o.Job), Broadcast: b}
}

package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"roadcall/internal/job"
	"roadcall/internal/notify"
	"roadcall/internal/payment"
)

const (
	outcomeOffered = "offered"
	outcomeStarved = "starved"
	outcomeSkipped = "skipped"
)

// OfferSender delivers offers without blocking; see notify.Async.
type OfferSender interface {
	Send(offers []notify.Offer)
}

// Outcome is the result of a broadcast round. Skipped rounds leave the job
// untouched and say why in Reason.
type Outcome struct {
	Job       *job.Job
	Providers []Candidate
	Skipped   bool
	Reason    string
}

// Coordinator runs broadcast rounds.
type Coordinator struct {
	Matcher *Matcher
	Jobs    job.Store
	Gate    payment.Gate
	Offers  OfferSender
	Metrics *Metrics
	Config  Config
	Log     zerolog.Logger
	Now     func() time.Time
}

// Broadcast computes a fresh offer list for j, records it as a new round and
// requests offer delivery. Payment must be confirmed first; otherwise the
// round is skipped and j is returned as-is.
func (c *Coordinator) Broadcast(ctx context.Context, j *job.Job) (*Outcome, error) {
	if err := job.CheckTransition(job.ActorSystem, j.Status, job.StatusBroadcasted); err != nil {
		return nil, err
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}

	ok, err := c.Gate.Confirmed(ctx, j.ID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: payment gate: %w", err)
	}
	if !ok {
		c.Metrics.round(outcomeSkipped, 0)
		c.Log.Info().Str("job_id", j.ID).Msg("broadcast skipped, payment not confirmed")
		return &Outcome{Job: j, Skipped: true, Reason: "payment not confirmed"}, nil
	}

	cands, err := c.Matcher.FindEligible(ctx, j.Requirements(), j.ExcludedProviders, c.Config.MaxDistanceKm, c.Config.Limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(cands))
	for _, cand := range cands {
		ids = append(ids, cand.Provider.ID)
	}

	at := c.now()
	updated, err := c.Jobs.RecordBroadcast(ctx, j.ID, ids, at)
	if err != nil {
		return nil, err
	}

	if len(cands) == 0 {
		c.Metrics.round(outcomeStarved, 0)
		c.Log.Warn().Str("job_id", j.ID).Int("round", updated.BroadcastRounds).Msg("no eligible providers")
		return &Outcome{Job: updated}, nil
	}
	c.Metrics.round(outcomeOffered, len(cands))
	c.Log.Info().
		Str("job_id", j.ID).
		Int("round", updated.BroadcastRounds).
		Strs("providers", ids).
		Msg("job broadcast")

	if c.Offers != nil {
		c.Offers.Send(offersFor(updated, cands, at))
	}
	return &Outcome{Job: updated, Providers: cands}, nil
}

func offersFor(j *job.Job, cands []Candidate, at time.Time) []notify.Offer {
	out := make([]notify.Offer, 0, len(cands))
	for _, cand := range cands {
		o := notify.Offer{
			JobID:          j.ID,
			ProviderID:     cand.Provider.ID,
			Round:          j.BroadcastRounds,
			RoleNeeded:     string(j.RoleNeeded),
			Pickup:         j.Pickup,
			PickupAddress:  j.PickupAddress,
			DropoffAddress: j.DropoffAddress,
			VehicleType:    j.VehicleType,
			TowTruckType:   j.TowTruckTypeNeeded,
			PayoutEstimate: j.PayoutEstimate,
			DistanceKm:     cand.DistanceKm,
			OfferedAt:      at,
		}
		if d, ok := j.Dropoff(); ok {
			o.Dropoff = &d
		}
		out = append(out, o)
	}
	return out
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

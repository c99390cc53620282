package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"roadcall/internal/job"
)

// Rebroadcaster handles providers backing out of a job.
//
// A reject drops the provider from the current round only. A cancel after
// assignment excludes the provider from the job permanently and starts a new
// round straight away.
type Rebroadcaster struct {
	Jobs        job.Store
	Coordinator *Coordinator
	Metrics     *Metrics
	Log         zerolog.Logger
	Now         func() time.Time
}

func (r *Rebroadcaster) Reject(ctx context.Context, jobID, providerID string) (*job.Job, error) {
	j, err := r.Jobs.Reject(ctx, jobID, providerID)
	if err != nil {
		if errors.Is(err, job.ErrStaleState) {
			return nil, job.ErrNotOffered
		}
		return nil, err
	}
	r.Metrics.reject()
	r.Log.Info().
		Str("job_id", jobID).
		Str("provider_id", providerID).
		Int("remaining", len(j.BroadcastedTo)).
		Msg("offer rejected")
	return j, nil
}

// Cancel releases providerID's assignment and rebroadcasts the job. If the
// release succeeds but the new round fails, the job is left BROADCASTED with
// no offers for the sweeper to pick up, and the outcome is marked skipped.
func (r *Rebroadcaster) Cancel(ctx context.Context, jobID, providerID, reason string) (*Outcome, error) {
	cur, err := r.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if cur.Assignee() != providerID {
		return nil, job.ErrNotAssigned
	}
	if err := job.CheckTransition(job.ActorProvider, cur.Status, job.StatusBroadcasted); err != nil {
		return nil, err
	}

	at := time.Now()
	if r.Now != nil {
		at = r.Now()
	}
	released, err := r.Jobs.Release(ctx, jobID, providerID, reason, at)
	if err != nil {
		if errors.Is(err, job.ErrStaleState) {
			return nil, job.ErrNotAssigned
		}
		return nil, err
	}
	r.Metrics.release()
	r.Log.Info().
		Str("job_id", jobID).
		Str("provider_id", providerID).
		Str("reason", reason).
		Msg("assignment released, provider excluded")

	out, err := r.Coordinator.Broadcast(ctx, released)
	if err != nil {
		r.Log.Error().Err(err).Str("job_id", jobID).Msg("rebroadcast after release failed")
		return &Outcome{Job: released, Skipped: true, Reason: "rebroadcast failed"}, nil
	}
	return out, nil
}

package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"roadcall/internal/job"
)

// Arbiter resolves accept races. The decision is made entirely by the
// store's conditional update; there is no read before it.
type Arbiter struct {
	Jobs    job.Store
	Metrics *Metrics
	Log     zerolog.Logger
	Now     func() time.Time
}

// Accept assigns jobID to providerID if, at the instant of the update, the
// job is BROADCASTED, unassigned and offered to providerID. Every other
// caller gets job.ErrAssignmentConflict and must not retry.
func (a *Arbiter) Accept(ctx context.Context, jobID, providerID string) (*job.Job, error) {
	at := time.Now()
	if a.Now != nil {
		at = a.Now()
	}

	j, err := a.Jobs.Accept(ctx, jobID, providerID, at)
	switch {
	case err == nil:
		a.Metrics.accept("assigned")
		a.Log.Info().Str("job_id", jobID).Str("provider_id", providerID).Msg("job assigned")
		return j, nil
	case errors.Is(err, job.ErrStaleState):
		a.Metrics.accept("conflict")
		a.Log.Debug().Str("job_id", jobID).Str("provider_id", providerID).Msg("accept lost")
		return nil, job.ErrAssignmentConflict
	default:
		return nil, err
	}
}

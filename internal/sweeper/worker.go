// Package sweeper retries jobs that are waiting for a broadcast round and
// cancels jobs that have been starved of providers for too long.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"roadcall/internal/dispatch"
	"roadcall/internal/job"
)

const (
	DefaultInterval   = 15 * time.Second
	DefaultTTL        = 30 * time.Minute
	DefaultMaxBackoff = 5 * time.Minute
	DefaultBatch      = 50

	StarvedReason = "no providers available"
)

// Config is the sweeper section of the tuning file.
type Config struct {
	Interval   time.Duration `json:"interval"`
	TTL        time.Duration `json:"starvation_ttl"`
	MaxBackoff time.Duration `json:"max_backoff"`
	Batch      int           `json:"batch"`
}

func (c *Config) SetDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.Batch <= 0 {
		c.Batch = DefaultBatch
	}
}

type Worker struct {
	ID          string
	Jobs        job.Store
	Coordinator *dispatch.Coordinator
	Metrics     *dispatch.Metrics
	Config      Config
	Log         zerolog.Logger
	Now         func() time.Time

	cursor job.Cursor
}

// Stats summarises one sweep.
type Stats struct {
	Scanned   int
	Retried   int
	Offered   int
	Cancelled int
	Failed    int
}

func (w *Worker) Run(ctx context.Context) {
	w.Config.SetDefaults()
	ticker := time.NewTicker(w.Config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := w.Sweep(ctx)
			if err != nil {
				w.Log.Error().Err(err).Str("worker", w.ID).Msg("sweep failed")
				continue
			}
			if st.Retried > 0 || st.Cancelled > 0 {
				w.Log.Info().
					Str("worker", w.ID).
					Int("scanned", st.Scanned).
					Int("retried", st.Retried).
					Int("offered", st.Offered).
					Int("cancelled", st.Cancelled).
					Int("failed", st.Failed).
					Msg("sweep")
			}
		}
	}
}

// Sweep makes one pass: a batch of starved jobs that are due or expired,
// then the next page of CREATED jobs waiting on payment. The CREATED cursor
// carries over between calls, so Sweep must not run concurrently.
func (w *Worker) Sweep(ctx context.Context) (Stats, error) {
	w.Config.SetDefaults()
	now := w.now()
	q := job.StarvedQuery{
		Now:        now,
		MaxBackoff: w.Config.MaxBackoff,
		TTL:        w.Config.TTL,
		Limit:      w.Config.Batch,
	}

	var st Stats
	starved, err := w.Jobs.ListStarved(ctx, q)
	if err != nil {
		return st, err
	}
	st.Scanned += len(starved)
	for i := range starved {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		j := &starved[i]
		if q.Expired(j) {
			w.expire(ctx, j, now, &st)
			continue
		}
		w.retry(ctx, j, &st)
	}

	waiting, err := w.Jobs.ListUndispatched(ctx, w.cursor, w.Config.Batch)
	if err != nil {
		return st, err
	}
	if len(waiting) < w.Config.Batch {
		w.cursor = job.Cursor{}
	} else {
		w.cursor = job.CursorOf(&waiting[len(waiting)-1])
	}
	st.Scanned += len(waiting)
	for i := range waiting {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		w.retry(ctx, &waiting[i], &st)
	}
	return st, nil
}

func (w *Worker) retry(ctx context.Context, j *job.Job, st *Stats) {
	st.Retried++
	out, err := w.Coordinator.Broadcast(ctx, j)
	if err != nil {
		st.Failed++
		w.Log.Warn().Err(err).Str("job_id", j.ID).Msg("rebroadcast failed")
		return
	}
	if len(out.Providers) > 0 {
		st.Offered++
	}
}

func (w *Worker) expire(ctx context.Context, j *job.Job, now time.Time, st *Stats) {
	_, err := w.Jobs.Cancel(ctx, j.ID, job.Cancellation{
		By:       string(job.ActorSystem),
		Reason:   StarvedReason,
		At:       now,
		Allowed:  []job.Status{job.StatusBroadcasted},
		NoOffers: true,
	})
	switch {
	case err == nil:
		st.Cancelled++
		w.Metrics.Cancelled(string(job.ActorSystem))
		w.Log.Warn().
			Str("job_id", j.ID).
			Int("rounds", j.BroadcastRounds).
			Dur("starved", now.Sub(j.StarvedSince())).
			Msg("job cancelled, no providers available")
	case errors.Is(err, job.ErrStaleState):
		// Offered or cancelled since it was listed.
	default:
		st.Failed++
		w.Log.Error().Err(err).Str("job_id", j.ID).Msg("starvation cancel failed")
	}
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

package job

import (
	"math"
	"time"
)

// Backoff is the wait after a broadcast round before the next one:
// 2^rounds seconds, capped at ceiling.
func Backoff(rounds int, ceiling time.Duration) time.Duration {
	sec := math.Min(math.Pow(2, float64(rounds)), ceiling.Seconds())
	return time.Duration(sec * float64(time.Second))
}

// StarvedSince is when the job last lost its provider pool: the latest
// provider release, or creation if there was none.
func (j *Job) StarvedSince() time.Time {
	if j.LastReleasedAt != nil && j.LastReleasedAt.After(j.CreatedAt) {
		return *j.LastReleasedAt
	}
	return j.CreatedAt
}

// StarvedQuery selects unassigned BROADCASTED jobs with no outstanding
// offers that need attention at Now: either the backoff since their last
// round has elapsed, or they have been starved for at least TTL.
type StarvedQuery struct {
	Now        time.Time
	MaxBackoff time.Duration
	TTL        time.Duration
	Limit      int
}

// Expired reports whether j has been starved for at least q.TTL.
func (q StarvedQuery) Expired(j *Job) bool {
	return !q.Now.Before(j.StarvedSince().Add(q.TTL))
}

// Due reports whether j's backoff has elapsed.
func (q StarvedQuery) Due(j *Job) bool {
	if j.LastBroadcastAt == nil {
		return true
	}
	return !q.Now.Before(j.LastBroadcastAt.Add(Backoff(j.BroadcastRounds, q.MaxBackoff)))
}

// Match applies the query's filter to a single job.
func (q StarvedQuery) Match(j *Job) bool {
	if j.Status != StatusBroadcasted || j.AssignedTo != nil || len(j.BroadcastedTo) > 0 {
		return false
	}
	return q.Expired(j) || q.Due(j)
}

// Cursor is a position in the (CreatedAt, ID) ordering of CREATED jobs.
// The zero Cursor is the start.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func (c Cursor) IsZero() bool { return c.ID == "" && c.CreatedAt.IsZero() }

// Before reports whether c sorts before j.
func (c Cursor) Before(j *Job) bool {
	if c.IsZero() {
		return true
	}
	if !c.CreatedAt.Equal(j.CreatedAt) {
		return c.CreatedAt.Before(j.CreatedAt)
	}
	return c.ID < j.ID
}

// CursorOf returns the cursor positioned at j.
func CursorOf(j *Job) Cursor { return Cursor{CreatedAt: j.CreatedAt, ID: j.ID} }

package job

import (
	"context"
	"time"
)

// Store persists jobs. Every mutating method is a single conditional update:
// it returns ErrNotFound when the id is unknown and ErrStaleState when the
// job exists but no longer satisfies the method's precondition.
type Store interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)

	// RecordBroadcast starts a new round: the offer list is replaced, status
	// becomes BROADCASTED and one attempt is logged per provider. The job
	// must be CREATED or BROADCASTED and unassigned.
	RecordBroadcast(ctx context.Context, id string, providerIDs []string, at time.Time) (*Job, error)

	// Accept assigns the job iff it is BROADCASTED, unassigned and offered
	// to providerID.
	Accept(ctx context.Context, id, providerID string, at time.Time) (*Job, error)

	// Reject drops providerID from the current round's offer list.
	Reject(ctx context.Context, id, providerID string) (*Job, error)

	// Release un-assigns providerID, excludes them from the job for good and
	// puts the job back to BROADCASTED with an empty offer list.
	Release(ctx context.Context, id, providerID, reason string, at time.Time) (*Job, error)

	// Advance moves the job from -> to. A non-empty providerID must be the
	// assignee.
	Advance(ctx context.Context, id, providerID string, from, to Status, at time.Time) (*Job, error)

	Cancel(ctx context.Context, id string, c Cancellation) (*Job, error)

	// ListAvailable returns jobs currently offered to providerID.
	ListAvailable(ctx context.Context, providerID string) ([]Job, error)
	// ListActive returns ASSIGNED and IN_PROGRESS jobs held by any of the
	// given providers.
	ListActive(ctx context.Context, providerIDs []string) ([]Job, error)
	ListForCustomer(ctx context.Context, customerID string, limit int) ([]Job, error)
	// ListStarved returns jobs matching q, those never re-broadcast or
	// broadcast longest ago first.
	ListStarved(ctx context.Context, q StarvedQuery) ([]Job, error)
	// ListUndispatched pages through CREATED jobs in (CreatedAt, ID) order,
	// starting after the cursor.
	ListUndispatched(ctx context.Context, after Cursor, limit int) ([]Job, error)
}

// Cancellation is a terminal cancel request. When CustomerID is set the job
// must belong to that customer. Allowed lists the statuses the job may be
// in; empty means every cancellable status. NoOffers additionally requires
// an empty offer list.
type Cancellation struct {
	CustomerID string
	By         string
	Reason     string
	At         time.Time
	Allowed    []Status
	NoOffers   bool
}

func (c Cancellation) AllowedStatuses() []Status {
	if len(c.Allowed) > 0 {
		return c.Allowed
	}
	return []Status{StatusCreated, StatusBroadcasted, StatusAssigned, StatusInProgress}
}

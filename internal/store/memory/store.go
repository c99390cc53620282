// Package memory is an in-process store for tests and local development.
// A single mutex guards all state, which makes every conditional update as
// atomic as the Postgres equivalents.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"roadcall/internal/auth"
	"roadcall/internal/geo"
	"roadcall/internal/job"
	"roadcall/internal/provider"
)

var (
	_ job.Store               = (*Store)(nil)
	_ provider.Directory      = (*Store)(nil)
	_ provider.PresenceWriter = (*Store)(nil)
	_ auth.Users              = (*Store)(nil)
)

type Store struct {
	mu sync.RWMutex

	jobs      map[string]*job.Job
	providers map[string]provider.Provider
	users     map[string]auth.User
	nextID    uint64

	autoApprove map[string]bool
}

func New() *Store {
	return &Store{
		jobs:      make(map[string]*job.Job),
		providers: make(map[string]provider.Provider),
		users:     make(map[string]auth.User),
	}
}

// PutProvider inserts or replaces a provider record.
func (s *Store) PutProvider(p provider.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
}

// ──────────────────────────────────────────────────
// Users
// ──────────────────────────────────────────────────

// CreateUser stores u keyed by email. Provider accounts also become
// provider records, offline and with the account's verification status.
func (s *Store) CreateUser(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.Email]; ok {
		return auth.ErrEmailTaken
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	if u.VerificationStatus == "" {
		u.VerificationStatus = auth.VerificationPending
	}
	if u.Role.IsProvider() && (s.autoApprove["*"] || s.autoApprove[strings.ToLower(u.Email)]) {
		u.VerificationStatus = provider.VerificationApproved
	}
	s.users[u.Email] = *u
	if u.Role.IsProvider() {
		s.providers[u.ID] = provider.Provider{
			ID:                 u.ID,
			Role:               job.Role(u.Role),
			IsOnline:           u.IsOnline,
			VerificationStatus: u.VerificationStatus,
			TowTruckTypes:      provider.CapabilitySet(u.TowTruckTypes),
			CarTypesSupported:  provider.CapabilitySet(u.CarTypesSupported),
		}
	}
	return nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[email]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &u, nil
}

// AutoApprove makes CreateUser approve provider accounts registered with
// one of emails, or every provider account when emails contains "*".
// It stands in for the admin approval step during local development.
func (s *Store) AutoApprove(emails ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.autoApprove == nil {
		s.autoApprove = make(map[string]bool, len(emails))
	}
	for _, e := range emails {
		s.autoApprove[strings.ToLower(strings.TrimSpace(e))] = true
	}
}

// Approve marks a provider verified, as the external admin system would.
func (s *Store) Approve(providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.providers[providerID]
	if !ok {
		return provider.ErrNotFound
	}
	p.VerificationStatus = provider.VerificationApproved
	s.providers[providerID] = p
	return nil
}

// ──────────────────────────────────────────────────
// Providers
// ──────────────────────────────────────────────────

func (s *Store) Nearby(_ context.Context, q provider.Query) ([]provider.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	box := geo.BoundingBox(q.Center, q.RadiusKm)
	var out []provider.Provider
	for _, p := range s.providers {
		if !p.Dispatchable(q.Role) || !box.Contains(*p.Location) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdatePresence(_ context.Context, providerID string, pr provider.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.providers[providerID]
	if !ok {
		return provider.ErrNotFound
	}
	p.IsOnline = pr.IsOnline
	if pr.Location != nil {
		loc := *pr.Location
		at := pr.At
		p.Location = &loc
		p.LocationUpdatedAt = &at
	}
	s.providers[providerID] = p
	return nil
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

func (s *Store) Create(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; ok {
		return job.ErrStaleState
	}
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	if j.Status == "" {
		j.Status = job.StatusCreated
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return j.Clone(), nil
}

// update runs fn on the stored job under the write lock. fn reports whether
// the precondition held; if not, nothing is changed.
func (s *Store) update(id string, fn func(j *job.Job) bool) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	next := cur.Clone()
	if !fn(next) {
		return nil, job.ErrStaleState
	}
	next.UpdatedAt = time.Now()
	s.jobs[id] = next
	return next.Clone(), nil
}

func (s *Store) RecordBroadcast(_ context.Context, id string, providerIDs []string, at time.Time) (*job.Job, error) {
	return s.update(id, func(j *job.Job) bool {
		if (j.Status != job.StatusCreated && j.Status != job.StatusBroadcasted) || j.AssignedTo != nil {
			return false
		}
		j.Status = job.StatusBroadcasted
		j.BroadcastedTo = append(j.BroadcastedTo[:0:0], providerIDs...)
		j.BroadcastRounds++
		j.LastBroadcastAt = &at
		for _, pid := range providerIDs {
			s.nextID++
			j.DispatchAttempts = append(j.DispatchAttempts, job.DispatchAttempt{
				ID:         s.nextID,
				JobID:      id,
				ProviderID: pid,
				Round:      j.BroadcastRounds,
				OfferedAt:  at,
			})
		}
		return true
	})
}

func (s *Store) Accept(_ context.Context, id, providerID string, at time.Time) (*job.Job, error) {
	return s.update(id, func(j *job.Job) bool {
		if !j.OfferedTo(providerID) {
			return false
		}
		pid := providerID
		j.AssignedTo = &pid
		j.Status = job.StatusAssigned
		j.LockedAt = &at
		return true
	})
}

func (s *Store) Reject(_ context.Context, id, providerID string) (*job.Job, error) {
	return s.update(id, func(j *job.Job) bool {
		if !j.OfferedTo(providerID) {
			return false
		}
		kept := j.BroadcastedTo[:0]
		for _, pid := range j.BroadcastedTo {
			if pid != providerID {
				kept = append(kept, pid)
			}
		}
		j.BroadcastedTo = kept
		return true
	})
}

func (s *Store) Release(_ context.Context, id, providerID, reason string, at time.Time) (*job.Job, error) {
	return s.update(id, func(j *job.Job) bool {
		if !j.Status.Active() || j.Assignee() != providerID {
			return false
		}
		if !j.Excluded(providerID) {
			j.ExcludedProviders = append(j.ExcludedProviders, providerID)
		}
		j.AssignedTo = nil
		j.LockedAt = nil
		j.StartedAt = nil
		j.Status = job.StatusBroadcasted
		j.BroadcastedTo = nil
		j.LastReleasedAt = &at
		s.nextID++
		j.Releases = append(j.Releases, job.Release{
			ID:         s.nextID,
			JobID:      id,
			ProviderID: providerID,
			Reason:     reason,
			ReleasedAt: at,
		})
		return true
	})
}

func (s *Store) Advance(_ context.Context, id, providerID string, from, to job.Status, at time.Time) (*job.Job, error) {
	if to != job.StatusInProgress && to != job.StatusCompleted {
		return nil, &job.IllegalTransitionError{Actor: job.ActorProvider, Current: from, To: to}
	}
	return s.update(id, func(j *job.Job) bool {
		if j.Status != from || (providerID != "" && j.Assignee() != providerID) {
			return false
		}
		j.Status = to
		if to == job.StatusInProgress {
			j.StartedAt = &at
		} else {
			j.CompletedAt = &at
		}
		return true
	})
}

func (s *Store) Cancel(_ context.Context, id string, c job.Cancellation) (*job.Job, error) {
	return s.update(id, func(j *job.Job) bool {
		if c.CustomerID != "" && j.CustomerID != c.CustomerID {
			return false
		}
		if c.NoOffers && len(j.BroadcastedTo) > 0 {
			return false
		}
		allowed := false
		for _, st := range c.AllowedStatuses() {
			if j.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
		by, reason, at := c.By, c.Reason, c.At
		j.Status = job.StatusCancelled
		j.CancelledBy = &by
		j.CancelReason = &reason
		j.CancelledAt = &at
		j.AssignedTo = nil
		j.LockedAt = nil
		return true
	})
}

func (s *Store) ListAvailable(_ context.Context, providerID string) ([]job.Job, error) {
	return s.list(func(j *job.Job) bool { return j.OfferedTo(providerID) }, byCreatedAsc, 100), nil
}

func (s *Store) ListActive(_ context.Context, providerIDs []string) ([]job.Job, error) {
	want := make(map[string]struct{}, len(providerIDs))
	for _, id := range providerIDs {
		want[id] = struct{}{}
	}
	return s.list(func(j *job.Job) bool {
		_, ok := want[j.Assignee()]
		return ok && j.Status.Active()
	}, byCreatedAsc, 0), nil
}

func (s *Store) ListForCustomer(_ context.Context, customerID string, limit int) ([]job.Job, error) {
	return s.list(func(j *job.Job) bool { return j.CustomerID == customerID }, byCreatedDesc, limit), nil
}

func (s *Store) ListStarved(_ context.Context, q job.StarvedQuery) ([]job.Job, error) {
	return s.list(q.Match, byLastBroadcast, q.Limit), nil
}

func (s *Store) ListUndispatched(_ context.Context, after job.Cursor, limit int) ([]job.Job, error) {
	return s.list(func(j *job.Job) bool {
		return j.Status == job.StatusCreated && j.AssignedTo == nil && after.Before(j)
	}, byCreatedAsc, limit), nil
}

func byCreatedAsc(a, b *job.Job) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func byLastBroadcast(a, b *job.Job) bool {
	switch {
	case a.LastBroadcastAt == nil && b.LastBroadcastAt == nil:
		return a.ID < b.ID
	case a.LastBroadcastAt == nil:
		return true
	case b.LastBroadcastAt == nil:
		return false
	case !a.LastBroadcastAt.Equal(*b.LastBroadcastAt):
		return a.LastBroadcastAt.Before(*b.LastBroadcastAt)
	}
	return a.ID < b.ID
}


func byCreatedDesc(a, b *job.Job) bool { return a.CreatedAt.After(b.CreatedAt) }

func (s *Store) list(match func(*job.Job) bool, less func(a, b *job.Job) bool, limit int) []job.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []*job.Job
	for _, j := range s.jobs {
		if match(j) {
			hits = append(hits, j)
		}
	}
	sort.Slice(hits, func(a, b int) bool { return less(hits[a], hits[b]) })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]job.Job, 0, len(hits))
	for _, j := range hits {
		out = append(out, *j.Clone())
	}
	return out
}

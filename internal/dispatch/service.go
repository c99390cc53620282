package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"roadcall/internal/job"
	"roadcall/internal/payment"
	"roadcall/internal/provider"
)

// Deps wires a Service.
type Deps struct {
	Jobs      job.Store
	Providers provider.Directory
	Gate      payment.Gate
	Offers    OfferSender
	Metrics   *Metrics
	Config    Config
	Log       zerolog.Logger
	Now       func() time.Time
}

// Service is the request-facing entry point to the dispatch engine.
type Service struct {
	Jobs          job.Store
	Matcher       *Matcher
	Coordinator   *Coordinator
	Arbiter       *Arbiter
	Rebroadcaster *Rebroadcaster
	Metrics       *Metrics
	Config        Config
	Log           zerolog.Logger
	now           func() time.Time
}

func New(d Deps) *Service {
	d.Config.SetDefaults()
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Gate == nil {
		d.Gate = payment.Always{}
	}

	m := &Matcher{
		Providers: d.Providers,
		Jobs:      d.Jobs,
		Capacity:  CapacityFilter{MaxActiveJobs: d.Config.MaxActiveJobs, NearCompletionKm: d.Config.NearCompletionKm},
		Log:       d.Log.With().Str("part", "matcher").Logger(),
	}
	c := &Coordinator{
		Matcher: m,
		Jobs:    d.Jobs,
		Gate:    d.Gate,
		Offers:  d.Offers,
		Metrics: d.Metrics,
		Config:  d.Config,
		Log:     d.Log.With().Str("part", "broadcast").Logger(),
		Now:     d.Now,
	}
	return &Service{
		Jobs:        d.Jobs,
		Matcher:     m,
		Coordinator: c,
		Arbiter: &Arbiter{
			Jobs:    d.Jobs,
			Metrics: d.Metrics,
			Log:     d.Log.With().Str("part", "arbiter").Logger(),
			Now:     d.Now,
		},
		Rebroadcaster: &Rebroadcaster{
			Jobs:        d.Jobs,
			Coordinator: c,
			Metrics:     d.Metrics,
			Log:         d.Log.With().Str("part", "rebroadcast").Logger(),
			Now:         d.Now,
		},
		Metrics: d.Metrics,
		Config:  d.Config,
		Log:     d.Log,
		now:     d.Now,
	}
}

// Create validates a new job, refuses it when no provider could take it
// right now, persists it and runs the first broadcast round.
func (s *Service) Create(ctx context.Context, customerID string, j *job.Job) (*Outcome, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}

	cands, err := s.Matcher.FindEligible(ctx, j.Requirements(), nil, s.Config.MaxDistanceKm, s.Config.Limit)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, job.ErrNoProviders
	}

	now := s.now()
	j.ID = uuid.NewString()
	j.CustomerID = customerID
	j.Status = job.StatusCreated
	j.AssignedTo = nil
	j.BroadcastedTo = []string{}
	j.ExcludedProviders = []string{}
	j.CreatedAt = now
	j.UpdatedAt = now
	if err := s.Jobs.Create(ctx, j); err != nil {
		return nil, err
	}
	s.Log.Info().Str("job_id", j.ID).Str("customer_id", customerID).Str("role", string(j.RoleNeeded)).Msg("job created")

	return s.Coordinator.Broadcast(ctx, j)
}

// Dispatch runs a broadcast round on the customer's request, typically after
// payment has been confirmed.
func (s *Service) Dispatch(ctx context.Context, customerID, jobID string) (*Outcome, error) {
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.CustomerID != customerID {
		return nil, job.ErrForbidden
	}
	if j.Status == job.StatusBroadcasted && len(j.BroadcastedTo) > 0 {
		return &Outcome{Job: j, Skipped: true, Reason: "offers outstanding"}, nil
	}
	return s.Coordinator.Broadcast(ctx, j)
}

func (s *Service) Accept(ctx context.Context, providerID, jobID string) (*job.Job, error) {
	return s.Arbiter.Accept(ctx, jobID, providerID)
}

func (s *Service) Reject(ctx context.Context, providerID, jobID string) (*job.Job, error) {
	return s.Rebroadcaster.Reject(ctx, jobID, providerID)
}

func (s *Service) ProviderCancel(ctx context.Context, providerID, jobID, reason string) (*Outcome, error) {
	return s.Rebroadcaster.Cancel(ctx, jobID, providerID, reason)
}

// CustomerCancel ends the job for good. No rebroadcast follows.
func (s *Service) CustomerCancel(ctx context.Context, customerID, jobID, reason string) (*job.Job, error) {
	cur, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if cur.CustomerID != customerID {
		return nil, job.ErrForbidden
	}
	if err := job.CheckTransition(job.ActorCustomer, cur.Status, job.StatusCancelled); err != nil {
		return nil, err
	}

	j, err := s.Jobs.Cancel(ctx, jobID, job.Cancellation{
		CustomerID: customerID,
		By:         customerID,
		Reason:     reason,
		At:         s.now(),
	})
	if err != nil {
		return nil, s.staleAsIllegal(ctx, err, job.ActorCustomer, jobID, job.StatusCancelled)
	}
	s.Metrics.Cancelled(string(job.ActorCustomer))
	s.Log.Info().Str("job_id", jobID).Str("reason", reason).Msg("job cancelled by customer")
	return j, nil
}

// UpdateStatus applies a status change requested through the generic status
// path. Providers and admins may only move a job forward; customers may
// only cancel.
func (s *Service) UpdateStatus(ctx context.Context, actor job.Actor, jobID string, to job.Status) (*job.Job, error) {
	cur, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch actor.Kind {
	case job.ActorCustomer:
		if to != job.StatusCancelled {
			return nil, &job.IllegalTransitionError{Actor: actor.Kind, Current: cur.Status, To: to}
		}
		return s.CustomerCancel(ctx, actor.ID, jobID, "")
	case job.ActorProvider, job.ActorAdmin:
		if to != job.StatusInProgress && to != job.StatusCompleted {
			return nil, &job.IllegalTransitionError{Actor: actor.Kind, Current: cur.Status, To: to}
		}
	default:
		return nil, &job.IllegalTransitionError{Actor: actor.Kind, Current: cur.Status, To: to}
	}

	if actor.Kind == job.ActorProvider && cur.Assignee() != actor.ID {
		return nil, job.ErrNotAssigned
	}
	if err := job.CheckTransition(actor.Kind, cur.Status, to); err != nil {
		return nil, err
	}

	assignee := actor.ID
	if actor.Kind == job.ActorAdmin {
		assignee = ""
	}
	j, err := s.Jobs.Advance(ctx, jobID, assignee, cur.Status, to, s.now())
	if err != nil {
		return nil, s.staleAsIllegal(ctx, err, actor.Kind, jobID, to)
	}
	s.Log.Info().Str("job_id", jobID).Str("actor", actor.ID).Str("status", string(to)).Msg("job status updated")
	return j, nil
}

// Available lists jobs currently offered to providerID.
func (s *Service) Available(ctx context.Context, providerID string) ([]job.Job, error) {
	return s.Jobs.ListAvailable(ctx, providerID)
}

// Get returns a job visible to actor: its customer, its assignee, a provider
// it is currently offered to, or an admin.
func (s *Service) Get(ctx context.Context, actor job.Actor, jobID string) (*job.Job, error) {
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch actor.Kind {
	case job.ActorAdmin:
		return j, nil
	case job.ActorCustomer:
		if j.CustomerID == actor.ID {
			return j, nil
		}
	case job.ActorProvider:
		if j.Assignee() == actor.ID || j.OfferedTo(actor.ID) {
			return j, nil
		}
	}
	return nil, job.ErrForbidden
}

func (s *Service) ListForCustomer(ctx context.Context, customerID string, limit int) ([]job.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.Jobs.ListForCustomer(ctx, customerID, limit)
}

// staleAsIllegal turns a lost conditional update into an
// IllegalTransitionError carrying the job's fresh status.
func (s *Service) staleAsIllegal(ctx context.Context, err error, actor job.ActorKind, jobID string, to job.Status) error {
	if !errors.Is(err, job.ErrStaleState) {
		return err
	}
	fresh, gerr := s.Jobs.Get(ctx, jobID)
	if gerr != nil {
		return gerr
	}
	return &job.IllegalTransitionError{Actor: actor, Current: fresh.Status, To: to}
}

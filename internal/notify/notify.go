package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"roadcall/internal/geo"
)

// Offer is what a provider's client needs to decide on a job.
type Offer struct {
	JobID          string     `json:"job_id"`
	ProviderID     string     `json:"provider_id"`
	Round          int        `json:"round"`
	RoleNeeded     string     `json:"role_needed"`
	Pickup         geo.Point  `json:"pickup"`
	PickupAddress  string     `json:"pickup_address"`
	Dropoff        *geo.Point `json:"dropoff,omitempty"`
	DropoffAddress string     `json:"dropoff_address,omitempty"`
	VehicleType    string     `json:"vehicle_type,omitempty"`
	TowTruckType   string     `json:"tow_truck_type,omitempty"`
	PayoutEstimate float64    `json:"payout_estimate"`
	DistanceKm     float64    `json:"distance_km"`
	OfferedAt      time.Time  `json:"offered_at"`
}

type Notifier interface {
	NotifyOffer(ctx context.Context, o Offer) error
}

// Async delivers offers in the background. Delivery errors are logged and
// dropped; Send never blocks on the transport.
type Async struct {
	n       Notifier
	log     zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsync(n Notifier, log zerolog.Logger, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Async{n: n, log: log, timeout: timeout}
}

func (a *Async) Send(offers []Offer) {
	for _, o := range offers {
		a.wg.Add(1)
		go func(o Offer) {
			defer a.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
			defer cancel()
			if err := a.n.NotifyOffer(ctx, o); err != nil {
				a.log.Warn().Err(err).
					Str("job_id", o.JobID).
					Str("provider_id", o.ProviderID).
					Msg("offer notification failed")
			}
		}(o)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (a *Async) Wait() { a.wg.Wait() }

// Log only writes offers to the log.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) NotifyOffer(_ context.Context, o Offer) error {
	l.Logger.Info().
		Str("job_id", o.JobID).
		Str("provider_id", o.ProviderID).
		Int("round", o.Round).
		Float64("distance_km", o.DistanceKm).
		Msg("offer")
	return nil
}

// Recorder keeps every offer in memory.
type Recorder struct {
	mu     sync.Mutex
	offers []Offer
	Err    error
}

func (r *Recorder) NotifyOffer(_ context.Context, o Offer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers = append(r.offers, o)
	return r.Err
}

func (r *Recorder) Offers() []Offer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Offer(nil), r.offers...)
}

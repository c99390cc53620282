package job

import (
	"time"

	"github.com/lib/pq"

	"roadcall/internal/geo"
)

type Role string

const (
	RoleTowTruck Role = "TOW_TRUCK"
	RoleMechanic Role = "MECHANIC"
)

func (r Role) Valid() bool { return r == RoleTowTruck || r == RoleMechanic }

type Status string

const (
	StatusCreated     Status = "CREATED"
	StatusBroadcasted Status = "BROADCASTED"
	StatusAssigned    Status = "ASSIGNED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
)

// Job is a single call-out. Terminal jobs are kept as history.
type Job struct {
	ID         string `gorm:"primaryKey;type:uuid"`
	CustomerID string `gorm:"index;not null"`

	RoleNeeded         Role      `gorm:"type:text;not null"`
	Pickup             geo.Point `gorm:"embedded;embeddedPrefix:pickup_"`
	PickupAddress      string    `gorm:"type:text;not null;default:''"`
	DropoffLat         *float64
	DropoffLng         *float64
	DropoffAddress     string  `gorm:"type:text;not null;default:''"`
	TowTruckTypeNeeded string  `gorm:"type:text;not null;default:''"`
	VehicleType        string  `gorm:"type:text;not null;default:''"`
	PayoutEstimate     float64 `gorm:"not null;default:0"`

	Status Status `gorm:"type:text;index;not null;default:'CREATED'"`

	// BroadcastedTo is only meaningful while Status is BROADCASTED.
	BroadcastedTo     pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	ExcludedProviders pq.StringArray `gorm:"type:text[];not null;default:'{}'"`

	AssignedTo *string    `gorm:"type:text;index"`
	LockedAt   *time.Time `gorm:"type:timestamptz"`

	BroadcastRounds int        `gorm:"not null;default:0"`
	LastBroadcastAt *time.Time `gorm:"type:timestamptz"`
	LastReleasedAt  *time.Time `gorm:"type:timestamptz"`
	StartedAt       *time.Time `gorm:"type:timestamptz"`
	CompletedAt     *time.Time `gorm:"type:timestamptz"`

	CancelledBy  *string    `gorm:"type:text"`
	CancelReason *string    `gorm:"type:text"`
	CancelledAt  *time.Time `gorm:"type:timestamptz"`

	DispatchAttempts []DispatchAttempt `gorm:"foreignKey:JobID"`
	Releases         []Release         `gorm:"foreignKey:JobID"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

// DispatchAttempt is append-only: one row per provider per broadcast round.
type DispatchAttempt struct {
	ID         uint64    `gorm:"primaryKey"`
	JobID      string    `gorm:"type:uuid;index;not null"`
	ProviderID string    `gorm:"type:text;not null"`
	Round      int       `gorm:"not null"`
	OfferedAt  time.Time `gorm:"not null"`
}

// Release records a provider backing out of an assignment.
type Release struct {
	ID         uint64    `gorm:"primaryKey"`
	JobID      string    `gorm:"type:uuid;index;not null"`
	ProviderID string    `gorm:"type:text;not null"`
	Reason     string    `gorm:"type:text;not null;default:''"`
	ReleasedAt time.Time `gorm:"not null"`
}

// Requirements is what a provider must satisfy to be offered the job.
type Requirements struct {
	Role         Role
	Pickup       geo.Point
	Dropoff      *geo.Point
	TowTruckType string
	VehicleType  string
}

func (j *Job) Dropoff() (geo.Point, bool) {
	if j.DropoffLat == nil || j.DropoffLng == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *j.DropoffLat, Lng: *j.DropoffLng}, true
}

func (j *Job) SetDropoff(p geo.Point) {
	lat, lng := p.Lat, p.Lng
	j.DropoffLat = &lat
	j.DropoffLng = &lng
}

func (j *Job) Requirements() Requirements {
	req := Requirements{
		Role:         j.RoleNeeded,
		Pickup:       j.Pickup,
		TowTruckType: j.TowTruckTypeNeeded,
		VehicleType:  j.VehicleType,
	}
	if d, ok := j.Dropoff(); ok {
		req.Dropoff = &d
	}
	return req
}

// Assignee returns the assigned provider id or "".
func (j *Job) Assignee() string {
	if j.AssignedTo == nil {
		return ""
	}
	return *j.AssignedTo
}

func (j *Job) OfferedTo(providerID string) bool {
	if j.Status != StatusBroadcasted || j.Assignee() != "" {
		return false
	}
	return contains(j.BroadcastedTo, providerID)
}

func (j *Job) Excluded(providerID string) bool {
	return contains(j.ExcludedProviders, providerID)
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	c := *j
	c.DropoffLat = clonePtr(j.DropoffLat)
	c.DropoffLng = clonePtr(j.DropoffLng)
	c.BroadcastedTo = append(pq.StringArray{}, j.BroadcastedTo...)
	c.ExcludedProviders = append(pq.StringArray{}, j.ExcludedProviders...)
	c.AssignedTo = clonePtr(j.AssignedTo)
	c.LockedAt = clonePtr(j.LockedAt)
	c.LastBroadcastAt = clonePtr(j.LastBroadcastAt)
	c.LastReleasedAt = clonePtr(j.LastReleasedAt)
	c.StartedAt = clonePtr(j.StartedAt)
	c.CompletedAt = clonePtr(j.CompletedAt)
	c.CancelledBy = clonePtr(j.CancelledBy)
	c.CancelReason = clonePtr(j.CancelReason)
	c.CancelledAt = clonePtr(j.CancelledAt)
	c.DispatchAttempts = append([]DispatchAttempt(nil), j.DispatchAttempts...)
	c.Releases = append([]Release(nil), j.Releases...)
	return &c
}

func contains(set []string, id string) bool {
	for _, s := range set {
		if s == id {
			return true
		}
	}
	return false
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

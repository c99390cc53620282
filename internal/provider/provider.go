package provider

import (
	"context"
	"strings"
	"time"

	"roadcall/internal/geo"
	"roadcall/internal/job"
)

const VerificationApproved = "APPROVED"

// Provider is the dispatch-relevant view of a provider account. Presence
// and location are self-reported and never written by the engine.
type Provider struct {
	ID                 string
	Role               job.Role
	IsOnline           bool
	VerificationStatus string
	Location           *geo.Point
	LocationUpdatedAt  *time.Time
	TowTruckTypes      CapabilitySet
	CarTypesSupported  CapabilitySet
}

// Dispatchable reports whether p passes the role, presence and
// verification checks for the given role.
func (p Provider) Dispatchable(role job.Role) bool {
	return p.Role == role && p.IsOnline && p.VerificationStatus == VerificationApproved && p.Location != nil
}

// CapabilitySet is a list of capability names compared case-insensitively.
type CapabilitySet []string

// Contains is the strict rule: the set must list name.
func (c CapabilitySet) Contains(name string) bool {
	for _, v := range c {
		if strings.EqualFold(strings.TrimSpace(v), name) {
			return true
		}
	}
	return false
}

// Supports is the universal-match rule: an empty set supports everything.
func (c CapabilitySet) Supports(name string) bool {
	return len(c) == 0 || c.Contains(name)
}

// Query selects candidate providers around a point.
type Query struct {
	Role     job.Role
	Center   geo.Point
	RadiusKm float64
}

// Directory is the read-only source of live provider state. Nearby returns
// online, approved, located providers of q.Role inside the bounding box of
// q.RadiusKm. The result is a superset of the circle; callers measure exact
// distance themselves.
type Directory interface {
	Nearby(ctx context.Context, q Query) ([]Provider, error)
}

// Presence is a provider's self-reported state.
type Presence struct {
	IsOnline bool
	Location *geo.Point
	At       time.Time
}

type PresenceWriter interface {
	UpdatePresence(ctx context.Context, providerID string, p Presence) error
}

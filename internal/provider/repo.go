package provider

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"roadcall/internal/geo"
	"roadcall/internal/job"
)

var ErrNotFound = errors.New("provider not found")

var (
	_ Directory      = (*Repo)(nil)
	_ PresenceWriter = (*Repo)(nil)
)

// providerRow reads the provider columns of the users table.
type providerRow struct {
	ID                 string         `gorm:"column:id"`
	Role               string         `gorm:"column:role"`
	IsOnline           bool           `gorm:"column:is_online"`
	VerificationStatus string         `gorm:"column:verification_status"`
	Lat                *float64       `gorm:"column:lat"`
	Lng                *float64       `gorm:"column:lng"`
	LocationUpdatedAt  *time.Time     `gorm:"column:location_updated_at"`
	TowTruckTypes      pq.StringArray `gorm:"column:tow_truck_types"`
	CarTypesSupported  pq.StringArray `gorm:"column:car_types_supported"`
}

func (providerRow) TableName() string { return "users" }

func (r providerRow) toProvider() Provider {
	p := Provider{
		ID:                 r.ID,
		Role:               job.Role(r.Role),
		IsOnline:           r.IsOnline,
		VerificationStatus: r.VerificationStatus,
		LocationUpdatedAt:  r.LocationUpdatedAt,
		TowTruckTypes:      CapabilitySet(r.TowTruckTypes),
		CarTypesSupported:  CapabilitySet(r.CarTypesSupported),
	}
	if r.Lat != nil && r.Lng != nil {
		p.Location = &geo.Point{Lat: *r.Lat, Lng: *r.Lng}
	}
	return p
}

// Repo reads providers from the users table.
type Repo struct {
	DB *gorm.DB
}

func (r *Repo) Nearby(ctx context.Context, q Query) ([]Provider, error) {
	box := geo.BoundingBox(q.Center, q.RadiusKm)

	db := r.DB.WithContext(ctx).
		Where("role = ? AND is_online = true AND verification_status = ?", string(q.Role), VerificationApproved).
		Where("lat IS NOT NULL AND lng IS NOT NULL").
		Where("lat BETWEEN ? AND ?", box.MinLat, box.MaxLat)

	switch {
	case box.MinLng < -180:
		db = db.Where("(lng >= ? OR lng <= ?)", box.MinLng+360, box.MaxLng)
	case box.MaxLng > 180:
		db = db.Where("(lng >= ? OR lng <= ?)", box.MinLng, box.MaxLng-360)
	default:
		db = db.Where("lng BETWEEN ? AND ?", box.MinLng, box.MaxLng)
	}

	var rows []providerRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Provider, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toProvider())
	}
	return out, nil
}

func (r *Repo) UpdatePresence(ctx context.Context, providerID string, p Presence) error {
	updates := map[string]any{
		"is_online":  p.IsOnline,
		"updated_at": time.Now(),
	}
	if p.Location != nil {
		updates["lat"] = p.Location.Lat
		updates["lng"] = p.Location.Lng
		updates["location_updated_at"] = p.At
	}
	res := r.DB.WithContext(ctx).
		Table("users").
		Where("id = ? AND role IN ?", providerID, []string{string(job.RoleTowTruck), string(job.RoleMechanic)}).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

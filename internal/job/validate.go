package job

import "strings"

// Validate checks the requirements a job must carry before any dispatch
// attempt is made.
func (j *Job) Validate() error {
	if !j.RoleNeeded.Valid() {
		return &ValidationError{Field: "role_needed", Msg: "must be TOW_TRUCK or MECHANIC"}
	}
	if !j.Pickup.Valid() {
		return &ValidationError{Field: "pickup", Msg: "valid coordinates required"}
	}
	if (j.DropoffLat == nil) != (j.DropoffLng == nil) {
		return &ValidationError{Field: "dropoff", Msg: "lat and lng must be set together"}
	}
	d, hasDropoff := j.Dropoff()
	if hasDropoff && !d.Valid() {
		return &ValidationError{Field: "dropoff", Msg: "valid coordinates required"}
	}
	if j.RoleNeeded == RoleTowTruck && !hasDropoff {
		return &ValidationError{Field: "dropoff", Msg: "required for tow truck jobs"}
	}
	if j.PayoutEstimate < 0 {
		return &ValidationError{Field: "payout_estimate", Msg: "must not be negative"}
	}
	j.TowTruckTypeNeeded = strings.TrimSpace(j.TowTruckTypeNeeded)
	j.VehicleType = strings.TrimSpace(j.VehicleType)
	return nil
}
